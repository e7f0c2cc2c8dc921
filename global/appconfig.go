package global

import "time"

const (
	BusRedis  = "redis"
	BusNats   = "nats"
	BusMemory = "memory"

	NotifyRedis = "redis"
	NotifyKafka = "kafka"
	NotifyNone  = "none"
)

type AppConfig struct {
	Node   NodeConfig   `mapstructure:"node"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	GRPC   GRPCConfig   `mapstructure:"grpc"`
	Log    LogConfig    `mapstructure:"log"`
	JWT    JWTConfig    `mapstructure:"jwt"`
	Mongo  MongoConfig  `mapstructure:"mongo"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Bus    BusConfig    `mapstructure:"bus"`
	Notify NotifyConfig `mapstructure:"notify"`
	Cache  CacheConfig  `mapstructure:"cache"`
	WS     WSConfig     `mapstructure:"ws"`
}

type NodeConfig struct {
	ID        string `mapstructure:"id"`        // 网关节点ID
	Snowflake int64  `mapstructure:"snowflake"` // 雪花节点号 0~1023
}

type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"` // 健康检查
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Alg    string        `mapstructure:"alg"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	MaxPoolSize int    `mapstructure:"max_pool_size"`
	MaxRetry    int    `mapstructure:"max_retry"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type BusConfig struct {
	Driver       string        `mapstructure:"driver"` // redis / nats / memory
	NatsServers  []string      `mapstructure:"nats_servers"`
	NatsUser     string        `mapstructure:"nats_user"`
	NatsPassword string        `mapstructure:"nats_password"`
	ReconnectMin time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
}

type NotifyConfig struct {
	Driver       string   `mapstructure:"driver"` // redis / kafka / none
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
	KafkaVersion string   `mapstructure:"kafka_version"`
	// 启动时建 topic / 扩分区
	KafkaAutoCreate  bool  `mapstructure:"kafka_auto_create"`
	KafkaPartitions  int32 `mapstructure:"kafka_partitions"`
	KafkaReplication int16 `mapstructure:"kafka_replication"`
}

type CacheConfig struct {
	SessionTTL  time.Duration `mapstructure:"session_ttl"`
	TypingTTL   time.Duration `mapstructure:"typing_ttl"`
	MessagesTTL time.Duration `mapstructure:"messages_ttl"`
	MessagesMax int           `mapstructure:"messages_max"`
}

type WSConfig struct {
	SendQueue       int           `mapstructure:"send_queue"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
}
