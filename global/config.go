package global

import (
	"fmt"
	"strings"

	"PChatGate/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "PCHAT"

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.id", "gateway-1")
	v.SetDefault("node.snowflake", 1)
	v.SetDefault("http.addr", ":4000")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("grpc.addr", ":50052")
	v.SetDefault("log.level", "debug")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("jwt.ttl", "2h")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "chat")
	v.SetDefault("mongo.max_pool_size", 20)
	v.SetDefault("mongo.max_retry", 3)
	v.SetDefault("mongo.username", "")
	v.SetDefault("mongo.password", "")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 0)

	v.SetDefault("bus.driver", BusRedis)
	v.SetDefault("bus.nats_servers", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("bus.nats_user", "")
	v.SetDefault("bus.nats_password", "")
	v.SetDefault("bus.reconnect_min", "200ms")
	v.SetDefault("bus.reconnect_max", "5s")

	v.SetDefault("notify.driver", NotifyRedis)
	v.SetDefault("notify.kafka_brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("notify.kafka_topic", "notification.message")
	v.SetDefault("notify.kafka_version", "2.1.0")
	v.SetDefault("notify.kafka_auto_create", false)
	v.SetDefault("notify.kafka_partitions", 3)
	v.SetDefault("notify.kafka_replication", 1)

	v.SetDefault("cache.session_ttl", "24h")
	v.SetDefault("cache.typing_ttl", "5s")
	v.SetDefault("cache.messages_ttl", "1h")
	v.SetDefault("cache.messages_max", 50)

	v.SetDefault("ws.send_queue", 256)
	v.SetDefault("ws.ping_interval", "25s")
	v.SetDefault("ws.pong_timeout", "60s")
	v.SetDefault("ws.max_message_bytes", 64*1024)
}

// Load reads .env (if any), config.yaml (if any) and PCHAT_* env vars, in that
// order of increasing precedence.
func Load(paths ...string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalizeLists(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// env vars arrive as one comma separated string
func normalizeLists(cfg *AppConfig) {
	cfg.HTTP.AllowedOrigins = splitList(cfg.HTTP.AllowedOrigins)
	cfg.Bus.NatsServers = splitList(cfg.Bus.NatsServers)
	cfg.Notify.KafkaBrokers = splitList(cfg.Notify.KafkaBrokers)
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return fmt.Errorf("jwt.secret is required (env %s_JWT_SECRET)", EnvPrefix)
	}
	switch c.Bus.Driver {
	case BusRedis, BusMemory:
	case BusNats:
		if len(c.Bus.NatsServers) == 0 {
			return fmt.Errorf("bus.nats_servers is required for the nats driver")
		}
	default:
		return fmt.Errorf("unknown bus.driver %q", c.Bus.Driver)
	}
	switch c.Notify.Driver {
	case NotifyRedis, NotifyNone:
	case NotifyKafka:
		if len(c.Notify.KafkaBrokers) == 0 || c.Notify.KafkaTopic == "" {
			return fmt.Errorf("notify.kafka_brokers and notify.kafka_topic are required for the kafka driver")
		}
	default:
		return fmt.Errorf("unknown notify.driver %q", c.Notify.Driver)
	}
	if c.Cache.MessagesMax <= 0 {
		return fmt.Errorf("cache.messages_max must be positive")
	}
	if c.Cache.TypingTTL <= 0 || c.Cache.SessionTTL <= 0 || c.Cache.MessagesTTL <= 0 {
		return fmt.Errorf("cache ttls must be positive")
	}
	return nil
}
