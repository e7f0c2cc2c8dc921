package notify

import (
	"context"
	"time"

	"PChatGate/tools/errs"

	"github.com/Shopify/sarama"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Version string // e.g. "2.8.0"
	Retries int
}

// BuildProducerConfig 同步生产者配置；按接收方做 key，同一用户的通知落在同一分区
func BuildProducerConfig(c KafkaConfig) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, errs.ErrInvalidInput.WrapMsg("bad kafka version", "version", c.Version)
		}
		cfg.Version = v
	}
	cfg.ClientID = "pchatgate"
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	if c.Retries <= 0 {
		c.Retries = 1
	}
	cfg.Producer.Retry.Max = c.Retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Net.DialTimeout = 5 * time.Second
	cfg.Net.WriteTimeout = 5 * time.Second
	return cfg, nil
}

// KafkaNotifier writes notifications to a topic for the relay's consumer group.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaNotifier(c KafkaConfig) (*KafkaNotifier, error) {
	if len(c.Brokers) == 0 || c.Topic == "" {
		return nil, errs.ErrInvalidInput.WrapMsg("kafka brokers and topic required")
	}
	cfg, err := BuildProducerConfig(c)
	if err != nil {
		return nil, err
	}
	p, err := sarama.NewSyncProducer(c.Brokers, cfg)
	if err != nil {
		return nil, errs.Transient(err, "kafka producer", "brokers", c.Brokers)
	}
	return NewKafkaNotifierWithProducer(p, c.Topic), nil
}

func NewKafkaNotifierWithProducer(p sarama.SyncProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: p, topic: topic}
}

func (k *KafkaNotifier) NotifyMessage(ctx context.Context, n MessageNotification) error {
	if err := ctx.Err(); err != nil {
		return errs.Transient(err, "notify cancelled")
	}
	b, err := marshal(n)
	if err != nil {
		return errs.WrapMsg(err, "marshal notification")
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(n.UserID),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte("message")},
		},
	})
	if err != nil {
		return errs.Transient(err, "kafka send", "topic", k.topic)
	}
	return nil
}

func (k *KafkaNotifier) Close() error {
	return k.producer.Close()
}
