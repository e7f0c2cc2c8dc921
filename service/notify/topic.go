package notify

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"PChatGate/logger"
	"PChatGate/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// TopicSpec 通知 topic 的期望形态；分区只增不减
type TopicSpec struct {
	Partitions        int32
	ReplicationFactor int16
	Retention         time.Duration
}

func (s TopicSpec) detail() *sarama.TopicDetail {
	if s.Partitions <= 0 {
		s.Partitions = 3
	}
	if s.ReplicationFactor <= 0 {
		s.ReplicationFactor = 1
	}
	if s.Retention <= 0 {
		s.Retention = 7 * 24 * time.Hour
	}
	// min.insync.replicas 跟随副本数
	minISR := "1"
	if s.ReplicationFactor > 1 {
		minISR = strconv.Itoa(int(s.ReplicationFactor) - 1)
	}
	retention := strconv.FormatInt(s.Retention.Milliseconds(), 10)
	return &sarama.TopicDetail{
		NumPartitions:     s.Partitions,
		ReplicationFactor: s.ReplicationFactor,
		ConfigEntries: map[string]*string{
			"cleanup.policy":                 ptr("delete"),
			"retention.ms":                   &retention,
			"min.insync.replicas":            &minISR,
			"unclean.leader.election.enable": ptr("false"),
		},
	}
}

// EnsureTopic creates the notification topic when missing and grows its
// partitions when fewer than requested. Safe to run from every instance.
func EnsureTopic(c KafkaConfig, spec TopicSpec) error {
	cfg, err := BuildProducerConfig(c)
	if err != nil {
		return err
	}
	if cfg.Version == (sarama.KafkaVersion{}) || !cfg.Version.IsAtLeast(sarama.V2_1_0_0) {
		cfg.Version = sarama.V2_1_0_0
	}
	cfg.Admin.Timeout = 15 * time.Second

	admin, err := sarama.NewClusterAdmin(c.Brokers, cfg)
	if err != nil {
		return errs.Transient(err, "kafka cluster admin", "brokers", c.Brokers)
	}
	defer func() {
		if e := admin.Close(); e != nil {
			logger.Warn("close cluster admin", zap.Error(e))
		}
	}()
	return ensureTopic(admin, c.Topic, spec)
}

func ensureTopic(admin sarama.ClusterAdmin, topic string, spec TopicSpec) error {
	existing, err := admin.ListTopics()
	if err != nil {
		return errs.Transient(err, "list topics")
	}
	want := spec.detail()
	cur, ok := existing[topic]
	if !ok {
		if err := admin.CreateTopic(topic, want, false); err != nil && !isTopicExistsErr(err) {
			return errs.Transient(err, "create topic", "topic", topic)
		}
		logger.Info("kafka topic created", zap.String("topic", topic), zap.Int32("partitions", want.NumPartitions))
		return nil
	}
	if cur.NumPartitions < want.NumPartitions {
		if err := admin.CreatePartitions(topic, want.NumPartitions, nil, false); err != nil {
			return errs.Transient(err, "expand partitions", "topic", topic, "from", cur.NumPartitions, "to", want.NumPartitions)
		}
		logger.Info("kafka topic partitions expanded", zap.String("topic", topic),
			zap.Int32("from", cur.NumPartitions), zap.Int32("to", want.NumPartitions))
	}
	return nil
}

// broker 版本不同，有的只返回文本
func isTopicExistsErr(err error) bool {
	if errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return true
	}
	var te *sarama.TopicError
	if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

func ptr[T any](v T) *T { return &v }
