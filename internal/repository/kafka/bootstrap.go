package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type TopicConfig struct {
	Name              string `mapstructure:"name"`
	Partitions        int    `mapstructure:"partitions"`
	ReplicationFactor int    `mapstructure:"replication_factor"`
}

func (t TopicConfig) spec() TopicSpec {
	return TopicSpec{
		Name:              t.Name,
		NumPartitions:     t.Partitions,
		ReplicationFactor: t.ReplicationFactor,
		MaxWait:           5 * time.Second,
	}
}

// BootstrapConsumer makes sure the topic exists before joining the group.
// A broker that is not reachable yet is logged; the reader keeps retrying.
func BootstrapConsumer(ctx context.Context, cfg *ConsumerConfig, topic TopicConfig, logger *zap.Logger) *Consumer {
	topic.Name = cfg.Topic
	if err := EnsureTopic(ctx, cfg.Brokers, topic.spec(), logger); err != nil {
		logger.Warn("ensure topic failed", zap.String("topic", cfg.Topic), zap.Error(err))
	}
	return NewConsumer(cfg)
}

func BootstrapProducer(ctx context.Context, brokers []string, topic TopicConfig, logger *zap.Logger) *Producer {
	if err := EnsureTopic(ctx, brokers, topic.spec(), logger); err != nil {
		logger.Warn("ensure topic failed", zap.String("topic", topic.Name), zap.Error(err))
	}
	return NewProducer(brokers, topic.Name).WithLogger(logger)
}
