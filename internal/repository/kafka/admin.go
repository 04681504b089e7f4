package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrTopicNotReady = errors.New("topic not ready")

type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	// MaxWait bounds the wait for every partition to have a leader.
	MaxWait time.Duration
}

func (s *TopicSpec) withDefaults() {
	if s.NumPartitions <= 0 {
		s.NumPartitions = 1
	}
	if s.ReplicationFactor <= 0 {
		s.ReplicationFactor = 1
	}
	if s.MaxWait <= 0 {
		s.MaxWait = 5 * time.Second
	}
}

// EnsureTopic creates the topic through the cluster controller, if missing,
// and waits until all its partitions have a leader.
func EnsureTopic(ctx context.Context, brokers []string, spec TopicSpec, log *zap.Logger) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	if log == nil {
		log = zap.NewNop()
	}
	spec.withDefaults()
	log = log.With(zap.String("topic", spec.Name))

	if err := createTopic(ctx, brokers[0], spec); err != nil {
		return err
	}
	if err := waitLeaders(ctx, brokers[0], spec.Name, spec.MaxWait); err != nil {
		return err
	}
	log.Info("topic ready", zap.Int("partitions", spec.NumPartitions))
	return nil
}

func createTopic(ctx context.Context, broker string, spec TopicSpec) error {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("dial %s: %w", broker, err)
	}
	defer conn.Close()

	ctrl, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	cc, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer cc.Close()

	err = cc.CreateTopics(kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     spec.NumPartitions,
		ReplicationFactor: spec.ReplicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", spec.Name, err)
	}
	return nil
}

func waitLeaders(ctx context.Context, broker, topic string, maxWait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	var bo fetchBackoff
	for {
		if ready, err := partitionsLed(ctx, broker, topic); err == nil && ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrTopicNotReady, topic)
		case <-time.After(bo.next()):
		}
	}
}

func partitionsLed(ctx context.Context, broker, topic string) (bool, error) {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	ps, err := conn.ReadPartitions(topic)
	if err != nil || len(ps) == 0 {
		return false, err
	}
	for _, p := range ps {
		if p.Leader.ID == -1 {
			return false, nil
		}
	}
	return true, nil
}

// BrokerProbe reports whether the first reachable broker accepts connections.
func BrokerProbe(brokers []string) func(context.Context) error {
	return func(ctx context.Context) error {
		var last error = errors.New("no kafka brokers configured")
		for _, b := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", b)
			if err == nil {
				return conn.Close()
			}
			last = err
		}
		return last
	}
}
