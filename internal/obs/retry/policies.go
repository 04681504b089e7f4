package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// OutboxPolicy retries relay publishes; the outbox row stays pending if it gives up.
func OutboxPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "outbox_publish",
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("outbox retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("outbox retries exhausted", zap.Error(err))
			}
		},
	}
}

type DeliveryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Base     time.Duration `mapstructure:"base"`
	Max      time.Duration `mapstructure:"max"`
	Jitter   float64       `mapstructure:"jitter"`
}

func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{Attempts: 4, Base: time.Second, Max: time.Minute, Jitter: 0.2}
}

// DeliveryPolicy retries a channel send. retryable and hint classify the send
// error; callers pass the domain's transient/retry-after helpers.
func DeliveryPolicy(cfg DeliveryConfig, retryable func(error) bool, hint func(error) (time.Duration, bool), log *zap.Logger) Policy {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	return Policy{
		Name:      "channel_send",
		Attempts:  cfg.Attempts,
		Backoff:   ExpoJitter{Base: cfg.Base, Max: cfg.Max, Jitter: cfg.Jitter},
		Retryable: retryable,
		Hint:      hint,
		MaxHint:   cfg.Max,
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Debug("send attempt failed", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
	}
}
