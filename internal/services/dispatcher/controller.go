package dispatcher

import (
	"context"
	"errors"

	domainkafka "github.com/NordCoder/Lastbeat/internal/domain/kafka"
	kafkax "github.com/NordCoder/Lastbeat/internal/repository/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var mConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatcher_events_consumed_total",
	Help: "FlipRecorded events consumed, by result.",
}, []string{"result"})

// Controller feeds flip events from Kafka into the dispatcher.
type Controller struct {
	Log *zap.Logger
	Sub *kafkax.Consumer
	D   *Dispatcher
}

func (c *Controller) Run(ctx context.Context) error {
	handler := kafkax.JSONHandler(c.Handle, func(err error) {
		mConsumed.WithLabelValues("bad").Inc()
		c.Log.Warn("flip event: undecodable", zap.Error(err))
	})
	if err := c.Sub.Consume(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
		c.Log.Warn("kafka consume", zap.Error(err))
		return err
	}
	return ctx.Err()
}

// Handle dispatches one event. The consumer commits the offset even when an
// error is returned; a flip left unclaimed is picked up by the fallback poller.
func (c *Controller) Handle(ctx context.Context, _ []byte, ev domainkafka.FlipRecorded) error {
	if ev.FlipID <= 0 {
		mConsumed.WithLabelValues("invalid").Inc()
		c.Log.Warn("flip event: invalid flip_id", zap.Int64("flip_id", ev.FlipID))
		return nil
	}
	sum, err := c.D.Dispatch(ctx, ev.FlipID)
	if err != nil {
		mConsumed.WithLabelValues("error").Inc()
		return err
	}
	if !sum.Claimed {
		mConsumed.WithLabelValues("duplicate").Inc()
		return nil
	}
	mConsumed.WithLabelValues("ok").Inc()
	return nil
}
