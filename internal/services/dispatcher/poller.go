package dispatcher

import (
	"context"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/clock"
	"github.com/NordCoder/Lastbeat/internal/domain/flip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var mRecovered = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dispatcher_flips_recovered_total",
	Help: "Flips dispatched by the fallback poller.",
})

type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// MinAge leaves recent flips to the event stream.
	MinAge time.Duration `mapstructure:"min_age"`
	Batch  int           `mapstructure:"batch"`
}

// Poller dispatches flips that stayed unclaimed, e.g. because their event was lost.
type Poller struct {
	Log   *zap.Logger
	Flips flip.Repo
	D     *Dispatcher
	Clock clock.Clock
	Cfg   PollerConfig
}

func (p *Poller) Tick(ctx context.Context) int {
	now := p.Clock.Now()
	ids, err := p.Flips.FetchUnprocessed(ctx, now.Add(-p.Cfg.MinAge), p.Cfg.Batch)
	if err != nil {
		p.Log.Warn("fetch unprocessed flips", zap.Error(err))
		return 0
	}
	n := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		sum, err := p.D.Dispatch(ctx, id)
		if err != nil {
			p.Log.Warn("dispatch stale flip", zap.Int64("flip_id", id), zap.Error(err))
			continue
		}
		if sum.Claimed {
			n++
		}
	}
	if n > 0 {
		mRecovered.Add(float64(n))
		p.Log.Info("recovered unprocessed flips", zap.Int("count", n))
	}
	return n
}

func (p *Poller) Run(ctx context.Context) error {
	if p.Clock == nil {
		p.Clock = clock.System{}
	}
	if p.Cfg.Interval <= 0 {
		p.Cfg.Interval = 30 * time.Second
	}
	if p.Cfg.Batch <= 0 {
		p.Cfg.Batch = 100
	}
	t := time.NewTicker(p.Cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.Tick(ctx)
		}
	}
}
