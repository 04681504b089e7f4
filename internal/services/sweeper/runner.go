package sweeper

import (
	"context"
	"time"

	config "github.com/NordCoder/Lastbeat/internal/config/sweeper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	mFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_checks_fetched_total", Help: "Due checks fetched from DB",
	})
	mFlipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_checks_down_total", Help: "Checks moved to down by the sweeper",
	})
	mInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_config_errors_total", Help: "Checks taken out of sweeping for an unusable schedule",
	})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_errors_total", Help: "Errors in sweeper loop",
	})
	mLoopDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "sweeper_loop_duration_seconds", Help: "Sweeper tick duration",
		Buckets: prometheus.DefBuckets,
	})
)

type Runner struct {
	Log *zap.Logger
	UC  *Usecase
	Cfg *config.SweepCfg
}

func New(log *zap.Logger, uc *Usecase, cfg *config.SweepCfg) *Runner {
	if cfg.Concurrency > 0 {
		uc.Concurrency = cfg.Concurrency
	}
	return &Runner{Log: log, UC: uc, Cfg: cfg}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	res, err := r.UC.Tick(ctx, r.Cfg.BatchLimit)
	if err != nil {
		mErr.Inc()
		r.Log.Warn("tick error", zap.Error(err))
	}
	if res.Fetched > 0 {
		mFetched.Add(float64(res.Fetched))
		mFlipped.Add(float64(res.Flipped))
		mInvalid.Add(float64(res.Invalid))
		if res.Errors > 0 {
			mErr.Add(float64(res.Errors))
		}
		r.Log.Debug("swept batch",
			zap.Int("fetched", res.Fetched),
			zap.Int("down", res.Flipped),
			zap.Int("skipped", res.Skipped),
			zap.Int("errors", res.Errors))
	}
	mLoopDur.Observe(time.Since(start).Seconds())
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Cfg.Tick)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}
