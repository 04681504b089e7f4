package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/outbox"
	"github.com/NordCoder/Lastbeat/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	mPicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_picked_total", Help: "Messages picked into processing.",
	})
	mOk = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_processed_ok_total", Help: "Messages processed successfully.",
	})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_processed_err_total", Help: "Handler errors.",
	})
	mTickDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "outbox_tick_duration_seconds", Help: "Tick duration.",
		Buckets: prometheus.DefBuckets,
	})
	mBatchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_last_batch_size", Help: "Size of last picked batch.",
	})
	mPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_pending_messages", Help: "Messages not yet relayed.",
	})
	mLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_lag_seconds", Help: "Age of the oldest message not yet relayed.",
	})
	mPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_purged_total", Help: "Relayed messages deleted after retention.",
	})
)

type Config struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	WaitTime      time.Duration `mapstructure:"wait_time"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
	// Relayed messages older than Retention are deleted every PurgeEvery.
	Retention  time.Duration `mapstructure:"retention"`
	PurgeEvery time.Duration `mapstructure:"purge_every"`
}

type Runner struct {
	log      *zap.Logger
	repo     outbox.Repository
	dispatch outbox.GlobalHandler
	cfg      Config
}

func NewOutboxRunner(log *zap.Logger, repo outbox.Repository, dispatch outbox.GlobalHandler, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = time.Second
	}
	if cfg.InProgressTTL <= 0 {
		cfg.InProgressTTL = 30 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.PurgeEvery <= 0 {
		cfg.PurgeEvery = 10 * time.Minute
	}
	return &Runner{log: log.With(zap.String("component", "outbox")), repo: repo, dispatch: dispatch, cfg: cfg}
}

// Run blocks until ctx is done and every worker has returned.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go r.worker(ctx, &wg)
	}
	wg.Add(1)
	go r.janitor(ctx, &wg)
	wg.Wait()
	return nil
}

func (r *Runner) janitor(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(r.cfg.PurgeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Purge(ctx, time.Now())
		}
	}
}

// Purge deletes messages relayed more than Retention before now.
func (r *Runner) Purge(ctx context.Context, now time.Time) int64 {
	n, err := r.repo.Purge(ctx, now.Add(-r.cfg.Retention))
	if err != nil {
		r.log.Warn("outbox purge", zap.Error(err))
		return 0
	}
	mPurged.Add(float64(n))
	if n > 0 {
		r.log.Debug("outbox purged", zap.Int64("rows", n))
	}
	return n
}

func (r *Runner) worker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	r.log.Info("outbox worker started", zap.Duration("wait", r.cfg.WaitTime))

	ticker := time.NewTicker(r.cfg.WaitTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox worker stop")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick relays one batch. Messages whose handler fails stay IN_PROGRESS and are
// picked up again once their TTL lapses.
func (r *Runner) Tick(ctx context.Context) {
	t0 := time.Now()
	tr := otel.Tracer("outbox.runner")
	prop := otel.GetTextMapPropagator()

	ctxSpan, span := tr.Start(ctx, "outbox.tick")
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch.limit", r.cfg.BatchSize),
		attribute.String("in_progress_ttl", r.cfg.InProgressTTL.String()),
	)

	messages, err := r.repo.PickBatch(ctxSpan, r.cfg.BatchSize, r.cfg.InProgressTTL)
	if err != nil {
		span.RecordError(err)
		mErr.Inc()
		obs.WithTrace(ctxSpan, r.log).Error("outbox pick error", zap.Error(err))
		return
	}
	mPicked.Add(float64(len(messages)))
	mBatchSize.Set(float64(len(messages)))

	okKeys := make([]string, 0, len(messages))
	for _, m := range messages {
		parent := prop.Extract(ctx, propagation.MapCarrier{
			"traceparent": m.Traceparent,
			"tracestate":  m.Tracestate,
			"baggage":     m.Baggage,
		})
		msgCtx, msgSpan := tr.Start(parent, "outbox.dispatch",
			trace.WithAttributes(
				attribute.String("outbox.key", m.IdempotencyKey),
				attribute.Int("outbox.kind", int(m.Kind)),
			),
		)

		if r.handle(msgCtx, m) {
			okKeys = append(okKeys, m.IdempotencyKey)
			mOk.Inc()
		} else {
			mErr.Inc()
		}
		msgSpan.End()
	}

	if err := r.repo.MarkSuccess(ctxSpan, okKeys); err != nil {
		span.RecordError(err)
		mErr.Inc()
		obs.WithTrace(ctxSpan, r.log).Error("mark success error", zap.Error(err))
	}
	r.reportBacklog(ctxSpan)
	mTickDur.Observe(time.Since(t0).Seconds())
}

// reportBacklog exports how far the relay is behind. Flip notifications are
// late by at least this lag.
func (r *Runner) reportBacklog(ctx context.Context) {
	b, err := r.repo.Backlog(ctx)
	if err != nil {
		obs.WithTrace(ctx, r.log).Warn("outbox backlog", zap.Error(err))
		return
	}
	lag := b.Lag(time.Now())
	mPending.Set(float64(b.Pending))
	mLag.Set(lag.Seconds())
	if lag > r.cfg.InProgressTTL {
		obs.WithTrace(ctx, r.log).Warn("outbox relay behind", zap.Int("pending", b.Pending), zap.Duration("lag", lag))
	}
}

func (r *Runner) handle(ctx context.Context, m outbox.Message) bool {
	span := trace.SpanFromContext(ctx)
	handler, err := r.dispatch(m.Kind)
	if err != nil {
		span.RecordError(err)
		obs.WithTrace(ctx, r.log).Error("no handler for kind", zap.Int("kind", int(m.Kind)), zap.Error(err))
		return false
	}
	if err := handler(ctx, m.Data); err != nil {
		span.RecordError(err)
		obs.WithTrace(ctx, r.log).Error("handler error",
			zap.Int("kind", int(m.Kind)), zap.String("key", m.IdempotencyKey), zap.Error(err))
		return false
	}
	return true
}
