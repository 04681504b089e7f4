// Package dispatcher delivers alerting flips to the channels of their check.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/channel"
	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/domain/clock"
	"github.com/NordCoder/Lastbeat/internal/domain/flip"
	"github.com/NordCoder/Lastbeat/internal/domain/notification"
	"github.com/NordCoder/Lastbeat/internal/domain/ping"
	"github.com/NordCoder/Lastbeat/internal/obs"
	"github.com/NordCoder/Lastbeat/internal/obs/retry"
	"github.com/NordCoder/Lastbeat/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	mNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_notifications_total",
		Help: "Notifications recorded, by channel kind and outcome.",
	}, []string{"kind", "outcome"})
	mDisabled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_channels_disabled_total",
		Help: "Channels disabled after a permanent failure.",
	}, []string{"kind"})
	mDispatchDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatcher_flip_duration_seconds",
		Help:    "Time to deliver one flip to all channels.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)

const internalError = "Internal error while sending notification"

type Stores struct {
	Flips         flip.Repo
	Checks        check.Repo
	Pings         ping.Repo
	Channels      channel.Registry
	Notifications notification.Repo
}

type Config struct {
	// Concurrency bounds the channels delivered in parallel for one flip.
	Concurrency int
	// SendTimeout bounds a single send attempt.
	SendTimeout time.Duration
	// Budget bounds all attempts and backoff waits of one channel.
	Budget time.Duration
	Retry  retry.DeliveryConfig
}

type Dispatcher struct {
	st   Stores
	reg  *transport.Registry
	gate KindGate
	cfg  Config
	clk  clock.Clock
	log  *zap.Logger
}

func New(st Stores, reg *transport.Registry, gate KindGate, cfg Config, clk clock.Clock, log *zap.Logger) *Dispatcher {
	if gate == nil {
		gate = AllKinds{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 90 * time.Second
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = retry.DefaultDeliveryConfig()
	}
	return &Dispatcher{st: st, reg: reg, gate: gate, cfg: cfg, clk: clk, log: log.With(zap.String("component", "dispatcher"))}
}

// Summary describes the delivery of one flip.
type Summary struct {
	Claimed  bool
	Alerting bool
	Channels int
	Failed   int
}

// Dispatch claims the flip and delivers it to every enabled channel of its
// check, exactly one notification per channel. A flip claimed before is
// skipped, so redelivered events and the fallback poller never notify twice.
// Everything the fan-out needs is loaded before the claim: a store error
// leaves the flip unclaimed for the next delivery or poll.
func (d *Dispatcher) Dispatch(ctx context.Context, flipID int64) (Summary, error) {
	ctx, span := otel.Tracer("dispatcher").Start(ctx, "dispatcher.dispatch",
		trace.WithAttributes(attribute.Int64("flip.id", flipID)))
	defer span.End()
	start := time.Now()

	f, err := d.st.Flips.Get(ctx, flipID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return Summary{}, nil
	case err != nil:
		span.RecordError(err)
		return Summary{}, fmt.Errorf("get flip: %w", err)
	case f.ProcessedAt != nil:
		return Summary{}, nil
	}

	var (
		c     *check.Check
		chans []*channel.Channel
	)
	if f.Alerting() {
		if c, err = d.st.Checks.GetByID(ctx, f.CheckID); err != nil {
			span.RecordError(err)
			return Summary{}, fmt.Errorf("get check: %w", err)
		}
		if chans, err = d.st.Channels.ChannelsFor(ctx, c.ID); err != nil {
			span.RecordError(err)
			return Summary{}, fmt.Errorf("channels: %w", err)
		}
	}

	f, ok, err := d.st.Flips.Claim(ctx, flipID)
	if err != nil {
		span.RecordError(err)
		return Summary{}, fmt.Errorf("claim flip: %w", err)
	}
	if !ok {
		return Summary{}, nil
	}
	sum := Summary{Claimed: true, Alerting: f.Alerting(), Channels: len(chans)}
	if !sum.Alerting || len(chans) == 0 {
		return sum, nil
	}

	var last *ping.Ping
	if ps, err := d.st.Pings.ListByCheck(ctx, c.ID, 1); err == nil && len(ps) > 0 {
		last = ps[0]
	}

	failed := make([]bool, len(chans))
	p := pool.New().WithMaxGoroutines(d.cfg.Concurrency)
	for i, ch := range chans {
		n := transport.Notice{Check: c, Flip: f, Channel: ch, LastPing: last, Now: d.clk.Now()}
		p.Go(func() {
			failed[i] = !d.deliverIsolated(ctx, n)
		})
	}
	p.Wait()

	for _, bad := range failed {
		if bad {
			sum.Failed++
		}
	}
	span.SetAttributes(attribute.Int("channels", sum.Channels), attribute.Int("failed", sum.Failed))
	mDispatchDur.Observe(time.Since(start).Seconds())
	obs.WithTrace(ctx, d.log).Info("flip dispatched",
		zap.Int64("flip_id", f.ID),
		zap.Int64("check_id", c.ID),
		zap.String("status", string(f.NewStatus)),
		zap.Int("channels", sum.Channels),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

// deliverIsolated runs one channel's delivery. A panic is contained to the
// channel and recorded as its notification.
func (d *Dispatcher) deliverIsolated(ctx context.Context, n transport.Notice) bool {
	var ok bool
	var pc panics.Catcher
	pc.Try(func() { ok = d.deliver(ctx, n) })
	if r := pc.Recovered(); r != nil {
		obs.WithTrace(ctx, d.log).Error("channel delivery panicked",
			zap.Int64("channel_id", n.Channel.ID),
			zap.String("kind", string(n.Channel.Kind)),
			zap.Error(r.AsError()),
		)
		d.record(ctx, n, internalError)
		mNotifications.WithLabelValues(string(n.Channel.Kind), "panic").Inc()
		return false
	}
	return ok
}

type outcome struct {
	err     string
	disable bool
	label   string
}

func (d *Dispatcher) deliver(ctx context.Context, n transport.Notice) bool {
	ch := n.Channel
	ctx, span := otel.Tracer("dispatcher").Start(ctx, "dispatcher.deliver",
		trace.WithAttributes(
			attribute.Int64("channel.id", ch.ID),
			attribute.String("channel.kind", string(ch.Kind)),
		))
	defer span.End()

	out := d.attempt(ctx, n)
	if out.err != "" {
		span.SetAttributes(attribute.String("notification.error", out.err))
	}
	d.record(ctx, n, out.err)
	if out.disable {
		if err := d.st.Channels.Disable(context.WithoutCancel(ctx), ch.ID); err != nil {
			obs.WithTrace(ctx, d.log).Error("disable channel failed", zap.Int64("channel_id", ch.ID), zap.Error(err))
		} else {
			mDisabled.WithLabelValues(string(ch.Kind)).Inc()
			obs.WithTrace(ctx, d.log).Warn("channel disabled",
				zap.Int64("channel_id", ch.ID),
				zap.String("kind", string(ch.Kind)),
				zap.String("reason", out.err),
			)
		}
	}
	mNotifications.WithLabelValues(string(ch.Kind), out.label).Inc()
	return out.err == ""
}

func (d *Dispatcher) attempt(ctx context.Context, n transport.Notice) outcome {
	t, ok := d.reg.Get(n.Channel.Kind)
	if !ok {
		return outcome{err: fmt.Sprintf("Unsupported channel kind %q", n.Channel.Kind), label: "unsupported"}
	}
	if !d.gate.Enabled(t.Kind()) || !transport.Ready(t) {
		return outcome{err: transport.DisabledError(t), label: "disabled"}
	}

	msg, err := t.Render(n)
	if err != nil {
		if domain.IsConfigError(err) {
			return outcome{err: err.Error(), disable: true, label: "config_error"}
		}
		return outcome{err: err.Error(), label: "render_error"}
	}
	if msg == nil {
		return outcome{label: "noop"}
	}

	log := obs.WithTrace(ctx, d.log).With(zap.Int64("channel_id", n.Channel.ID), zap.String("kind", string(n.Channel.Kind)))
	pol := retry.DeliveryPolicy(d.cfg.Retry, domain.IsTransient, domain.RetryAfter, log)

	bctx, cancel := context.WithTimeout(ctx, d.cfg.Budget)
	defer cancel()
	var last error
	err = retry.Do(bctx, func() error {
		actx, cancel := context.WithTimeout(bctx, d.cfg.SendTimeout)
		defer cancel()
		last = t.Send(actx, msg)
		return last
	}, pol)

	switch {
	case err == nil:
		return outcome{label: "sent"}
	case domain.IsPermanent(err):
		return outcome{err: err.Error(), disable: true, label: "permanent"}
	case ctx.Err() != nil:
		return outcome{err: "Delivery interrupted", label: "interrupted"}
	case bctx.Err() != nil:
		return outcome{err: budgetError(d.cfg.Budget, last), label: "budget"}
	default:
		return outcome{err: err.Error(), label: "transient"}
	}
}

func budgetError(budget time.Duration, last error) string {
	msg := fmt.Sprintf("Delivery gave up after %s", budget)
	if last != nil {
		msg += ": " + last.Error()
	}
	return msg
}

// record stores the terminal outcome. It survives cancellation so a claimed
// flip always leaves its notifications behind.
func (d *Dispatcher) record(ctx context.Context, n transport.Notice, errMsg string) {
	ctx = context.WithoutCancel(ctx)
	rec := &notification.Notification{
		ChannelID:   n.Channel.ID,
		CheckID:     n.Check.ID,
		FlipID:      n.Flip.ID,
		CheckStatus: n.Flip.NewStatus,
		CreatedAt:   d.clk.Now(),
		Error:       errMsg,
	}
	if err := d.st.Notifications.Create(ctx, rec); err != nil {
		obs.WithTrace(ctx, d.log).Error("record notification failed",
			zap.Int64("channel_id", n.Channel.ID),
			zap.Int64("flip_id", n.Flip.ID),
			zap.Error(err),
		)
	}
}
