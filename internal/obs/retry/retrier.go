package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Backoff interface {
	Next(attempt int) time.Duration
}

// ExpoJitter waits Base*2^attempt, capped at Max, scaled by a random factor
// in [1-Jitter, 1+Jitter].
type ExpoJitter struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (b ExpoJitter) Next(attempt int) time.Duration {
	d := float64(b.Base) * math.Pow(2, float64(max(attempt, 0)))
	if b.Max > 0 {
		d = math.Min(d, float64(b.Max))
	}
	if b.Jitter > 0 {
		d *= 1 + (rand.Float64()*2-1)*b.Jitter
	}
	return time.Duration(d)
}

type Policy struct {
	Name      string
	Attempts  int
	Backoff   Backoff
	Retryable func(error) bool
	// Hint lets the failed call dictate the next wait, e.g. a Retry-After header.
	// The hinted wait is capped by MaxHint when MaxHint is set.
	Hint      func(error) (time.Duration, bool)
	MaxHint   time.Duration
	OnAttempt func(attempt int, err error)
	OnExhaust func(lastErr error)
}

func (p Policy) wait(attempt int, err error) time.Duration {
	if p.Hint != nil {
		if d, ok := p.Hint(err); ok && d >= 0 {
			if p.MaxHint > 0 && d > p.MaxHint {
				d = p.MaxHint
			}
			return d
		}
	}
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff.Next(attempt)
}

func (p Policy) name() string {
	if p.Name == "" {
		return "default"
	}
	return p.Name
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return err != nil
	}
	return p.Retryable(err)
}

var (
	retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Calls made inside retry.Do, including the first.",
	}, []string{"name"})
	retryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_outcomes_total",
		Help: "Finished retry.Do calls by outcome: ok, permanent, exhausted, canceled.",
	}, []string{"name", "outcome"})
	retryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retry_duration_seconds",
		Help:    "Total time spent inside retry.Do.",
		Buckets: prometheus.DefBuckets,
	}, []string{"name"})
)

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends. A wait interrupted by ctx returns ctx.Err().
func Do(ctx context.Context, fn func() error, p Policy) (err error) {
	name := p.name()
	attempts := max(p.Attempts, 1)
	span := trace.SpanFromContext(ctx)

	start := time.Now()
	outcome := "ok"
	defer func() {
		retryOutcomes.WithLabelValues(name, outcome).Inc()
		retryLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	for i := 0; ; i++ {
		retryAttempts.WithLabelValues(name).Inc()
		if err = fn(); err == nil {
			return nil
		}
		if p.OnAttempt != nil {
			p.OnAttempt(i, err)
		}
		span.AddEvent("retry.attempt", trace.WithAttributes(
			attribute.String("retry.name", name),
			attribute.Int("retry.attempt", i+1),
			attribute.String("retry.error", err.Error()),
		))

		switch {
		case !p.retryable(err):
			outcome = "permanent"
		case i == attempts-1:
			outcome = "exhausted"
		}
		if outcome != "ok" {
			if p.OnExhaust != nil {
				p.OnExhaust(err)
			}
			return err
		}

		t := time.NewTimer(p.wait(i, err))
		select {
		case <-ctx.Done():
			t.Stop()
			outcome = "canceled"
			return ctx.Err()
		case <-t.C:
		}
	}
}
