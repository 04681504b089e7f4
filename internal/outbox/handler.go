package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/kafka"
	"github.com/NordCoder/Lastbeat/internal/domain/outbox"
	"github.com/NordCoder/Lastbeat/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	handlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_handler_latency_seconds",
		Help:    "Latency of outbox handlers including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	handlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_handler_errors_total",
		Help: "Outbox messages that failed after retries.",
	}, []string{"kind"})
)

var ErrUnknownKind = errors.New("unknown outbox kind")

// Router maps outbox kinds to handlers. Every handler runs under its own span
// and the router's retry policy.
type Router struct {
	pol    retry.Policy
	routes map[outbox.Kind]outbox.KindHandler
}

func NewRouter(pol retry.Policy) *Router {
	return &Router{pol: pol, routes: map[outbox.Kind]outbox.KindHandler{}}
}

// Handle registers h for kind; name labels its metrics and spans.
func (r *Router) Handle(kind outbox.Kind, name string, h outbox.KindHandler) *Router {
	pol := r.pol
	if pol.Name == "" {
		pol.Name = "outbox_" + name
	}
	r.routes[kind] = instrument(name, h, pol)
	return r
}

// Global adapts the router to the runner.
func (r *Router) Global() outbox.GlobalHandler {
	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		h, ok := r.routes[kind]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
		}
		return h, nil
	}
}

func instrument(name string, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	tr := otel.Tracer("outbox.handler")
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.handle "+name,
			trace.WithAttributes(attribute.Int("outbox.payload_bytes", len(data))))
		defer span.End()

		start := time.Now()
		err := retry.Do(ctx, func() error { return h(ctx, data) }, pol)
		handlerLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			handlerErrors.WithLabelValues(name).Inc()
		}
		return err
	}
}

// PublishFlipRecorded decodes a stored flip event and hands it to pub.
func PublishFlipRecorded(pub kafka.FlipEvents) outbox.KindHandler {
	return func(ctx context.Context, data []byte) error {
		var ev kafka.FlipRecorded
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("unmarshal flip payload: %w", err)
		}
		return pub.PublishFlipRecorded(ctx, ev)
	}
}

// MakeGlobalOutboxHandler routes every kind the recorder enqueues.
func MakeGlobalOutboxHandler(pub kafka.FlipEvents, pol retry.Policy) outbox.GlobalHandler {
	return NewRouter(pol).
		Handle(outbox.KindFlipRecorded, "flip_recorded", PublishFlipRecorded(pub)).
		Global()
}
