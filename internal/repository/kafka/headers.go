package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// HeaderEventType names the event carried by a message.
const HeaderEventType = "lastbeat-event"

// headerCarrier exposes message headers to the otel propagator in both
// directions. Set replaces an existing key.
type headerCarrier struct{ hs *[]kafka.Header }

func (c headerCarrier) Get(k string) string {
	for _, h := range *c.hs {
		if h.Key == k {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(k, v string) {
	for i, h := range *c.hs {
		if h.Key == k {
			(*c.hs)[i].Value = []byte(v)
			return
		}
	}
	*c.hs = append(*c.hs, kafka.Header{Key: k, Value: []byte(v)})
}

func (c headerCarrier) Keys() []string {
	ks := make([]string, 0, len(*c.hs))
	for _, h := range *c.hs {
		ks = append(ks, h.Key)
	}
	return ks
}

// outgoingHeaders tags a message with its event type and the trace in ctx.
func outgoingHeaders(ctx context.Context, eventType string) []kafka.Header {
	hs := make([]kafka.Header, 0, 4)
	c := headerCarrier{hs: &hs}
	if eventType != "" {
		c.Set(HeaderEventType, eventType)
	}
	otel.GetTextMapPropagator().Inject(ctx, c)
	return hs
}

// incomingContext continues the producer's trace from msg headers.
func incomingContext(ctx context.Context, msg kafka.Message) context.Context {
	hs := msg.Headers
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier{hs: &hs})
}

func eventType(msg kafka.Message) string {
	hs := msg.Headers
	return headerCarrier{hs: &hs}.Get(HeaderEventType)
}
