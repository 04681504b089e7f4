package kafka

import (
	"context"

	"github.com/NordCoder/Lastbeat/internal/domain/kafka"
)

var _ kafka.FlipEvents = (*FlipEventsKafka)(nil)

// FlipEventsKafka publishes flip events keyed by check, so flips of one check
// are consumed in the order they were recorded.
type FlipEventsKafka struct {
	p *Producer
}

func NewFlipEventsKafka(p *Producer) *FlipEventsKafka { return &FlipEventsKafka{p: p} }

func (e *FlipEventsKafka) PublishFlipRecorded(ctx context.Context, ev kafka.FlipRecorded) error {
	return e.p.Publish(ctx, keyFromID(ev.CheckID), EventFlipRecorded, ev)
}
