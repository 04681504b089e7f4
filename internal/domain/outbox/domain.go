// Package outbox describes events stored in the same transaction as the state
// change they announce, and relayed to Kafka afterwards.
package outbox

import (
	"context"
	"time"
)

type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
)

// Kind selects the relay handler. Values are stored, never renumber them.
type Kind int

const (
	KindFlipRecorded Kind = 1
)

// Message is one stored event. The trace fields hold the W3C context of the
// transaction that enqueued it, so the relay continues that trace.
type Message struct {
	IdempotencyKey string
	Kind           Kind
	Data           []byte
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Traceparent    string
	Tracestate     string
	Baggage        string
}

// Backlog summarizes messages not yet relayed.
type Backlog struct {
	Pending int
	Oldest  *time.Time
}

// Lag is how long the oldest pending message has waited at now.
func (b Backlog) Lag(now time.Time) time.Duration {
	if b.Oldest == nil {
		return 0
	}
	return now.Sub(*b.Oldest)
}

type Repository interface {
	// Enqueue ignores a key that is already stored. It joins the transaction in ctx.
	Enqueue(ctx context.Context, key string, kind Kind, data []byte) error
	// PickBatch claims up to batch created messages, plus in-progress ones
	// untouched for inProgressTTL.
	PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]Message, error)
	MarkSuccess(ctx context.Context, keys []string) error
	Backlog(ctx context.Context) (Backlog, error)
	// Purge drops relayed messages last updated before the cutoff.
	Purge(ctx context.Context, before time.Time) (int64, error)
}

type KindHandler func(ctx context.Context, data []byte) error

type GlobalHandler func(kind Kind) (KindHandler, error)
