package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/outbox"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var _ outbox.Repository = (*OutboxRepo)(nil)

// OutboxRepo stores flip events next to the flips themselves. Rows move
// CREATED -> IN_PROGRESS -> SUCCESS; relayed rows are purged after retention.
type OutboxRepo struct{ db *DB }

func NewOutboxRepo(db *DB) *OutboxRepo { return &OutboxRepo{db: db} }

const outboxCols = `idempotency_key, kind, data, status, created_at, updated_at, traceparent, tracestate, baggage`

const (
	qOutboxInsert = `
INSERT INTO outbox (idempotency_key, kind, data, traceparent, tracestate, baggage)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (idempotency_key) DO NOTHING;`

	// Stale IN_PROGRESS rows belong to a relay that died mid-batch.
	qOutboxClaim = `
UPDATE outbox o
SET status = 'IN_PROGRESS', updated_at = now()
WHERE o.idempotency_key IN (
    SELECT idempotency_key
    FROM outbox
    WHERE status = 'CREATED'
       OR (status = 'IN_PROGRESS' AND updated_at < now() - $2::interval)
    ORDER BY created_at
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + outboxCols + `;`

	qOutboxDone = `
UPDATE outbox
SET status = 'SUCCESS', updated_at = now()
WHERE idempotency_key = ANY($1) AND status = 'IN_PROGRESS';`

	qOutboxBacklog = `
SELECT count(*), min(created_at)
FROM outbox
WHERE status <> 'SUCCESS';`

	qOutboxPurge = `
DELETE FROM outbox
WHERE status = 'SUCCESS' AND updated_at < $1;`
)

type outboxRow struct {
	IdempotencyKey string    `db:"idempotency_key"`
	Kind           int       `db:"kind"`
	Data           []byte    `db:"data"`
	Status         string    `db:"status"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
	Traceparent    string    `db:"traceparent"`
	Tracestate     string    `db:"tracestate"`
	Baggage        string    `db:"baggage"`
}

func (o outboxRow) message() outbox.Message {
	return outbox.Message{
		IdempotencyKey: o.IdempotencyKey,
		Kind:           outbox.Kind(o.Kind),
		Data:           o.Data,
		Status:         outbox.Status(o.Status),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		Traceparent:    o.Traceparent,
		Tracestate:     o.Tracestate,
		Baggage:        o.Baggage,
	}
}

// Enqueue stores a message together with the caller's trace context. It joins
// the transaction carried by ctx, if any.
func (r *OutboxRepo) Enqueue(ctx context.Context, key string, kind outbox.Kind, data []byte) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tc := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, tc)

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qOutboxInsert,
		key, int(kind), data, tc["traceparent"], tc["tracestate"], tc["baggage"]); err != nil {
		return fmt.Errorf("outbox enqueue %s: %w", key, err)
	}
	return nil
}

func (r *OutboxRepo) PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]outbox.Message, error) {
	if batch <= 0 {
		return nil, errors.New("outbox pick: batch must be positive")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qOutboxClaim, batch, inProgressTTL)
	if err != nil {
		return nil, fmt.Errorf("outbox pick: %w", err)
	}
	claimed, err := pgx.CollectRows(rows, pgx.RowToStructByName[outboxRow])
	if err != nil {
		return nil, fmt.Errorf("outbox pick: %w", err)
	}

	out := make([]outbox.Message, 0, len(claimed))
	for _, row := range claimed {
		out = append(out, row.message())
	}
	// RETURNING order is unspecified; relay oldest first.
	slices.SortStableFunc(out, func(a, b outbox.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r *OutboxRepo) MarkSuccess(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.Pool.Exec(ctx, qOutboxDone, keys); err != nil {
		return fmt.Errorf("outbox mark success: %w", err)
	}
	return nil
}

func (r *OutboxRepo) Backlog(ctx context.Context) (outbox.Backlog, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var b outbox.Backlog
	if err := r.db.Pool.QueryRow(ctx, qOutboxBacklog).Scan(&b.Pending, &b.Oldest); err != nil {
		return outbox.Backlog{}, fmt.Errorf("outbox backlog: %w", err)
	}
	return b, nil
}

// Purge deletes relayed messages last touched before the cutoff.
func (r *OutboxRepo) Purge(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Pool.Exec(ctx, qOutboxPurge, before)
	if err != nil {
		return 0, fmt.Errorf("outbox purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
