package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/domain/flip"
	"github.com/jackc/pgx/v5"
)

var _ flip.Repo = (*FlipRepoImpl)(nil)

type FlipRepoImpl struct{ db *DB }

func NewFlipRepo(db *DB) *FlipRepoImpl { return &FlipRepoImpl{db: db} }

const (
	qFlipInsert = `
INSERT INTO flips (check_id, created_at, old_status, new_status, reason)
VALUES ($1, $2, $3, $4, $5)
RETURNING id;`

	qFlipGet = `
SELECT id, check_id, created_at, old_status, new_status, reason, processed_at
FROM flips
WHERE id = $1;`

	qFlipClaim = `
UPDATE flips
SET processed_at = now()
WHERE id = $1 AND processed_at IS NULL
RETURNING id, check_id, created_at, old_status, new_status, reason, processed_at;`

	qFlipsByCheck = `
SELECT id, check_id, created_at, old_status, new_status, reason, processed_at
FROM flips
WHERE check_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;`

	qFlipsUnprocessed = `
SELECT id
FROM flips
WHERE processed_at IS NULL AND created_at < $1
ORDER BY created_at
LIMIT $2;`
)

func scanFlip(row pgx.Row, f *flip.Flip) error {
	var oldStatus, newStatus, reason string
	if err := row.Scan(&f.ID, &f.CheckID, &f.CreatedAt, &oldStatus, &newStatus, &reason, &f.ProcessedAt); err != nil {
		return err
	}
	f.OldStatus = check.Status(oldStatus)
	f.NewStatus = check.Status(newStatus)
	f.Reason = check.Reason(reason)
	return nil
}

func (r *FlipRepoImpl) Insert(ctx context.Context, f *flip.Flip) error {
	if f.OldStatus == f.NewStatus {
		return fmt.Errorf("insert flip: %w", ErrConstraint)
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.execQueryer(ctx).QueryRow(ctx, qFlipInsert,
		f.CheckID, f.CreatedAt, string(f.OldStatus), string(f.NewStatus), string(f.Reason),
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("insert flip: %w", mapErr(err))
	}
	return nil
}

func (r *FlipRepoImpl) Get(ctx context.Context, id int64) (*flip.Flip, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var f flip.Flip
	if err := scanFlip(r.db.execQueryer(ctx).QueryRow(ctx, qFlipGet, id), &f); err != nil {
		return nil, fmt.Errorf("get flip %d: %w", id, mapErr(err))
	}
	return &f, nil
}

func (r *FlipRepoImpl) Claim(ctx context.Context, id int64) (*flip.Flip, bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var f flip.Flip
	if err := scanFlip(r.db.execQueryer(ctx).QueryRow(ctx, qFlipClaim, id), &f); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claim flip: %w", err)
	}
	return &f, true, nil
}

func (r *FlipRepoImpl) ListByCheck(ctx context.Context, checkID int64, limit int) ([]*flip.Flip, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qFlipsByCheck, checkID, limit)
	if err != nil {
		return nil, fmt.Errorf("query flips: %w", err)
	}
	defer rows.Close()

	out := make([]*flip.Flip, 0, limit)
	for rows.Next() {
		var f flip.Flip
		if err := scanFlip(rows, &f); err != nil {
			return nil, fmt.Errorf("scan flip: %w", err)
		}
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *FlipRepoImpl) FetchUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qFlipsUnprocessed, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed flips: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan flip id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
