package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/schedule"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ check.Repo = (*CheckRepoImpl)(nil)

type CheckRepoImpl struct {
	db *DB
}

func NewCheckRepo(db *DB) *CheckRepoImpl { return &CheckRepoImpl{db: db} }

const checkColumns = `
id, code, project, name, tags, "desc", kind, timeout_sec, grace_sec, cron, tz,
status, last_ping, last_start, last_ping_failed, n_pings, alert_after, config_error,
created_at, updated_at`

const (
	qCheckByID   = `SELECT` + checkColumns + ` FROM checks WHERE id = $1;`
	qCheckByCode = `SELECT` + checkColumns + ` FROM checks WHERE code = $1;`

	qCheckLockByCode = `SELECT` + checkColumns + ` FROM checks WHERE code = $1 FOR UPDATE;`

	qCheckLockForSweep = `SELECT` + checkColumns + ` FROM checks WHERE id = $1 FOR UPDATE SKIP LOCKED;`

	qCheckUpdateState = `
UPDATE checks
SET status = $2,
    last_ping = $3,
    last_start = $4,
    last_ping_failed = $5,
    n_pings = $6,
    alert_after = $7,
    config_error = $8,
    updated_at = now()
WHERE id = $1;`

	qCheckFetchDue = `
SELECT id
FROM checks
WHERE status = 'up' AND alert_after IS NOT NULL AND alert_after <= $1
ORDER BY alert_after
LIMIT $2;`
)

func scanCheck(row pgx.Row, c *check.Check) error {
	var (
		kind       string
		timeoutSec int64
		graceSec   int64
		status     string
	)
	if err := row.Scan(
		&c.ID,
		&c.Code,
		&c.Project,
		&c.Name,
		&c.Tags,
		&c.Desc,
		&kind,
		&timeoutSec,
		&graceSec,
		&c.Schedule.Cron,
		&c.Schedule.TZ,
		&status,
		&c.LastPing,
		&c.LastStart,
		&c.LastPingFailed,
		&c.NPings,
		&c.AlertAfter,
		&c.ConfigError,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if err = mapErr(err); errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("scan check: %w", err)
	}
	c.Schedule.Kind = schedule.Kind(kind)
	c.Schedule.Timeout = time.Duration(timeoutSec) * time.Second
	c.Schedule.Grace = time.Duration(graceSec) * time.Second
	c.Status = check.Status(status)
	return nil
}

func (r *CheckRepoImpl) getOne(ctx context.Context, q string, arg any) (*check.Check, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var c check.Check
	if err := scanCheck(r.db.execQueryer(ctx).QueryRow(ctx, q, arg), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CheckRepoImpl) GetByID(ctx context.Context, id int64) (*check.Check, error) {
	return r.getOne(ctx, qCheckByID, id)
}

func (r *CheckRepoImpl) GetByCode(ctx context.Context, code uuid.UUID) (*check.Check, error) {
	return r.getOne(ctx, qCheckByCode, code)
}

func (r *CheckRepoImpl) LockByCode(ctx context.Context, code uuid.UUID) (*check.Check, error) {
	if _, err := extractTx(ctx); err != nil {
		return nil, fmt.Errorf("lock check: %w", err)
	}
	return r.getOne(ctx, qCheckLockByCode, code)
}

func (r *CheckRepoImpl) LockForSweep(ctx context.Context, id int64) (*check.Check, error) {
	if _, err := extractTx(ctx); err != nil {
		return nil, fmt.Errorf("lock check: %w", err)
	}
	return r.getOne(ctx, qCheckLockForSweep, id)
}

func (r *CheckRepoImpl) UpdateState(ctx context.Context, c *check.Check) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qCheckUpdateState,
		c.ID,
		string(c.Status),
		c.LastPing,
		c.LastStart,
		c.LastPingFailed,
		c.NPings,
		c.AlertAfter,
		c.ConfigError,
	)
	if err != nil {
		return fmt.Errorf("update check state: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CheckRepoImpl) FetchDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qCheckFetchDue, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan due: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return ids, nil
}
