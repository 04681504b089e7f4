package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/ping"
)

var _ ping.Repo = (*PingRepoImpl)(nil)

type PingRepoImpl struct{ db *DB }

func NewPingRepo(db *DB) *PingRepoImpl { return &PingRepoImpl{db: db} }

const (
	qPingInsert = `
INSERT INTO pings (check_id, n, created_at, kind, exit_status, scheme, method, remote_addr, user_agent, body_size, body)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id;`

	qPingsByCheck = `
SELECT id, check_id, n, created_at, kind, exit_status, scheme, method, remote_addr, user_agent, body_size
FROM pings
WHERE check_id = $1
ORDER BY n DESC
LIMIT $2;`
)

func (r *PingRepoImpl) Insert(ctx context.Context, p *ping.Ping) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.execQueryer(ctx).QueryRow(ctx, qPingInsert,
		p.CheckID, p.N, p.CreatedAt, string(p.Kind), p.ExitStatus,
		p.Scheme, p.Method, p.RemoteAddr, p.UserAgent, p.BodySize, p.Body,
	).Scan(&p.ID)
	if err = mapErr(err); errors.Is(err, ErrConflict) {
		return domain.ErrDuplicatePing
	}
	if err != nil {
		return fmt.Errorf("insert ping: %w", err)
	}
	return nil
}

func (r *PingRepoImpl) ListByCheck(ctx context.Context, checkID int64, limit int) ([]*ping.Ping, error) {
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qPingsByCheck, checkID, limit)
	if err != nil {
		return nil, fmt.Errorf("query pings: %w", err)
	}
	defer rows.Close()

	out := make([]*ping.Ping, 0, limit)
	for rows.Next() {
		var (
			p    ping.Ping
			kind string
		)
		if err := rows.Scan(&p.ID, &p.CheckID, &p.N, &p.CreatedAt, &kind, &p.ExitStatus,
			&p.Scheme, &p.Method, &p.RemoteAddr, &p.UserAgent, &p.BodySize); err != nil {
			return nil, fmt.Errorf("scan ping: %w", err)
		}
		p.Kind = ping.Kind(kind)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
