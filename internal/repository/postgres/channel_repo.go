package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Lastbeat/internal/domain/channel"
	"github.com/jackc/pgx/v5"
)

var _ channel.Repo = (*ChannelRepoImpl)(nil)

type ChannelRepoImpl struct{ db *DB }

func NewChannelRepo(db *DB) *ChannelRepoImpl { return &ChannelRepoImpl{db: db} }

const (
	qChannelByID = `
SELECT id, code, project, kind, name, value, disabled, created_at
FROM channels
WHERE id = $1;`

	qChannelsForCheck = `
SELECT c.id, c.code, c.project, c.kind, c.name, c.value, c.disabled, c.created_at
FROM channels c
JOIN channel_checks cc ON cc.channel_id = c.id
WHERE cc.check_id = $1 AND NOT c.disabled
ORDER BY c.id;`

	qChannelDisable = `UPDATE channels SET disabled = TRUE WHERE id = $1;`
)

func scanChannel(row pgx.Row, c *channel.Channel) error {
	var kind string
	if err := row.Scan(&c.ID, &c.Code, &c.Project, &kind, &c.Name, &c.Value, &c.Disabled, &c.CreatedAt); err != nil {
		return err
	}
	c.Kind = channel.Kind(kind)
	return nil
}

func (r *ChannelRepoImpl) GetByID(ctx context.Context, id int64) (*channel.Channel, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var c channel.Channel
	if err := scanChannel(r.db.execQueryer(ctx).QueryRow(ctx, qChannelByID, id), &c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &c, nil
}

func (r *ChannelRepoImpl) ChannelsFor(ctx context.Context, checkID int64) ([]*channel.Channel, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qChannelsForCheck, checkID)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var out []*channel.Channel
	for rows.Next() {
		var c channel.Channel
		if err := scanChannel(rows, &c); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *ChannelRepoImpl) Disable(ctx context.Context, channelID int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qChannelDisable, channelID)
	if err != nil {
		return fmt.Errorf("disable channel: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
