package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/domain/notification"
	"github.com/jackc/pgx/v5"
)

var _ notification.Repo = (*NotificationRepo)(nil)

type NotificationRepo struct{ db *DB }

func NewNotificationRepo(db *DB) *NotificationRepo { return &NotificationRepo{db: db} }

const (
	// A conflicting row means another dispatcher already recorded this
	// delivery; RETURNING then yields no row.
	qNotificationInsert = `
INSERT INTO notifications (channel_id, check_id, flip_id, check_status, created_at, error)
VALUES ($1, $2, $3, $4, COALESCE($5, now()), $6)
ON CONFLICT (flip_id, channel_id) DO NOTHING
RETURNING id, created_at;`

	qNotificationsForChannel = `
SELECT id, channel_id, check_id, flip_id, check_status, created_at, error
FROM notifications
WHERE channel_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;`
)

const defaultNotificationLimit = 50

type notificationRow struct {
	ID          int64     `db:"id"`
	ChannelID   int64     `db:"channel_id"`
	CheckID     int64     `db:"check_id"`
	FlipID      int64     `db:"flip_id"`
	CheckStatus string    `db:"check_status"`
	CreatedAt   time.Time `db:"created_at"`
	Error       string    `db:"error"`
}

func (r notificationRow) toDomain() *notification.Notification {
	return &notification.Notification{
		ID:          r.ID,
		ChannelID:   r.ChannelID,
		CheckID:     r.CheckID,
		FlipID:      r.FlipID,
		CheckStatus: check.Status(r.CheckStatus),
		CreatedAt:   r.CreatedAt,
		Error:       r.Error,
	}
}

// Create fills n.ID and n.CreatedAt when the row is new. A duplicate for the
// same flip and channel leaves n untouched and is not an error.
func (r *NotificationRepo) Create(ctx context.Context, n *notification.Notification) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var at *time.Time
	if !n.CreatedAt.IsZero() {
		at = &n.CreatedAt
	}
	err := r.db.execQueryer(ctx).
		QueryRow(ctx, qNotificationInsert, n.ChannelID, n.CheckID, n.FlipID, string(n.CheckStatus), at, n.Error).
		Scan(&n.ID, &n.CreatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("notification for flip %d channel %d: %w", n.FlipID, n.ChannelID, err)
	}
	return nil
}

func (r *NotificationRepo) ListByChannel(ctx context.Context, channelID int64, limit int) ([]*notification.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qNotificationsForChannel, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("notifications of channel %d: %w", channelID, err)
	}
	got, err := pgx.CollectRows(rows, pgx.RowToStructByName[notificationRow])
	if err != nil {
		return nil, fmt.Errorf("notifications of channel %d: %w", channelID, err)
	}
	out := make([]*notification.Notification, len(got))
	for i, row := range got {
		out[i] = row.toDomain()
	}
	return out, nil
}
