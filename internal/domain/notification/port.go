package notification

import "context"

type Repo interface {
	// Create stores n unless a notification for the same flip and channel exists.
	Create(ctx context.Context, n *Notification) error
	ListByChannel(ctx context.Context, channelID int64, limit int) ([]*Notification, error)
}
