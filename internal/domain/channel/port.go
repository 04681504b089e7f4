package channel

import "context"

// Registry resolves the channels a check is bound to. Disabled channels are never returned.
type Registry interface {
	ChannelsFor(ctx context.Context, checkID int64) ([]*Channel, error)
	Disable(ctx context.Context, channelID int64) error
}

type Repo interface {
	Registry
	GetByID(ctx context.Context, id int64) (*Channel, error)
}
