package flip

import (
	"context"
	"time"
)

type Repo interface {
	Insert(ctx context.Context, f *Flip) error
	// Get returns domain.ErrNotFound for an unknown id.
	Get(ctx context.Context, id int64) (*Flip, error)
	// Claim marks an unprocessed flip as processed and returns it.
	// ok is false when the flip was already claimed or does not exist.
	Claim(ctx context.Context, id int64) (f *Flip, ok bool, err error)
	ListByCheck(ctx context.Context, checkID int64, limit int) ([]*Flip, error)
	FetchUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]int64, error)
}
