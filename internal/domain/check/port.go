package check

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repo interface {
	GetByID(ctx context.Context, id int64) (*Check, error)
	GetByCode(ctx context.Context, code uuid.UUID) (*Check, error)
	// LockByCode loads the check and holds its row lock until the surrounding transaction ends.
	LockByCode(ctx context.Context, code uuid.UUID) (*Check, error)
	// LockForSweep is LockByCode for the sweeper: a check locked elsewhere is reported as not found.
	LockForSweep(ctx context.Context, id int64) (*Check, error)
	UpdateState(ctx context.Context, c *Check) error
	FetchDue(ctx context.Context, now time.Time, limit int) ([]int64, error)
}
