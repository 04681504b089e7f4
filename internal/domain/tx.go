package domain

import "context"

// Transactor runs fn in a transaction carried by ctx. Stores called with that
// ctx join it.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
