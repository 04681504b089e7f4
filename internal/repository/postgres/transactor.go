package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	txDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pg_tx_duration_seconds",
		Help:    "Transaction duration by outcome.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"outcome"})
	txRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pg_tx_retries_total",
		Help: "Transactions restarted after a serialization failure or deadlock.",
	})
)

const txAttempts = 3

var _ domain.Transactor = (*Transactor)(nil)

// Transactor runs functions in a read committed transaction carried by ctx.
// Check rows are serialized with explicit row locks, so the isolation level
// stays low.
type Transactor struct {
	db  *DB
	log *zap.Logger
}

func NewTransactor(db *DB, log *zap.Logger) *Transactor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transactor{db: db, log: log.With(zap.String("component", "pg.tx"))}
}

// WithTx commits when fn returns nil and rolls back otherwise. A call inside a
// running transaction joins it. Deadlocks and serialization failures restart
// fn in a new transaction, up to three attempts.
func (t *Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, err := extractTx(ctx); err == nil {
		return fn(ctx)
	}
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		if err = t.once(ctx, fn); !retryableTx(err) || ctx.Err() != nil {
			return err
		}
		txRetries.Inc()
		t.log.Debug("transaction restarted", zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

func (t *Transactor) once(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	start := time.Now()
	tx, err := t.db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	txCtx := context.WithValue(ctx, txKey{}, tx)

	defer func() {
		outcome := "commit"
		if err != nil {
			outcome = "rollback"
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				t.log.Error("rollback failed", zap.Error(rbErr))
			}
		} else if err = tx.Commit(ctx); err != nil {
			outcome = "commit_error"
			err = fmt.Errorf("commit: %w", err)
		}
		txDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	return fn(txCtx)
}

func retryableTx(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}

type txKey struct{}

var ErrTxNotFound = errors.New("tx not found in context")

func extractTx(ctx context.Context) (pgx.Tx, error) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	if !ok {
		return nil, ErrTxNotFound
	}
	return tx, nil
}

type execQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// execQueryer returns the transaction in ctx, or the pool.
func (db *DB) execQueryer(ctx context.Context) execQueryer {
	if tx, err := extractTx(ctx); err == nil {
		return tx
	}
	return db.Pool
}
