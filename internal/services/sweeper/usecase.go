// Package sweeper moves checks whose deadline has passed to down.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/domain/clock"
	"github.com/NordCoder/Lastbeat/internal/obs"
	"github.com/NordCoder/Lastbeat/internal/services/recorder"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Usecase struct {
	Tx          domain.Transactor
	Checks      check.Repo
	Rec         *recorder.Recorder
	Clock       clock.Clock
	Log         *zap.Logger
	Concurrency int
}

func NewUC(tx domain.Transactor, checks check.Repo, rec *recorder.Recorder, clk clock.Clock, log *zap.Logger) *Usecase {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Usecase{Tx: tx, Checks: checks, Rec: rec, Clock: clk, Log: log, Concurrency: 4}
}

// Result counts what one tick did.
type Result struct {
	Fetched int
	Flipped int
	Skipped int
	Errors  int
	Invalid int
}

// Tick sweeps up to limit due checks. Each check is re-evaluated under its row
// lock; a check locked by a concurrent ping is skipped and picked up next tick.
func (u *Usecase) Tick(ctx context.Context, limit int) (Result, error) {
	if limit <= 0 {
		limit = 100
	}
	tr := otel.Tracer("sweeper.uc")
	ctx, span := tr.Start(ctx, "sweeper.tick", trace.WithAttributes(attribute.Int("batch.limit", limit)))
	defer span.End()

	now := u.Clock.Now()
	due, err := u.Checks.FetchDue(ctx, now, limit)
	if err != nil {
		span.RecordError(err)
		return Result{Errors: 1}, fmt.Errorf("fetch due: %w", err)
	}
	span.SetAttributes(attribute.Int("batch.fetched", len(due)))
	if len(due) == 0 {
		return Result{}, nil
	}

	var flipped, skipped, errs, invalid atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(u.Concurrency, 1))
	for _, id := range due {
		g.Go(func() error {
			switch err := u.sweepOne(gctx, id); {
			case err == nil:
				flipped.Add(1)
			case errors.Is(err, errNoChange):
				skipped.Add(1)
			case errors.Is(err, domain.ErrNotFound):
				skipped.Add(1)
			case isConfigErr(err):
				invalid.Add(1)
			default:
				errs.Add(1)
				obs.WithTrace(gctx, u.Log).Warn("sweep check failed", zap.Int64("check_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Fetched: len(due),
		Flipped: int(flipped.Load()),
		Skipped: int(skipped.Load()),
		Errors:  int(errs.Load()),
		Invalid: int(invalid.Load()),
	}
	span.SetAttributes(
		attribute.Int("batch.flipped", res.Flipped),
		attribute.Int("batch.errors", res.Errors),
	)
	return res, nil
}

var errNoChange = errors.New("no change")

type configErr struct{ err error }

func (e configErr) Error() string { return e.err.Error() }
func (e configErr) Unwrap() error { return e.err }

func isConfigErr(err error) bool {
	var ce configErr
	return errors.As(err, &ce)
}

func (u *Usecase) sweepOne(ctx context.Context, id int64) error {
	ctx, span := otel.Tracer("sweeper.uc").Start(ctx, "sweeper.check",
		trace.WithAttributes(attribute.Int64("check.id", id)))
	defer span.End()

	var (
		cfgErr    error
		unchanged bool
	)
	err := u.Tx.WithTx(ctx, func(ctx context.Context) error {
		c, err := u.Checks.LockForSweep(ctx, id)
		if err != nil {
			return err
		}
		now := u.Clock.Now()
		due := c.AlertAfter
		t, err := c.Expire(now)
		if err != nil {
			// the check keeps its status but leaves the sweep set
			cfgErr = err
			return u.Checks.UpdateState(ctx, c)
		}
		if !t.Changed() {
			// Keep the moved deadline, or the check stays due on every tick.
			unchanged = true
			if sameInstant(due, c.AlertAfter) {
				return nil
			}
			return u.Checks.UpdateState(ctx, c)
		}
		if err := u.Checks.UpdateState(ctx, c); err != nil {
			return fmt.Errorf("update check: %w", err)
		}
		if _, err := u.Rec.Record(ctx, c, t, now); err != nil {
			return err
		}
		obs.WithTrace(ctx, u.Log).Info("check went down",
			zap.Int64("check_id", c.ID), zap.String("name", c.Name))
		return nil
	})
	if err == nil && unchanged {
		err = errNoChange
	}
	if err == nil && cfgErr != nil {
		obs.WithTrace(ctx, u.Log).Warn("check schedule unusable", zap.Int64("check_id", id), zap.Error(cfgErr))
		return configErr{cfgErr}
	}
	if err != nil && !errors.Is(err, errNoChange) && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
	}
	return err
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
