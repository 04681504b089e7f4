// Package ingest applies pings and operator actions to checks.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/channel"
	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/domain/clock"
	"github.com/NordCoder/Lastbeat/internal/domain/flip"
	"github.com/NordCoder/Lastbeat/internal/domain/notification"
	"github.com/NordCoder/Lastbeat/internal/domain/ping"
	"github.com/NordCoder/Lastbeat/internal/obs"
	"github.com/NordCoder/Lastbeat/internal/services/recorder"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrInvalidKind = errors.New("invalid ping kind")

var pingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pings_received_total",
	Help: "Pings received, by kind and outcome.",
}, []string{"kind", "outcome"})

type Stores struct {
	Tx            domain.Transactor
	Checks        check.Repo
	Pings         ping.Repo
	Flips         flip.Repo
	Channels      channel.Repo
	Notifications notification.Repo
}

type Usecase struct {
	st  Stores
	rec *recorder.Recorder
	clk clock.Clock
	log *zap.Logger
}

func New(st Stores, rec *recorder.Recorder, clk clock.Clock, log *zap.Logger) *Usecase {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Usecase{st: st, rec: rec, clk: clk, log: log.With(zap.String("component", "ingest"))}
}

// PingInput is one received ping. Seq is the client supplied sequence number;
// when nil the ping is numbered after the last one stored.
type PingInput struct {
	Code       uuid.UUID
	Kind       ping.Kind
	ExitStatus *int
	Seq        *int64

	Scheme     string
	Method     string
	RemoteAddr string
	UserAgent  string
	Body       []byte
	BodySize   int
}

// RecordPing stores the ping and applies it under the check's row lock. A
// status change and its flip commit together. A replayed sequence number
// returns domain.ErrDuplicatePing and changes nothing.
func (u *Usecase) RecordPing(ctx context.Context, in PingInput) (*check.Check, error) {
	if !in.Kind.Valid() {
		return nil, ErrInvalidKind
	}
	ctx, span := otel.Tracer("ingest").Start(ctx, "ingest.record_ping",
		trace.WithAttributes(
			attribute.String("check.code", in.Code.String()),
			attribute.String("ping.kind", string(in.Kind)),
		),
	)
	defer span.End()

	var (
		out *check.Check
		fl  *flip.Flip
	)
	err := u.st.Tx.WithTx(ctx, func(ctx context.Context) error {
		c, err := u.st.Checks.LockByCode(ctx, in.Code)
		if err != nil {
			return err
		}

		n := c.NPings + 1
		if in.Seq != nil {
			if *in.Seq <= c.NPings {
				return domain.ErrDuplicatePing
			}
			n = *in.Seq
		}

		at := u.clk.Now()
		p := &ping.Ping{
			CheckID:    c.ID,
			N:          n,
			CreatedAt:  at,
			Kind:       in.Kind,
			ExitStatus: in.ExitStatus,
			Scheme:     in.Scheme,
			Method:     in.Method,
			RemoteAddr: in.RemoteAddr,
			UserAgent:  in.UserAgent,
			BodySize:   in.BodySize,
			Body:       in.Body,
		}
		if err := u.st.Pings.Insert(ctx, p); err != nil {
			return err
		}

		c.NPings = n
		t := c.ApplyPing(in.Kind, at)
		if err := u.st.Checks.UpdateState(ctx, c); err != nil {
			return fmt.Errorf("update check: %w", err)
		}
		if fl, err = u.rec.Record(ctx, c, t, at); err != nil {
			return err
		}
		out = c
		return nil
	})

	switch {
	case errors.Is(err, domain.ErrDuplicatePing):
		pingsTotal.WithLabelValues(string(in.Kind), "duplicate").Inc()
		return nil, domain.ErrDuplicatePing
	case errors.Is(err, domain.ErrNotFound):
		pingsTotal.WithLabelValues(string(in.Kind), "not_found").Inc()
		return nil, domain.ErrNotFound
	case err != nil:
		span.RecordError(err)
		pingsTotal.WithLabelValues(string(in.Kind), "error").Inc()
		obs.WithTrace(ctx, u.log).Error("record ping failed", zap.String("code", in.Code.String()), zap.Error(err))
		return nil, err
	}

	pingsTotal.WithLabelValues(string(in.Kind), "ok").Inc()
	if fl != nil {
		obs.WithTrace(ctx, u.log).Info("check flipped",
			zap.Int64("check_id", out.ID),
			zap.String("old", string(fl.OldStatus)),
			zap.String("new", string(fl.NewStatus)),
		)
	}
	if out.ConfigError != "" {
		obs.WithTrace(ctx, u.log).Warn("check schedule unusable", zap.Int64("check_id", out.ID), zap.String("error", out.ConfigError))
	}
	return out, nil
}

func (u *Usecase) Pause(ctx context.Context, code uuid.UUID) (*check.Check, error) {
	return u.operate(ctx, code, "pause", (*check.Check).Pause)
}

func (u *Usecase) Resume(ctx context.Context, code uuid.UUID) (*check.Check, error) {
	return u.operate(ctx, code, "resume", (*check.Check).Resume)
}

func (u *Usecase) operate(ctx context.Context, code uuid.UUID, op string, apply func(*check.Check) check.Transition) (*check.Check, error) {
	ctx, span := otel.Tracer("ingest").Start(ctx, "ingest."+op,
		trace.WithAttributes(attribute.String("check.code", code.String())))
	defer span.End()

	var out *check.Check
	err := u.st.Tx.WithTx(ctx, func(ctx context.Context) error {
		c, err := u.st.Checks.LockByCode(ctx, code)
		if err != nil {
			return err
		}
		t := apply(c)
		if !t.Changed() {
			out = c
			return nil
		}
		if err := u.st.Checks.UpdateState(ctx, c); err != nil {
			return fmt.Errorf("update check: %w", err)
		}
		if _, err := u.rec.Record(ctx, c, t, u.clk.Now()); err != nil {
			return err
		}
		out = c
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	obs.WithTrace(ctx, u.log).Info("check "+op, zap.Int64("check_id", out.ID), zap.String("status", string(out.Status)))
	return out, nil
}

// Check returns the check with its status evaluated at the current time, so a
// check past its expected time but within grace reads as grace.
func (u *Usecase) Check(ctx context.Context, code uuid.UUID) (*check.Check, error) {
	c, err := u.st.Checks.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if c.ConfigError != "" {
		return c, nil
	}
	if st, err := check.Evaluate(c.Snapshot(), u.clk.Now()); err == nil {
		c.Status = st
	}
	return c, nil
}

func (u *Usecase) Flips(ctx context.Context, code uuid.UUID, limit int) ([]*flip.Flip, error) {
	c, err := u.st.Checks.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return u.st.Flips.ListByCheck(ctx, c.ID, limit)
}

func (u *Usecase) Pings(ctx context.Context, code uuid.UUID, limit int) ([]*ping.Ping, error) {
	c, err := u.st.Checks.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return u.st.Pings.ListByCheck(ctx, c.ID, limit)
}

func (u *Usecase) Notifications(ctx context.Context, channelID int64, limit int) ([]*notification.Notification, error) {
	if _, err := u.st.Channels.GetByID(ctx, channelID); err != nil {
		return nil, err
	}
	return u.st.Notifications.ListByChannel(ctx, channelID, limit)
}
