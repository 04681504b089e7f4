package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/domain/clock"
	"github.com/NordCoder/Lastbeat/internal/domain/ping"
	"github.com/NordCoder/Lastbeat/internal/schedule"
	"github.com/NordCoder/Lastbeat/internal/services/ingest"
	"github.com/NordCoder/Lastbeat/internal/services/recorder"
	"github.com/NordCoder/Lastbeat/internal/testutil/memstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memstore.Store
	clk    *clock.Fixed
	ingest *ingest.Usecase
	uc     *Usecase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	clk := clock.NewFixed(t0)
	rec := recorder.New(st.Flips(), st.Outbox())
	in := ingest.New(ingest.Stores{
		Tx:            st,
		Checks:        st.Checks(),
		Pings:         st.Pings(),
		Flips:         st.Flips(),
		Channels:      st.Channels(),
		Notifications: st.Notifications(),
	}, rec, clk, zap.NewNop())
	return &fixture{store: st, clk: clk, ingest: in, uc: NewUC(st, st.Checks(), rec, clk, zap.NewNop())}
}

func (f *fixture) pinged(t *testing.T, s schedule.Schedule) *check.Check {
	t.Helper()
	c := f.store.AddCheck(check.Check{Name: "nightly", Schedule: s})
	_, err := f.ingest.RecordPing(context.Background(), ingest.PingInput{Code: c.Code, Kind: ping.KindSuccess})
	require.NoError(t, err)
	return c
}

func TestSweepTimeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.pinged(t, schedule.Simple(5*time.Minute, time.Minute))

	f.clk.Set(t0.Add(4 * time.Minute))
	res, err := f.uc.Tick(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, res.Fetched)

	f.clk.Set(t0.Add(5*time.Minute + 30*time.Second))
	res, err = f.uc.Tick(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, res.Flipped)
	got, err := f.ingest.Check(ctx, c.Code)
	require.NoError(t, err)
	require.Equal(t, check.StatusGrace, got.Status)

	f.clk.Set(t0.Add(6*time.Minute + 30*time.Second))
	res, err = f.uc.Tick(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, Result{Fetched: 1, Flipped: 1}, res)

	got, err = f.ingest.Check(ctx, c.Code)
	require.NoError(t, err)
	require.Equal(t, check.StatusDown, got.Status)
	require.Nil(t, got.AlertAfter)

	flips := f.store.Flips().All()
	require.Len(t, flips, 2)
	down := flips[1]
	require.Equal(t, check.StatusUp, down.OldStatus)
	require.Equal(t, check.StatusDown, down.NewStatus)
	require.Equal(t, check.ReasonTimeout, down.Reason)
	require.Equal(t, t0.Add(6*time.Minute+30*time.Second), down.CreatedAt)
	require.True(t, down.Alerting())
	require.Len(t, f.store.Outbox().All(), 2)

	// already down: not due again
	f.clk.Advance(time.Hour)
	res, err = f.uc.Tick(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, res.Fetched)
	require.Len(t, f.store.Flips().All(), 2)
}

func TestSweepRecoveryAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.pinged(t, schedule.Simple(time.Minute, 0))

	f.clk.Advance(2 * time.Minute)
	_, err := f.uc.Tick(ctx, 10)
	require.NoError(t, err)

	_, err = f.ingest.RecordPing(ctx, ingest.PingInput{Code: c.Code, Kind: ping.KindSuccess})
	require.NoError(t, err)

	flips := f.store.Flips().All()
	require.Len(t, flips, 3)
	require.Equal(t, check.StatusUp, flips[2].NewStatus)
	require.True(t, flips[2].Alerting())
}

func TestSweepRespectsLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.pinged(t, schedule.Simple(time.Minute, 0))
	}
	f.clk.Advance(time.Hour)

	res, err := f.uc.Tick(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 3, res.Fetched)
	require.Equal(t, 3, res.Flipped)

	res, err = f.uc.Tick(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 2, res.Flipped)
}

func TestSweepCronSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// hourly at :00, pinged at 12:00, next expected 13:00, grace 5m
	f.pinged(t, schedule.Cron("0 * * * *", "UTC", 5*time.Minute))

	f.clk.Set(t0.Add(time.Hour + 4*time.Minute))
	res, err := f.uc.Tick(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, res.Fetched)

	f.clk.Set(t0.Add(time.Hour + 5*time.Minute))
	res, err = f.uc.Tick(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, res.Flipped)
}

func TestSweepUnusableSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.pinged(t, schedule.Simple(time.Minute, 0))

	// schedule broken after the deadline was computed
	f.store.AddCheck(func() check.Check {
		cur, err := f.store.Checks().GetByID(ctx, c.ID)
		require.NoError(t, err)
		cur.Schedule = schedule.Cron("61 * * * *", "UTC", 0)
		return *cur
	}())

	f.clk.Advance(time.Hour)
	res, err := f.uc.Tick(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, res.Invalid)
	require.Zero(t, res.Flipped)

	got, err := f.store.Checks().GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, check.StatusUp, got.Status)
	require.Nil(t, got.AlertAfter)
	require.NotEmpty(t, got.ConfigError)

	res, err = f.uc.Tick(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, res.Fetched, "excluded from later sweeps")
}

func TestSweepKeepsRefreshedDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lastPing := t0
	stale := t0.Add(6 * time.Minute)
	// the period was lengthened after alert_after was computed
	c := f.store.AddCheck(check.Check{
		Name:       "weekly",
		Schedule:   schedule.Simple(time.Hour, time.Minute),
		Status:     check.StatusUp,
		LastPing:   &lastPing,
		AlertAfter: &stale,
	})

	f.clk.Set(t0.Add(7 * time.Minute))
	res, err := f.uc.Tick(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, Result{Fetched: 1, Skipped: 1}, res)

	got, err := f.store.Checks().GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, check.StatusUp, got.Status)
	require.Equal(t, t0.Add(61*time.Minute), *got.AlertAfter)

	res, err = f.uc.Tick(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, res.Fetched)
	require.Empty(t, f.store.Flips().All())
}
