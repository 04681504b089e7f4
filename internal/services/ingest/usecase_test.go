package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/domain/clock"
	"github.com/NordCoder/Lastbeat/internal/domain/kafka"
	"github.com/NordCoder/Lastbeat/internal/domain/outbox"
	"github.com/NordCoder/Lastbeat/internal/domain/ping"
	"github.com/NordCoder/Lastbeat/internal/schedule"
	"github.com/NordCoder/Lastbeat/internal/services/recorder"
	"github.com/NordCoder/Lastbeat/internal/testutil/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *memstore.Store
	clk   *clock.Fixed
	uc    *Usecase
	check *check.Check
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	clk := clock.NewFixed(t0)
	uc := New(Stores{
		Tx:            st,
		Checks:        st.Checks(),
		Pings:         st.Pings(),
		Flips:         st.Flips(),
		Channels:      st.Channels(),
		Notifications: st.Notifications(),
	}, recorder.New(st.Flips(), st.Outbox()), clk, zap.NewNop())
	c := st.AddCheck(check.Check{Name: "backup", Schedule: schedule.Simple(5*time.Minute, time.Minute)})
	return &fixture{store: st, clk: clk, uc: uc, check: c}
}

func (f *fixture) ping(t *testing.T, kind ping.Kind) *check.Check {
	t.Helper()
	c, err := f.uc.RecordPing(context.Background(), PingInput{Code: f.check.Code, Kind: kind})
	require.NoError(t, err)
	return c
}

func TestRecordPingFirstSuccess(t *testing.T) {
	f := newFixture(t)

	c := f.ping(t, ping.KindSuccess)
	require.Equal(t, check.StatusUp, c.Status)
	require.Equal(t, int64(1), c.NPings)
	require.Equal(t, t0.Add(6*time.Minute), *c.AlertAfter)

	flips := f.store.Flips().All()
	require.Len(t, flips, 1)
	require.Equal(t, check.StatusNew, flips[0].OldStatus)
	require.Equal(t, check.StatusUp, flips[0].NewStatus)
	require.False(t, flips[0].Alerting())

	msgs := f.store.Outbox().All()
	require.Len(t, msgs, 1)
	require.Equal(t, outbox.KindFlipRecorded, msgs[0].Kind)
	var ev kafka.FlipRecorded
	require.NoError(t, json.Unmarshal(msgs[0].Data, &ev))
	require.Equal(t, flips[0].ID, ev.FlipID)
	require.Equal(t, "up", ev.NewStatus)
}

func TestRecordPingNoFlipWithoutChange(t *testing.T) {
	f := newFixture(t)
	f.ping(t, ping.KindSuccess)
	f.clk.Advance(time.Minute)
	f.ping(t, ping.KindSuccess)
	f.ping(t, ping.KindLog)

	require.Len(t, f.store.Flips().All(), 1)
	require.Len(t, f.store.Outbox().All(), 1)

	pings, err := f.uc.Pings(context.Background(), f.check.Code, 10)
	require.NoError(t, err)
	require.Len(t, pings, 3)
	require.Equal(t, int64(3), pings[0].N)
}

func TestRecordPingFailAlerts(t *testing.T) {
	f := newFixture(t)
	f.ping(t, ping.KindSuccess)
	c := f.ping(t, ping.KindFail)

	require.Equal(t, check.StatusDown, c.Status)
	flips := f.store.Flips().All()
	require.Len(t, flips, 2)
	require.Equal(t, check.ReasonFail, flips[1].Reason)
	require.True(t, flips[1].Alerting())
}

func TestRecordPingDuplicateSeq(t *testing.T) {
	f := newFixture(t)
	seq := int64(5)
	_, err := f.uc.RecordPing(context.Background(), PingInput{Code: f.check.Code, Kind: ping.KindSuccess, Seq: &seq})
	require.NoError(t, err)

	before, err := f.store.Checks().GetByID(context.Background(), f.check.ID)
	require.NoError(t, err)

	_, err = f.uc.RecordPing(context.Background(), PingInput{Code: f.check.Code, Kind: ping.KindFail, Seq: &seq})
	require.ErrorIs(t, err, domain.ErrDuplicatePing)

	after, err := f.store.Checks().GetByID(context.Background(), f.check.ID)
	require.NoError(t, err)
	require.Equal(t, before, after, "replayed ping changes nothing")
	require.Len(t, f.store.Flips().All(), 1)
}

func TestRecordPingUnknownCode(t *testing.T) {
	f := newFixture(t)
	_, err := f.uc.RecordPing(context.Background(), PingInput{Code: uuid.New(), Kind: ping.KindSuccess})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.uc.RecordPing(context.Background(), PingInput{Code: f.check.Code, Kind: "bogus"})
	require.ErrorIs(t, err, ErrInvalidKind)
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ping(t, ping.KindSuccess)

	c, err := f.uc.Pause(ctx, f.check.Code)
	require.NoError(t, err)
	require.Equal(t, check.StatusPaused, c.Status)
	require.Nil(t, c.AlertAfter)

	_, err = f.uc.Pause(ctx, f.check.Code)
	require.NoError(t, err)

	c, err = f.uc.Resume(ctx, f.check.Code)
	require.NoError(t, err)
	require.Equal(t, check.StatusNew, c.Status)

	flips := f.store.Flips().All()
	require.Len(t, flips, 3, "first ping, pause, resume; repeated pause is a no-op")
	for _, fl := range flips {
		require.False(t, fl.Alerting())
	}

	_, err = f.uc.Resume(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckReadsGrace(t *testing.T) {
	f := newFixture(t)
	f.ping(t, ping.KindSuccess)

	f.clk.Advance(5*time.Minute + 30*time.Second)
	c, err := f.uc.Check(context.Background(), f.check.Code)
	require.NoError(t, err)
	require.Equal(t, check.StatusGrace, c.Status)

	stored, err := f.store.Checks().GetByID(context.Background(), f.check.ID)
	require.NoError(t, err)
	require.Equal(t, check.StatusUp, stored.Status, "grace is never persisted")
}

func TestConcurrentPingsSingleWriter(t *testing.T) {
	f := newFixture(t)
	const n = 40

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := ping.KindSuccess
			if i%3 == 0 {
				kind = ping.KindFail
			}
			_, err := f.uc.RecordPing(context.Background(), PingInput{Code: f.check.Code, Kind: kind})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	c, err := f.store.Checks().GetByID(context.Background(), f.check.ID)
	require.NoError(t, err)
	require.Equal(t, int64(n), c.NPings)

	pings, err := f.uc.Pings(context.Background(), f.check.Code, 0)
	require.NoError(t, err)
	seen := map[int64]bool{}
	for _, p := range pings {
		require.False(t, seen[p.N], "sequence numbers are unique")
		seen[p.N] = true
	}

	flips := f.store.Flips().All()
	require.Equal(t, check.StatusNew, flips[0].OldStatus)
	for i := 1; i < len(flips); i++ {
		require.Equal(t, flips[i-1].NewStatus, flips[i].OldStatus, "flips chain without gaps")
	}
	require.Equal(t, c.Status, flips[len(flips)-1].NewStatus)
}
