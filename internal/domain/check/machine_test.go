package check

import (
	"math/rand"
	"testing"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/ping"
	"github.com/NordCoder/Lastbeat/internal/schedule"
	"github.com/stretchr/testify/require"
)

func newCheck() *Check {
	return &Check{Status: StatusNew, Schedule: schedule.Simple(5*time.Minute, time.Minute)}
}

func TestApplyPingTransitions(t *testing.T) {
	c := newCheck()

	tr := c.ApplyPing(ping.KindSuccess, t0)
	require.Equal(t, Transition{Old: StatusNew, New: StatusUp}, tr)
	require.Equal(t, t0.Add(6*time.Minute), *c.AlertAfter)

	tr = c.ApplyPing(ping.KindSuccess, t0.Add(time.Minute))
	require.False(t, tr.Changed())

	tr = c.ApplyPing(ping.KindFail, t0.Add(2*time.Minute))
	require.Equal(t, Transition{Old: StatusUp, New: StatusDown, Reason: ReasonFail}, tr)
	require.Nil(t, c.AlertAfter)

	tr = c.ApplyPing(ping.KindStart, t0.Add(3*time.Minute))
	require.False(t, tr.Changed(), "start leaves status unchanged")
	require.NotNil(t, c.LastStart)

	tr = c.ApplyPing(ping.KindSuccess, t0.Add(4*time.Minute))
	require.Equal(t, Transition{Old: StatusDown, New: StatusUp}, tr)
	require.Nil(t, c.LastStart)
	require.False(t, c.LastPingFailed)
}

func TestApplyPingLogIsInert(t *testing.T) {
	c := newCheck()
	c.ApplyPing(ping.KindSuccess, t0)
	before := *c

	tr := c.ApplyPing(ping.KindLog, t0.Add(time.Minute))
	require.False(t, tr.Changed())
	require.Equal(t, before, *c)
}

func TestStartShortensDeadline(t *testing.T) {
	c := newCheck()
	c.ApplyPing(ping.KindSuccess, t0)
	c.ApplyPing(ping.KindStart, t0.Add(time.Minute))
	require.Equal(t, t0.Add(2*time.Minute), *c.AlertAfter)

	tr, err := c.Expire(t0.Add(2 * time.Minute))
	require.NoError(t, err)
	require.Equal(t, Transition{Old: StatusUp, New: StatusDown, Reason: ReasonTimeout}, tr)
}

func TestExpire(t *testing.T) {
	c := newCheck()
	c.ApplyPing(ping.KindSuccess, t0)

	tr, err := c.Expire(t0.Add(5*time.Minute + 30*time.Second))
	require.NoError(t, err)
	require.False(t, tr.Changed(), "grace is not a persisted transition")

	tr, err = c.Expire(t0.Add(6*time.Minute + 30*time.Second))
	require.NoError(t, err)
	require.Equal(t, Transition{Old: StatusUp, New: StatusDown, Reason: ReasonTimeout}, tr)

	tr, err = c.Expire(t0.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, tr.Changed(), "down stays down")
}

func TestExpireConfigError(t *testing.T) {
	c := newCheck()
	c.ApplyPing(ping.KindSuccess, t0)
	c.Schedule = schedule.Cron("bogus", "UTC", time.Minute)

	tr, err := c.Expire(t0.Add(time.Hour))
	require.Error(t, err)
	require.False(t, tr.Changed())
	require.Equal(t, StatusUp, c.Status, "left in last known status")
	require.Nil(t, c.AlertAfter, "excluded from sweeps")
	require.NotEmpty(t, c.ConfigError)
}

func TestPingWithBrokenScheduleStillUpdates(t *testing.T) {
	c := &Check{Status: StatusNew, Schedule: schedule.Cron("bogus", "UTC", 0)}

	tr := c.ApplyPing(ping.KindSuccess, t0)
	require.Equal(t, StatusUp, tr.New)
	require.Equal(t, t0, *c.LastPing)
	require.Nil(t, c.AlertAfter)
	require.NotEmpty(t, c.ConfigError)
}

func TestPauseResume(t *testing.T) {
	c := newCheck()
	c.ApplyPing(ping.KindFail, t0)

	tr := c.Pause()
	require.Equal(t, Transition{Old: StatusDown, New: StatusPaused}, tr)
	require.False(t, c.Pause().Changed())

	// a ping always reactivates a paused check
	tr = c.ApplyPing(ping.KindSuccess, t0.Add(time.Minute))
	require.Equal(t, Transition{Old: StatusPaused, New: StatusUp}, tr)

	c.Pause()
	tr = c.Resume()
	require.Equal(t, Transition{Old: StatusPaused, New: StatusNew}, tr)
	require.Nil(t, c.LastPing)
	require.False(t, c.Resume().Changed())
}

func TestFailPingOnPausedCheck(t *testing.T) {
	c := newCheck()
	c.ApplyPing(ping.KindSuccess, t0)
	c.Pause()

	tr := c.ApplyPing(ping.KindFail, t0.Add(time.Minute))
	require.Equal(t, Transition{Old: StatusPaused, New: StatusDown, Reason: ReasonFail}, tr)
}

func TestStartOnPausedCheck(t *testing.T) {
	c := newCheck()
	c.ApplyPing(ping.KindSuccess, t0)
	c.Pause()

	tr := c.ApplyPing(ping.KindStart, t0.Add(time.Minute))
	require.Equal(t, Transition{Old: StatusPaused, New: StatusUp}, tr)

	fresh := newCheck()
	fresh.Pause()
	tr = fresh.ApplyPing(ping.KindStart, t0)
	require.Equal(t, StatusNew, tr.New)
}

func TestStartOnPausedCheckWithStaleLastPing(t *testing.T) {
	c := newCheck()
	c.ApplyPing(ping.KindSuccess, t0)
	c.Pause()

	started := t0.Add(24 * time.Hour)
	tr := c.ApplyPing(ping.KindStart, started)
	require.Equal(t, Transition{Old: StatusPaused, New: StatusUp}, tr)
	require.Equal(t, started.Add(time.Minute), *c.AlertAfter, "run must finish within grace of the start")

	st, err := Evaluate(c.Snapshot(), started.Add(30*time.Second))
	require.NoError(t, err)
	require.Equal(t, StatusUp, st)
}

func TestStartOnPausedFailedCheck(t *testing.T) {
	c := newCheck()
	c.ApplyPing(ping.KindFail, t0)
	c.Pause()

	tr := c.ApplyPing(ping.KindStart, t0.Add(time.Hour))
	require.Equal(t, Transition{Old: StatusPaused, New: StatusUp}, tr)
}

type event struct {
	op   int
	kind ping.Kind
	at   time.Time
}

func randomEvents(r *rand.Rand, n int) []event {
	kinds := []ping.Kind{ping.KindSuccess, ping.KindFail, ping.KindStart, ping.KindLog}
	at := t0
	out := make([]event, 0, n)
	for i := 0; i < n; i++ {
		at = at.Add(time.Duration(r.Intn(600)) * time.Second)
		out = append(out, event{op: r.Intn(10), kind: kinds[r.Intn(len(kinds))], at: at})
	}
	return out
}

func replay(events []event) (*Check, []Transition) {
	c := newCheck()
	var flips []Transition
	for _, e := range events {
		var tr Transition
		switch {
		case e.op < 6:
			tr = c.ApplyPing(e.kind, e.at)
		case e.op < 8:
			tr, _ = c.Expire(e.at)
		case e.op == 8:
			tr = c.Pause()
		default:
			tr = c.Resume()
		}
		if tr.Changed() {
			flips = append(flips, tr)
		}
	}
	return c, flips
}

func TestReplayIsDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		events := randomEvents(r, 40)

		a, flipsA := replay(events)
		b, flipsB := replay(events)
		require.Equal(t, *a, *b)
		require.Equal(t, flipsA, flipsB)

		for j, f := range flipsA {
			require.NotEqual(t, f.Old, f.New)
			if j > 0 {
				require.Equal(t, flipsA[j-1].New, f.Old, "flips chain without gaps")
			}
		}
	}
}

func TestStatusMatchesEvaluationAfterSweep(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		events := randomEvents(r, 30)
		c, _ := replay(events)
		now := events[len(events)-1].at
		_, err := c.Expire(now)
		require.NoError(t, err)

		want, err := Evaluate(c.Snapshot(), now)
		require.NoError(t, err)
		if c.Status == StatusUp && want == StatusGrace {
			continue
		}
		require.Equal(t, Persistable(want), c.Status)
	}
}
