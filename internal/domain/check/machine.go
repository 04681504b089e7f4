package check

import (
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/ping"
)

type Reason string

const (
	ReasonNone    Reason = ""
	ReasonTimeout Reason = "timeout"
	ReasonFail    Reason = "fail"
)

// Transition is the outcome of applying one event to a check.
type Transition struct {
	Old    Status
	New    Status
	Reason Reason
}

func (t Transition) Changed() bool { return t.Old != t.New }

// ApplyPing updates the check for a ping of the given kind received at `at`.
// Schedule problems do not fail the ping; they are stored in ConfigError and
// take the check out of sweeping.
func (c *Check) ApplyPing(kind ping.Kind, at time.Time) Transition {
	t := Transition{Old: c.Status, New: c.Status}
	if !kind.AffectsStatus() {
		return t
	}

	wasPaused := c.Status == StatusPaused
	switch kind {
	case ping.KindStart:
		c.LastStart = &at
		if wasPaused && c.LastPing != nil {
			// The schedule clock restarts at the reactivating start; the
			// pre-pause ping would otherwise make the check overdue at once.
			restarted := at
			c.LastPing = &restarted
			c.LastPingFailed = false
		}
	case ping.KindSuccess, ping.KindFail:
		c.LastPing = &at
		c.LastStart = nil
		c.LastPingFailed = kind == ping.KindFail
	}

	next := c.Status
	if kind != ping.KindStart || wasPaused {
		snap := c.Snapshot()
		snap.Paused = false
		if kind == ping.KindStart {
			snap.LastStart = nil
		}
		st, err := Evaluate(snap, at)
		if err != nil {
			st = outcomeStatus(kind, c.Status)
		}
		next = Persistable(st)
	}
	c.Status = next
	c.refreshDeadline()

	t.New = next
	if t.Changed() && next == StatusDown && kind == ping.KindFail {
		t.Reason = ReasonFail
	}
	return t
}

// Expire moves an up check past its deadline to down.
func (c *Check) Expire(now time.Time) (Transition, error) {
	t := Transition{Old: c.Status, New: c.Status}
	if c.Status != StatusUp {
		return t, nil
	}
	st, err := Evaluate(c.Snapshot(), now)
	if err != nil {
		c.ConfigError = err.Error()
		c.AlertAfter = nil
		return t, err
	}
	if st == StatusDown {
		c.Status = StatusDown
		t.New = StatusDown
		t.Reason = ReasonTimeout
	}
	c.refreshDeadline()
	return t, nil
}

// Pause takes the check out of monitoring until the next ping or Resume.
func (c *Check) Pause() Transition {
	t := Transition{Old: c.Status, New: StatusPaused}
	c.Status = StatusPaused
	c.LastStart = nil
	c.AlertAfter = nil
	return t
}

// Resume returns a paused check to new; it stays there until it is pinged again.
func (c *Check) Resume() Transition {
	t := Transition{Old: c.Status, New: c.Status}
	if c.Status != StatusPaused {
		return t
	}
	c.Status = StatusNew
	c.LastPing = nil
	c.LastStart = nil
	c.LastPingFailed = false
	c.AlertAfter = nil
	t.New = StatusNew
	return t
}

func (c *Check) refreshDeadline() {
	if c.Status != StatusUp {
		c.AlertAfter = nil
		if err := c.Schedule.Validate(); err != nil {
			c.ConfigError = err.Error()
		} else {
			c.ConfigError = ""
		}
		return
	}
	aa, err := AlertAfter(c.Snapshot())
	if err != nil {
		c.ConfigError = err.Error()
		c.AlertAfter = nil
		return
	}
	c.ConfigError = ""
	c.AlertAfter = aa
}

func outcomeStatus(kind ping.Kind, current Status) Status {
	switch kind {
	case ping.KindFail:
		return StatusDown
	case ping.KindSuccess:
		return StatusUp
	}
	if current == StatusPaused {
		return StatusNew
	}
	return current
}
