package check

import (
	"time"

	"github.com/NordCoder/Lastbeat/internal/schedule"
)

// Snapshot is everything status evaluation depends on.
type Snapshot struct {
	Schedule   schedule.Schedule
	LastPing   *time.Time
	LastStart  *time.Time
	LastFailed bool
	Paused     bool
}

// Evaluate computes the externally visible status of a check at now.
// An error is returned only when the schedule is needed and cannot be evaluated.
func Evaluate(s Snapshot, now time.Time) (Status, error) {
	switch {
	case s.Paused:
		return StatusPaused, nil
	case s.LastPing == nil:
		return StatusNew, nil
	case s.LastFailed:
		return StatusDown, nil
	}

	if s.LastStart != nil && !now.Before(s.LastStart.Add(s.Schedule.Grace)) {
		return StatusDown, nil
	}

	expected, err := s.Schedule.Expected(*s.LastPing)
	if err != nil {
		return "", err
	}
	deadline := expected.Add(s.Schedule.Grace)
	switch {
	case !now.Before(deadline):
		return StatusDown, nil
	case !now.Before(expected):
		return StatusGrace, nil
	default:
		return StatusUp, nil
	}
}

// Persistable maps an evaluated status to the value stored on the check.
// Grace is observable on read only.
func Persistable(st Status) Status {
	if st == StatusGrace {
		return StatusUp
	}
	return st
}

// AlertAfter returns the moment an up check turns down without further pings,
// or nil when the check is not subject to sweeping.
func AlertAfter(s Snapshot) (*time.Time, error) {
	if s.Paused || s.LastPing == nil || s.LastFailed {
		return nil, nil
	}
	deadline, err := s.Schedule.NextDeadline(*s.LastPing)
	if err != nil {
		return nil, err
	}
	if s.LastStart != nil {
		if started := s.LastStart.Add(s.Schedule.Grace); started.Before(deadline) {
			deadline = started
		}
	}
	return &deadline, nil
}
