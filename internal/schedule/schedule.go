package schedule

import (
	"strings"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/robfig/cron/v3"
)

type Kind string

const (
	KindSimple Kind = "simple"
	KindCron   Kind = "cron"
)

// Schedule describes when a check is expected to ping.
type Schedule struct {
	Kind    Kind          `json:"kind"`
	Timeout time.Duration `json:"timeout"`
	Grace   time.Duration `json:"grace"`
	Cron    string        `json:"cron,omitempty"`
	TZ      string        `json:"tz,omitempty"`
}

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func Simple(timeout, grace time.Duration) Schedule {
	return Schedule{Kind: KindSimple, Timeout: timeout, Grace: grace}
}

func Cron(expr, tz string, grace time.Duration) Schedule {
	return Schedule{Kind: KindCron, Cron: expr, TZ: tz, Grace: grace}
}

func (s Schedule) Validate() error {
	_, err := s.nextFn()
	return err
}

// Expected returns the moment the next ping is due after ref, without grace.
func (s Schedule) Expected(ref time.Time) (time.Time, error) {
	next, err := s.nextFn()
	if err != nil {
		return time.Time{}, err
	}
	return next(ref)
}

// NextDeadline returns the moment after which a check last pinged at ref is late.
func (s Schedule) NextDeadline(ref time.Time) (time.Time, error) {
	exp, err := s.Expected(ref)
	if err != nil {
		return time.Time{}, err
	}
	return exp.Add(s.Grace), nil
}

func (s Schedule) nextFn() (func(time.Time) (time.Time, error), error) {
	if s.Grace < 0 {
		return nil, domain.NewConfigError("grace", "must not be negative")
	}
	switch s.Kind {
	case KindSimple, "":
		if s.Timeout <= 0 {
			return nil, domain.NewConfigError("timeout", "must be positive")
		}
		return func(ref time.Time) (time.Time, error) { return ref.Add(s.Timeout), nil }, nil
	case KindCron:
		loc, err := location(s.TZ)
		if err != nil {
			return nil, err
		}
		expr := strings.TrimSpace(s.Cron)
		if expr == "" {
			return nil, domain.NewConfigError("cron", "empty expression")
		}
		if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
			return nil, domain.NewConfigError("cron", "timezone must be set through tz")
		}
		sched, err := parser.Parse(expr)
		if err != nil {
			return nil, domain.NewConfigError("cron", "%v", err)
		}
		return func(ref time.Time) (time.Time, error) {
			next := sched.Next(ref.In(loc))
			if next.IsZero() {
				return time.Time{}, domain.NewConfigError("cron", "expression %q never fires", expr)
			}
			return next.UTC(), nil
		}, nil
	default:
		return nil, domain.NewConfigError("kind", "unknown schedule kind %q", s.Kind)
	}
}

func location(tz string) (*time.Location, error) {
	if tz == "" || tz == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, domain.NewConfigError("tz", "unknown timezone %q", tz)
	}
	return loc, nil
}
