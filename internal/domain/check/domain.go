package check

import (
	"time"

	"github.com/NordCoder/Lastbeat/internal/schedule"
	"github.com/google/uuid"
)

type Status string

const (
	StatusNew    Status = "new"
	StatusUp     Status = "up"
	StatusDown   Status = "down"
	StatusGrace  Status = "grace"
	StatusPaused Status = "paused"
)

type Check struct {
	ID       int64             `json:"-"`
	Code     uuid.UUID         `json:"code"`
	Project  string            `json:"project"`
	Name     string            `json:"name"`
	Tags     string            `json:"tags"`
	Desc     string            `json:"desc"`
	Schedule schedule.Schedule `json:"schedule"`

	Status         Status     `json:"status"`
	LastPing       *time.Time `json:"last_ping"`
	LastStart      *time.Time `json:"last_start"`
	LastPingFailed bool       `json:"last_ping_failed"`
	NPings         int64      `json:"n_pings"`
	AlertAfter     *time.Time `json:"alert_after"`
	ConfigError    string     `json:"config_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Check) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Code.String()
}

func (c *Check) Snapshot() Snapshot {
	return Snapshot{
		Schedule:   c.Schedule,
		LastPing:   c.LastPing,
		LastStart:  c.LastStart,
		LastFailed: c.LastPingFailed,
		Paused:     c.Status == StatusPaused,
	}
}
