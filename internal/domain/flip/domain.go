package flip

import (
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/check"
)

// Flip is a recorded status transition of a check.
type Flip struct {
	ID          int64        `json:"id"`
	CheckID     int64        `json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
	OldStatus   check.Status `json:"old_status"`
	NewStatus   check.Status `json:"new_status"`
	Reason      check.Reason `json:"reason,omitempty"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
}

// Alerting reports whether channels are notified about this flip.
// Going down always alerts; going up alerts only as a recovery from down.
// Pausing, resuming and the first ping of a new or resumed check are silent.
func (f *Flip) Alerting() bool {
	switch f.NewStatus {
	case check.StatusDown:
		return true
	case check.StatusUp:
		return f.OldStatus == check.StatusDown || f.OldStatus == check.StatusGrace
	}
	return false
}
