package notification

import (
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/check"
)

// Notification is the terminal delivery outcome of one flip to one channel.
type Notification struct {
	ID          int64        `json:"id"`
	ChannelID   int64        `json:"channel_id"`
	CheckID     int64        `json:"-"`
	FlipID      int64        `json:"flip_id"`
	CheckStatus check.Status `json:"check_status"`
	CreatedAt   time.Time    `json:"created_at"`
	Error       string       `json:"error"`
}

func (n *Notification) Succeeded() bool { return n.Error == "" }
