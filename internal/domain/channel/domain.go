package channel

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/google/uuid"
)

type Kind string

const (
	KindWebhook   Kind = "webhook"
	KindEmail     Kind = "email"
	KindSlack     Kind = "slack"
	KindMSTeams   Kind = "msteams"
	KindTelegram  Kind = "telegram"
	KindPagerDuty Kind = "pagerduty"
	KindOpsgenie  Kind = "opsgenie"
	KindVictorOps Kind = "victorops"
	KindPushover  Kind = "pushover"
	KindSMS       Kind = "sms"
)

type Channel struct {
	ID        int64     `json:"id"`
	Code      uuid.UUID `json:"code"`
	Project   string    `json:"project"`
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
}

// DecodeValue parses a JSON channel value into dst.
func (c *Channel) DecodeValue(dst any) error {
	if strings.TrimSpace(c.Value) == "" {
		return domain.NewConfigError("value", "empty %s channel configuration", c.Kind)
	}
	if err := json.Unmarshal([]byte(c.Value), dst); err != nil {
		return domain.NewConfigError("value", "invalid %s channel configuration: %v", c.Kind, err)
	}
	return nil
}

// IsJSON reports whether the value is a JSON document rather than a bare string.
func (c *Channel) IsJSON() bool {
	v := strings.TrimSpace(c.Value)
	return strings.HasPrefix(v, "{") || strings.HasPrefix(v, "[")
}
