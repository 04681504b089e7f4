package transport

import (
	"context"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/channel"
)

type PagerDutySettings struct {
	EventsURL string `mapstructure:"events_url"`
}

// PagerDuty sends Events API v2 trigger/resolve pairs deduplicated by check code.
type PagerDuty struct {
	client *HTTPClient
	cfg    PagerDutySettings
}

func NewPagerDuty(c *HTTPClient, cfg PagerDutySettings) *PagerDuty {
	if cfg.EventsURL == "" {
		cfg.EventsURL = "https://events.pagerduty.com/v2/enqueue"
	}
	return &PagerDuty{client: c, cfg: cfg}
}

func (*PagerDuty) Kind() channel.Kind { return channel.KindPagerDuty }
func (*PagerDuty) Name() string       { return "PagerDuty" }

type pdPayload struct {
	Summary       string            `json:"summary"`
	Source        string            `json:"source"`
	Severity      string            `json:"severity"`
	Timestamp     string            `json:"timestamp"`
	CustomDetails map[string]string `json:"custom_details,omitempty"`
}

type pdEvent struct {
	RoutingKey  string     `json:"routing_key"`
	EventAction string     `json:"event_action"`
	DedupKey    string     `json:"dedup_key"`
	Payload     *pdPayload `json:"payload,omitempty"`
}

func (p *PagerDuty) Render(n Notice) (*Message, error) {
	key, err := stringOrField(n.Channel, "service_key")
	if err != nil {
		return nil, err
	}
	ev := pdEvent{
		RoutingKey:  key,
		EventAction: "resolve",
		DedupKey:    n.Check.Code.String(),
	}
	if n.Down() {
		ev.EventAction = "trigger"
		details := map[string]string{"Project": n.Check.Project}
		if n.Check.Tags != "" {
			details["Tags"] = n.Check.Tags
		}
		if n.Check.Desc != "" {
			details["Description"] = n.Check.Desc
		}
		ev.Payload = &pdPayload{
			Summary:       Summary(n),
			Source:        "lastbeat",
			Severity:      "critical",
			Timestamp:     n.Flip.CreatedAt.UTC().Format(time.RFC3339),
			CustomDetails: details,
		}
	}
	return jsonPost(p.cfg.EventsURL, ev)
}

func (p *PagerDuty) Send(ctx context.Context, m *Message) error { return p.client.Do(ctx, m) }
