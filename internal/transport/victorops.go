package transport

import (
	"context"

	"github.com/NordCoder/Lastbeat/internal/domain/channel"
)

// VictorOps posts to a Splunk On-Call REST endpoint. The state message is plain
// text and is sent without escaping.
type VictorOps struct {
	client *HTTPClient
}

func NewVictorOps(c *HTTPClient) *VictorOps { return &VictorOps{client: c} }

func (*VictorOps) Kind() channel.Kind { return channel.KindVictorOps }
func (*VictorOps) Name() string       { return "Splunk On-Call" }

type victorOpsPayload struct {
	EntityID          string `json:"entity_id"`
	MessageType       string `json:"message_type"`
	EntityDisplayName string `json:"entity_display_name"`
	StateMessage      string `json:"state_message"`
	MonitoringTool    string `json:"monitoring_tool"`
}

func (v *VictorOps) Render(n Notice) (*Message, error) {
	target, err := stringOrField(n.Channel, "url")
	if err != nil {
		return nil, err
	}
	if err := requireURL("url", target); err != nil {
		return nil, err
	}
	mt := "RECOVERY"
	if n.Down() {
		mt = "CRITICAL"
	}
	return jsonPost(target, victorOpsPayload{
		EntityID:          n.Check.Code.String(),
		MessageType:       mt,
		EntityDisplayName: n.Check.DisplayName(),
		StateMessage:      Summary(n),
		MonitoringTool:    "lastbeat",
	})
}

func (v *VictorOps) Send(ctx context.Context, m *Message) error { return v.client.Do(ctx, m) }
