package transport

import (
	"context"
	"strings"

	"github.com/NordCoder/Lastbeat/internal/domain/channel"
)

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

type Slack struct {
	client *HTTPClient
}

func NewSlack(c *HTTPClient) *Slack { return &Slack{client: c} }

func (*Slack) Kind() channel.Kind { return channel.KindSlack }
func (*Slack) Name() string       { return "Slack" }

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color    string       `json:"color"`
	Fallback string       `json:"fallback"`
	Fields   []slackField `json:"fields"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

func (s *Slack) Render(n Notice) (*Message, error) {
	target, err := stringOrField(n.Channel, "url")
	if err != nil {
		return nil, err
	}
	if err := requireURL("url", target); err != nil {
		return nil, err
	}

	name := slackEscaper.Replace(n.Check.DisplayName())
	text := "The check \"" + name + "\" is *" + upper(n.Status()) + "*."
	color := "good"
	if n.Down() {
		color = "danger"
	}
	var fields []slackField
	if n.Check.Project != "" {
		fields = append(fields, slackField{Title: "Project", Value: slackEscaper.Replace(n.Check.Project), Short: true})
	}
	if tags := strings.Fields(n.Check.Tags); len(tags) > 0 {
		fields = append(fields, slackField{Title: "Tags", Value: slackEscaper.Replace(strings.Join(tags, " ")), Short: true})
	}
	if ago, ok := LastPingAgo(n); ok {
		fields = append(fields, slackField{Title: "Last Ping", Value: ago, Short: true})
	}
	return jsonPost(target, slackPayload{
		Text:        text,
		Attachments: []slackAttachment{{Color: color, Fallback: text, Fields: fields}},
	})
}

func (s *Slack) Send(ctx context.Context, m *Message) error { return s.client.Do(ctx, m) }
