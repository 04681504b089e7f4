package transport

import (
	"context"
	"html"

	"github.com/NordCoder/Lastbeat/internal/domain/channel"
)

type MSTeams struct {
	client *HTTPClient
}

func NewMSTeams(c *HTTPClient) *MSTeams { return &MSTeams{client: c} }

func (*MSTeams) Kind() channel.Kind { return channel.KindMSTeams }
func (*MSTeams) Name() string       { return "Microsoft Teams" }

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type teamsSection struct {
	Facts []teamsFact `json:"facts"`
	Text  string      `json:"text,omitempty"`
}

type teamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor"`
	Title      string         `json:"title"`
	Summary    string         `json:"summary"`
	Sections   []teamsSection `json:"sections"`
}

// Render builds a MessageCard. Teams renders markdown and HTML in text
// fields, so user text is HTML-escaped.
func (t *MSTeams) Render(n Notice) (*Message, error) {
	target, err := stringOrField(n.Channel, "url")
	if err != nil {
		return nil, err
	}
	if err := requireURL("url", target); err != nil {
		return nil, err
	}

	name := html.EscapeString(n.Check.DisplayName())
	color := "5cb85c"
	if n.Down() {
		color = "d9534f"
	}
	facts := []teamsFact{{Name: "Status", Value: upper(n.Status())}}
	if n.Check.Project != "" {
		facts = append(facts, teamsFact{Name: "Project", Value: html.EscapeString(n.Check.Project)})
	}
	if ago, ok := LastPingAgo(n); ok {
		facts = append(facts, teamsFact{Name: "Last Ping", Value: ago})
	}
	return jsonPost(target, teamsCard{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: color,
		Title:      "“" + name + "” is " + upper(n.Status()) + ".",
		Summary:    Subject(n),
		Sections:   []teamsSection{{Facts: facts, Text: html.EscapeString(n.Check.Desc)}},
	})
}

func (t *MSTeams) Send(ctx context.Context, m *Message) error { return t.client.Do(ctx, m) }
