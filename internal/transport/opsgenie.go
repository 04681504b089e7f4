package transport

import (
	"context"
	"net/url"
	"strings"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/channel"
)

type OpsgenieSettings struct {
	APIURL   string `mapstructure:"api_url"`
	EUAPIURL string `mapstructure:"eu_api_url"`
}

// Opsgenie creates an alert aliased by check code and closes it by alias.
type Opsgenie struct {
	client *HTTPClient
	cfg    OpsgenieSettings
}

func NewOpsgenie(c *HTTPClient, cfg OpsgenieSettings) *Opsgenie {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.opsgenie.com"
	}
	if cfg.EUAPIURL == "" {
		cfg.EUAPIURL = "https://api.eu.opsgenie.com"
	}
	return &Opsgenie{client: c, cfg: cfg}
}

func (*Opsgenie) Kind() channel.Kind { return channel.KindOpsgenie }
func (*Opsgenie) Name() string       { return "Opsgenie" }

type opsgenieTarget struct {
	Key    string `json:"key"`
	Region string `json:"region"`
}

type opsgenieAlert struct {
	Message     string            `json:"message"`
	Alias       string            `json:"alias"`
	Description string            `json:"description"`
	Source      string            `json:"source"`
	Tags        []string          `json:"tags,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

type opsgenieClose struct {
	Source string `json:"source"`
	Note   string `json:"note"`
}

// opsgenie truncates longer messages
const opsgenieMaxMessage = 130

func (o *Opsgenie) Render(n Notice) (*Message, error) {
	var tgt opsgenieTarget
	if n.Channel.IsJSON() {
		if err := n.Channel.DecodeValue(&tgt); err != nil {
			return nil, err
		}
	} else {
		tgt.Key = strings.TrimSpace(n.Channel.Value)
	}
	if tgt.Key == "" {
		return nil, domain.NewConfigError("key", "missing api key")
	}
	base := o.cfg.APIURL
	if tgt.Region == "eu" {
		base = o.cfg.EUAPIURL
	}
	base = strings.TrimRight(base, "/")
	alias := n.Check.Code.String()

	var (
		m   *Message
		err error
	)
	if n.Down() {
		msg := Subject(n)
		if r := []rune(msg); len(r) > opsgenieMaxMessage {
			msg = string(r[:opsgenieMaxMessage])
		}
		m, err = jsonPost(base+"/v2/alerts", opsgenieAlert{
			Message:     msg,
			Alias:       alias,
			Description: Summary(n),
			Source:      "lastbeat",
			Tags:        strings.Fields(n.Check.Tags),
			Details:     map[string]string{"Project": n.Check.Project},
		})
	} else {
		m, err = jsonPost(base+"/v2/alerts/"+url.PathEscape(alias)+"/close?identifierType=alias", opsgenieClose{
			Source: "lastbeat",
			Note:   Summary(n),
		})
	}
	if err != nil {
		return nil, err
	}
	m.Header["Authorization"] = "GenieKey " + tgt.Key
	return m, nil
}

func (o *Opsgenie) Send(ctx context.Context, m *Message) error { return o.client.Do(ctx, m) }
