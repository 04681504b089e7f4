package transport

import (
	"context"
	"net/url"
	"strings"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/channel"
)

type TwilioSettings struct {
	Account   string `mapstructure:"account"`
	AuthToken string `mapstructure:"auth_token"`
	From      string `mapstructure:"from"`
	APIURL    string `mapstructure:"api_url"`
}

// SMS sends text messages through the Twilio Messages API.
type SMS struct {
	client *HTTPClient
	cfg    TwilioSettings
}

func NewSMS(c *HTTPClient, cfg TwilioSettings) *SMS {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.twilio.com"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &SMS{client: c, cfg: cfg}
}

func (*SMS) Kind() channel.Kind { return channel.KindSMS }
func (*SMS) Name() string       { return "SMS" }
func (s *SMS) Configured() bool {
	return s.cfg.Account != "" && s.cfg.AuthToken != "" && s.cfg.From != ""
}

type phoneTarget struct {
	Value string `json:"value"`
	directionFilter
}

func decodePhone(ch *channel.Channel) (phoneTarget, error) {
	var t phoneTarget
	if ch.IsJSON() {
		if err := ch.DecodeValue(&t); err != nil {
			return t, err
		}
	} else {
		t.Value = strings.TrimSpace(ch.Value)
	}
	if !strings.HasPrefix(t.Value, "+") || len(t.Value) < 8 {
		return t, domain.NewConfigError("value", "invalid phone number %q", t.Value)
	}
	return t, nil
}

func (s *SMS) Render(n Notice) (*Message, error) {
	tgt, err := decodePhone(n.Channel)
	if err != nil {
		return nil, err
	}
	if !tgt.wants(n) {
		return nil, nil
	}

	text := "The check \"" + n.Check.DisplayName() + "\" is " + upper(n.Status()) + "."
	if n.Down() {
		if ago, ok := LastPingAgo(n); ok {
			text += " Last ping was " + ago + "."
		}
	}

	form := url.Values{}
	form.Set("From", s.cfg.From)
	form.Set("To", tgt.Value)
	form.Set("Body", text)

	return &Message{
		Method:   "POST",
		URL:      s.cfg.APIURL + "/2010-04-01/Accounts/" + url.PathEscape(s.cfg.Account) + "/Messages.json",
		Header:   map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:     []byte(form.Encode()),
		User:     s.cfg.Account,
		Password: s.cfg.AuthToken,
	}, nil
}

func (s *SMS) Send(ctx context.Context, m *Message) error { return s.client.Do(ctx, m) }
