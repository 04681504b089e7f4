package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/channel"
)

type PushoverSettings struct {
	Token  string `mapstructure:"token"`
	APIURL string `mapstructure:"api_url"`
}

type Pushover struct {
	client *HTTPClient
	cfg    PushoverSettings
}

func NewPushover(c *HTTPClient, cfg PushoverSettings) *Pushover {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.pushover.net/1/messages.json"
	}
	return &Pushover{client: c, cfg: cfg}
}

func (*Pushover) Kind() channel.Kind { return channel.KindPushover }
func (*Pushover) Name() string       { return "Pushover" }
func (p *Pushover) Configured() bool { return p.cfg.Token != "" }

// pushoverOff as a priority silences one direction.
const pushoverOff = -3

type pushoverTarget struct {
	User       string
	Priority   int
	PriorityUp int
}

// parsePushover reads "user_key|priority|priority_up"; the priorities are optional.
func parsePushover(v string) (pushoverTarget, error) {
	parts := strings.Split(strings.TrimSpace(v), "|")
	t := pushoverTarget{User: parts[0]}
	if t.User == "" {
		return t, domain.NewConfigError("value", "missing pushover user key")
	}
	prio := func(i int) (int, error) {
		if len(parts) <= i || parts[i] == "" {
			return 0, nil
		}
		p, err := strconv.Atoi(parts[i])
		if err != nil || p < pushoverOff || p > 2 {
			return 0, domain.NewConfigError("value", "invalid pushover priority %q", parts[i])
		}
		return p, nil
	}
	var err error
	if t.Priority, err = prio(1); err != nil {
		return t, err
	}
	if len(parts) > 2 {
		if t.PriorityUp, err = prio(2); err != nil {
			return t, err
		}
	} else {
		t.PriorityUp = t.Priority
	}
	return t, nil
}

type pushoverReply struct {
	Status int      `json:"status"`
	Errors []string `json:"errors"`
}

func (p *Pushover) Render(n Notice) (*Message, error) {
	tgt, err := parsePushover(n.Channel.Value)
	if err != nil {
		return nil, err
	}
	prio := tgt.PriorityUp
	if n.Down() {
		prio = tgt.Priority
	}
	if prio == pushoverOff {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The check \"<b>%s</b>\" is <b>%s</b>.", html.EscapeString(n.Check.DisplayName()), upper(n.Status()))
	if n.Check.Project != "" {
		fmt.Fprintf(&b, "\n<b>Project:</b> %s", html.EscapeString(n.Check.Project))
	}
	if ago, ok := LastPingAgo(n); ok {
		fmt.Fprintf(&b, "\n<b>Last ping:</b> %s", ago)
	}

	form := url.Values{}
	form.Set("token", p.cfg.Token)
	form.Set("user", tgt.User)
	form.Set("title", html.EscapeString(Subject(n)))
	form.Set("message", b.String())
	form.Set("html", "1")
	form.Set("priority", strconv.Itoa(prio))
	if prio == 2 {
		// emergency priority requires a retry schedule
		form.Set("retry", "300")
		form.Set("expire", "3600")
	}

	return &Message{
		Method:  "POST",
		URL:     p.cfg.APIURL,
		Header:  map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    []byte(form.Encode()),
		Inspect: inspectPushover,
	}, nil
}

func inspectPushover(status int, body []byte) error {
	var r pushoverReply
	if err := json.Unmarshal(body, &r); err != nil {
		return nil
	}
	switch {
	case status >= 200 && status < 300 && r.Status != 1:
		return domain.Permanent("Pushover rejected the message: %s", strings.Join(r.Errors, "; "))
	case status >= 400 && status < 500 && len(r.Errors) > 0:
		return domain.Permanent("Received status code %d with a message: %s", status, strings.Join(r.Errors, "; "))
	}
	return nil
}

func (p *Pushover) Send(ctx context.Context, m *Message) error { return p.client.Do(ctx, m) }
