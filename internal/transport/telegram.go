package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/channel"
)

type TelegramSettings struct {
	Token  string `mapstructure:"token"`
	APIURL string `mapstructure:"api_url"`
}

type Telegram struct {
	client *HTTPClient
	cfg    TelegramSettings
}

func NewTelegram(c *HTTPClient, cfg TelegramSettings) *Telegram {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Telegram{client: c, cfg: cfg}
}

func (*Telegram) Kind() channel.Kind { return channel.KindTelegram }
func (*Telegram) Name() string       { return "Telegram" }
func (t *Telegram) Configured() bool { return t.cfg.Token != "" }

type telegramTarget struct {
	ID       int64 `json:"id"`
	ThreadID int64 `json:"thread_id"`
}

type telegramPayload struct {
	ChatID                int64  `json:"chat_id"`
	ThreadID              int64  `json:"message_thread_id,omitempty"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *Telegram) target(ch *channel.Channel) (telegramTarget, error) {
	var tt telegramTarget
	if ch.IsJSON() {
		if err := ch.DecodeValue(&tt); err != nil {
			return tt, err
		}
	} else {
		id, err := strconv.ParseInt(strings.TrimSpace(ch.Value), 10, 64)
		if err != nil {
			return tt, domain.NewConfigError("id", "invalid chat id %q", ch.Value)
		}
		tt.ID = id
	}
	if tt.ID == 0 {
		return tt, domain.NewConfigError("id", "missing chat id")
	}
	return tt, nil
}

func (t *Telegram) Render(n Notice) (*Message, error) {
	tt, err := t.target(n.Channel)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	icon := "🟢"
	if n.Down() {
		icon = "🔴"
	}
	fmt.Fprintf(&b, "%s The check \"<b>%s</b>\" is <b>%s</b>.", icon, html.EscapeString(n.Check.DisplayName()), upper(n.Status()))
	if n.Check.Project != "" {
		fmt.Fprintf(&b, "\n<b>Project:</b> %s", html.EscapeString(n.Check.Project))
	}
	if n.Check.Tags != "" {
		fmt.Fprintf(&b, "\n<b>Tags:</b> %s", html.EscapeString(n.Check.Tags))
	}
	if ago, ok := LastPingAgo(n); ok {
		fmt.Fprintf(&b, "\n<b>Last ping:</b> %s", ago)
	}

	m, err := jsonPost(t.cfg.APIURL+"/bot"+t.cfg.Token+"/sendMessage", telegramPayload{
		ChatID:                tt.ID,
		ThreadID:              tt.ThreadID,
		Text:                  b.String(),
		ParseMode:             "html",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return nil, err
	}
	m.Inspect = inspectTelegram
	return m, nil
}

// inspectTelegram handles replies whose meaning is in the body: ok=false on a
// 200 and the retry_after hint on a 429.
func inspectTelegram(status int, body []byte) error {
	var r telegramReply
	if err := json.Unmarshal(body, &r); err != nil {
		return nil
	}
	switch {
	case status == http.StatusTooManyRequests:
		return &domain.TransientDeliveryError{
			Msg:        "Rate limited (status code 429)",
			RetryAfter: time.Duration(r.Parameters.RetryAfter) * time.Second,
		}
	case status >= 200 && status < 300 && !r.OK:
		return domain.Permanent("Telegram rejected the message: %s", r.Description)
	case status >= 400 && status < 500 && r.Description != "":
		return domain.Permanent("Received status code %d with a message: %s", status, r.Description)
	}
	return nil
}

func (t *Telegram) Send(ctx context.Context, m *Message) error { return t.client.Do(ctx, m) }
