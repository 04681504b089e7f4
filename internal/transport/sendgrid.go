package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

type SendGridConfig struct {
	APIKey   string `mapstructure:"api_key"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
	Host     string `mapstructure:"host"`
}

// SendGrid delivers mail through the SendGrid v3 API.
type SendGrid struct {
	client *sendgrid.Client
	from   *mail.Email
	log    *zap.Logger
}

var _ MailBackend = (*SendGrid)(nil)

func NewSendGrid(cfg SendGridConfig) *SendGrid {
	client := sendgrid.NewSendClient(cfg.APIKey)
	if cfg.Host != "" {
		client.BaseURL = strings.TrimRight(cfg.Host, "/") + "/v3/mail/send"
	}
	return &SendGrid{
		client: client,
		from:   mail.NewEmail(cfg.FromName, cfg.From),
		log:    zap.L().With(zap.String("component", "transport.sendgrid")),
	}
}

func (s *SendGrid) WithLogger(l *zap.Logger) *SendGrid {
	if l == nil {
		return s
	}
	cp := *s
	cp.log = l.With(zap.String("component", "transport.sendgrid"))
	return &cp
}

func (s *SendGrid) Deliver(ctx context.Context, m *Mail) error {
	if len(m.To) == 0 {
		return domain.Permanent("no recipients")
	}
	msg := mail.NewV3Mail()
	msg.SetFrom(s.from)
	msg.Subject = m.Subject

	p := mail.NewPersonalization()
	for _, to := range m.To {
		p.AddTos(mail.NewEmail("", to))
	}
	msg.AddPersonalizations(p)
	msg.AddContent(mail.NewContent("text/plain", m.Text))
	if m.HTML != "" {
		msg.AddContent(mail.NewContent("text/html", m.HTML))
	}
	for k, v := range m.Headers {
		msg.SetHeader(k, v)
	}

	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		s.log.Warn("sendgrid request failed", zap.Error(err))
		return classifyNetErr(err)
	}
	var retryAfter string
	if v := resp.Headers["Retry-After"]; len(v) > 0 {
		retryAfter = v[0]
	}
	if err := classifyStatus(resp.StatusCode, retryAfter, time.Now()); err != nil {
		s.log.Warn("sendgrid rejected message", zap.Int("status", resp.StatusCode), zap.String("body", resp.Body))
		return fmt.Errorf("sendgrid: %w", err)
	}
	return nil
}
