package transport

import "go.uber.org/zap"

// Settings carries deployment wide transport configuration.
type Settings struct {
	HTTP      HTTPConfig        `mapstructure:"http"`
	Email     EmailSettings     `mapstructure:"email"`
	Telegram  TelegramSettings  `mapstructure:"telegram"`
	PagerDuty PagerDutySettings `mapstructure:"pagerduty"`
	Opsgenie  OpsgenieSettings  `mapstructure:"opsgenie"`
	Pushover  PushoverSettings  `mapstructure:"pushover"`
	Twilio    TwilioSettings    `mapstructure:"twilio"`
}

type EmailSettings struct {
	// Backend is "smtp", "sendgrid" or empty for no email delivery.
	Backend  string         `mapstructure:"backend"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	SendGrid SendGridConfig `mapstructure:"sendgrid"`
}

func (s EmailSettings) mailBackend(log *zap.Logger) MailBackend {
	switch s.Backend {
	case "smtp":
		return NewMailer(s.SMTP).WithLogger(log)
	case "sendgrid":
		return NewSendGrid(s.SendGrid).WithLogger(log)
	}
	return nil
}

// Build wires every known transport from settings.
func Build(s Settings, log *zap.Logger) *Registry {
	client := NewHTTPClient(s.HTTP).WithLogger(log)

	return NewRegistry(
		NewWebhook(client),
		NewEmail(s.Email.mailBackend(log)),
		NewSlack(client),
		NewMSTeams(client),
		NewTelegram(client, s.Telegram),
		NewPagerDuty(client, s.PagerDuty),
		NewOpsgenie(client, s.Opsgenie),
		NewVictorOps(client),
		NewPushover(client, s.Pushover),
		NewSMS(client, s.Twilio),
	)
}
