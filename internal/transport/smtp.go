package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"go.uber.org/zap"
)

type SMTPConfig struct {
	Addr       string        `mapstructure:"addr"`
	From       string        `mapstructure:"from"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	UseTLS     bool          `mapstructure:"use_tls"`
	VerifyTLS  bool          `mapstructure:"verify_tls"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SubjPrefix string        `mapstructure:"subj_prefix"`
}

// Mailer delivers mail over SMTP, with implicit TLS or opportunistic STARTTLS.
type Mailer struct {
	cfg  SMTPConfig
	host string
	auth smtp.Auth
	log  *zap.Logger
}

var _ MailBackend = (*Mailer)(nil)

func NewMailer(cfg SMTPConfig) *Mailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	host := cfg.Addr
	if h, _, err := net.SplitHostPort(cfg.Addr); err == nil {
		host = h
	}
	var auth smtp.Auth
	if cfg.User != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, host)
	}
	return &Mailer{
		cfg:  cfg,
		host: host,
		auth: auth,
		log:  zap.L().With(zap.String("component", "transport.smtp")),
	}
}

func (m *Mailer) WithLogger(l *zap.Logger) *Mailer {
	if l == nil {
		return m
	}
	cp := *m
	cp.log = l.With(zap.String("component", "transport.smtp"))
	return &cp
}

func (m *Mailer) Deliver(ctx context.Context, mail *Mail) error {
	subject := strings.TrimSpace(m.cfg.SubjPrefix + " " + mail.Subject)
	raw, err := buildMIME(m.cfg.From, subject, mail)
	if err != nil {
		return domain.Permanent("Invalid email: %v", err)
	}

	start := time.Now()
	log := m.log.With(
		zap.String("smtp_addr", m.cfg.Addr),
		zap.Bool("tls", m.cfg.UseTLS),
		zap.Strings("to", mail.To),
		zap.String("subject", subject),
	)

	if err := m.send(ctx, mail.To, raw); err != nil {
		log.Warn("smtp delivery failed", zap.Error(err))
		return classifySMTP(err)
	}
	log.Info("email sent", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (m *Mailer) send(ctx context.Context, to []string, raw []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	tlsCfg := &tls.Config{ServerName: m.host, InsecureSkipVerify: !m.cfg.VerifyTLS, MinVersion: tls.VersionTLS12}
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", m.cfg.Addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if m.cfg.UseTLS {
		tc := tls.Client(conn, tlsCfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return err
		}
		conn = tc
	}

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() { _ = c.Close() }()

	if !m.cfg.UseTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsCfg); err != nil {
				return err
			}
		}
	}
	if m.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(m.auth); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(m.cfg.From); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// classifySMTP maps 5xx replies to permanent failures and everything else to
// transient ones.
func classifySMTP(err error) error {
	var te *textproto.Error
	if errors.As(err, &te) {
		if te.Code >= 500 {
			return domain.Permanent("SMTP error %d: %s", te.Code, te.Msg)
		}
		return domain.Transient("SMTP error %d: %s", te.Code, te.Msg)
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return domain.Transient("Connection timed out")
	}
	return domain.Transient("Connection failed")
}

func buildMIME(from, subject string, mail *Mail) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := map[string]string{
		"From":         from,
		"To":           strings.Join(mail.To, ", "),
		"Subject":      mime.QEncoding.Encode("utf-8", subject),
		"MIME-Version": "1.0",
		"Date":         time.Now().UTC().Format(time.RFC1123Z),
		"Content-Type": "multipart/alternative; boundary=" + mw.Boundary(),
	}
	for k, v := range mail.Headers {
		hdr[k] = v
	}
	keys := make([]string, 0, len(hdr))
	for k := range hdr {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out bytes.Buffer
	for _, k := range keys {
		if strings.ContainsAny(hdr[k], "\r\n") {
			return nil, fmt.Errorf("header %s contains a line break", k)
		}
		fmt.Fprintf(&out, "%s: %s\r\n", k, hdr[k])
	}
	out.WriteString("\r\n")

	for _, part := range []struct{ ctype, body string }{
		{"text/plain; charset=utf-8", mail.Text},
		{"text/html; charset=utf-8", mail.HTML},
	} {
		if part.body == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.body)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	out.Write(buf.Bytes())
	return out.Bytes(), nil
}
