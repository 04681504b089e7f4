package transport

import (
	"bytes"
	"context"
	htmltemplate "html/template"
	"net/mail"
	"strings"
	"text/template"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/channel"
)

// MailBackend delivers one rendered email. Implementations classify their own
// failures into transient and permanent delivery errors.
type MailBackend interface {
	Deliver(ctx context.Context, m *Mail) error
}

func NewEmail(b MailBackend) *EmailTransport { return &EmailTransport{backend: b} }

type EmailTransport struct {
	backend MailBackend
}

func (*EmailTransport) Kind() channel.Kind { return channel.KindEmail }
func (*EmailTransport) Name() string       { return "Email" }
func (e *EmailTransport) Configured() bool { return e.backend != nil }

type emailTarget struct {
	Value string `json:"value"`
	directionFilter
}

type emailView struct {
	Name    string
	Status  string
	Down    bool
	Project string
	Tags    []string
	Desc    string
	Code    string
	LastAgo string
	Reason  string
}

var emailText = template.Must(template.New("text").Parse(`The check "{{.Name}}" is {{.Status}}.
{{if .Project}}
Project: {{.Project}}{{end}}{{if .Tags}}
Tags: {{range $i, $t := .Tags}}{{if $i}} {{end}}{{$t}}{{end}}{{end}}{{if .LastAgo}}
Last ping: {{.LastAgo}}{{end}}{{if .Reason}}
Reason: {{.Reason}}{{end}}{{if .Desc}}

{{.Desc}}{{end}}
`))

var emailHTML = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html><body>
<p>The check <b>{{.Name}}</b> is <b style="color:{{if .Down}}#d9534f{{else}}#5cb85c{{end}}">{{.Status}}</b>.</p>
<table>
{{if .Project}}<tr><td>Project</td><td>{{.Project}}</td></tr>{{end}}
{{if .Tags}}<tr><td>Tags</td><td>{{range .Tags}}<code>{{.}}</code> {{end}}</td></tr>{{end}}
{{if .LastAgo}}<tr><td>Last ping</td><td>{{.LastAgo}}</td></tr>{{end}}
{{if .Reason}}<tr><td>Reason</td><td>{{.Reason}}</td></tr>{{end}}
</table>
{{if .Desc}}<p>{{.Desc}}</p>{{end}}
</body></html>
`))

func (e *EmailTransport) Render(n Notice) (*Message, error) {
	var tgt emailTarget
	if n.Channel.IsJSON() {
		if err := n.Channel.DecodeValue(&tgt); err != nil {
			return nil, err
		}
	} else {
		tgt.Value = strings.TrimSpace(n.Channel.Value)
	}
	addr, err := mail.ParseAddress(tgt.Value)
	if err != nil {
		return nil, domain.NewConfigError("value", "invalid email address %q", tgt.Value)
	}
	if !tgt.wants(n) {
		return nil, nil
	}

	v := emailView{
		Name:    n.Check.DisplayName(),
		Status:  upper(n.Status()),
		Down:    n.Down(),
		Project: n.Check.Project,
		Tags:    strings.Fields(n.Check.Tags),
		Desc:    n.Check.Desc,
		Code:    n.Check.Code.String(),
		Reason:  string(n.Flip.Reason),
	}
	if ago, ok := LastPingAgo(n); ok {
		v.LastAgo = ago
	}

	var text, body bytes.Buffer
	if err := emailText.Execute(&text, v); err != nil {
		return nil, err
	}
	if err := emailHTML.Execute(&body, v); err != nil {
		return nil, err
	}
	return &Message{Email: &Mail{
		To:      []string{addr.Address},
		Subject: Subject(n),
		Text:    text.String(),
		HTML:    body.String(),
		Headers: map[string]string{"X-Lastbeat-Check": v.Code},
	}}, nil
}

func (e *EmailTransport) Send(ctx context.Context, m *Message) error {
	if m.Email == nil {
		return domain.Permanent("empty email message")
	}
	return e.backend.Deliver(ctx, m.Email)
}
