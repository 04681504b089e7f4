package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/channel"
)

type webhookSpec struct {
	Method  string            `json:"method"`
	URLDown string            `json:"url_down"`
	URLUp   string            `json:"url_up"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Webhook calls a user supplied URL. Placeholders are URL-escaped in the URL
// and substituted verbatim in the body and headers.
type Webhook struct {
	client *HTTPClient
}

func NewWebhook(c *HTTPClient) *Webhook { return &Webhook{client: c} }

func (*Webhook) Kind() channel.Kind { return channel.KindWebhook }
func (*Webhook) Name() string       { return "Webhook" }

func (w *Webhook) Render(n Notice) (*Message, error) {
	var spec webhookSpec
	if err := n.Channel.DecodeValue(&spec); err != nil {
		return nil, err
	}
	target := spec.URLUp
	if n.Down() {
		target = spec.URLDown
	}
	if strings.TrimSpace(target) == "" {
		return nil, nil
	}

	target = placeholders(target, n, urlEscape)
	if err := requireURL("url", target); err != nil {
		return nil, err
	}

	method := strings.ToUpper(spec.Method)
	switch method {
	case "":
		method = http.MethodGet
		if spec.Body != "" {
			method = http.MethodPost
		}
	case http.MethodGet, http.MethodPost, http.MethodPut:
	default:
		return nil, domain.NewConfigError("method", "unsupported method %q", spec.Method)
	}

	headers := make(map[string]string, len(spec.Headers))
	for k, v := range spec.Headers {
		headers[k] = placeholders(v, n, identity)
	}
	var body []byte
	if spec.Body != "" {
		body = []byte(placeholders(spec.Body, n, identity))
	}
	return &Message{Method: method, URL: target, Header: headers, Body: body}, nil
}

var queryEscaper = strings.NewReplacer("&", "%26", "=", "%3D", "+", "%2B", "#", "%23")

// urlEscape makes a value safe in both path and query positions.
func urlEscape(s string) string { return queryEscaper.Replace(url.PathEscape(s)) }

func (w *Webhook) Send(ctx context.Context, m *Message) error { return w.client.Do(ctx, m) }
