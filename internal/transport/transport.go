// Package transport renders flips into per-kind wire messages and delivers them.
//
// Transports only classify outcomes. Retries, timeouts across attempts and
// channel disabling belong to the dispatcher.
package transport

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/channel"
	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/domain/flip"
	"github.com/NordCoder/Lastbeat/internal/domain/ping"
)

// Notice is the input every transport renders from.
type Notice struct {
	Check    *check.Check
	Flip     *flip.Flip
	Channel  *channel.Channel
	LastPing *ping.Ping
	Now      time.Time
}

// Status is the status being announced. It always comes from the flip, the
// check may have moved on since.
func (n Notice) Status() check.Status { return n.Flip.NewStatus }

func (n Notice) Down() bool { return n.Flip.NewStatus == check.StatusDown }

// Message is a rendered payload. HTTP transports fill the request fields,
// the email transport fills Email. A nil *Message means nothing to send.
type Message struct {
	Method   string
	URL      string
	Header   map[string]string
	Body     []byte
	User     string
	Password string

	// Inspect sees every response before the default status classification.
	// A non-nil error replaces the default outcome.
	Inspect func(status int, body []byte) error

	Email *Mail
}

type Mail struct {
	To      []string
	Subject string
	Text    string
	HTML    string
	Headers map[string]string
}

type Transport interface {
	Kind() channel.Kind
	// Name is the human readable integration name.
	Name() string
	Render(n Notice) (*Message, error)
	Send(ctx context.Context, m *Message) error
}

// DisabledError is the fixed notification error for a kind turned off in config.
func DisabledError(t Transport) string {
	return fmt.Sprintf("%s notifications are not enabled.", t.Name())
}

type Registry struct {
	byKind map[channel.Kind]Transport
}

func NewRegistry(ts ...Transport) *Registry {
	r := &Registry{byKind: make(map[channel.Kind]Transport, len(ts))}
	for _, t := range ts {
		r.byKind[t.Kind()] = t
	}
	return r
}

func (r *Registry) Get(kind channel.Kind) (Transport, bool) {
	t, ok := r.byKind[kind]
	return t, ok
}

func (r *Registry) Kinds() []channel.Kind {
	out := make([]channel.Kind, 0, len(r.byKind))
	for k := range r.byKind {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Configurable is implemented by transports that need deployment credentials.
// An unconfigured transport is treated as disabled.
type Configurable interface {
	Configured() bool
}

// Ready reports whether t can be used with the current settings.
func Ready(t Transport) bool {
	c, ok := t.(Configurable)
	return !ok || c.Configured()
}
