package dispatcher

import (
	"sync/atomic"

	"github.com/NordCoder/Lastbeat/internal/domain/channel"
)

// KindGate decides whether notifications of a kind may be sent.
type KindGate interface {
	Enabled(kind channel.Kind) bool
}

// AllKinds enables every kind.
type AllKinds struct{}

func (AllKinds) Enabled(channel.Kind) bool { return true }

// SwitchGate is a gate that can be replaced at runtime, e.g. on config reload.
// Kinds missing from the map are enabled.
type SwitchGate struct {
	kinds atomic.Pointer[map[channel.Kind]bool]
}

func NewSwitchGate(enabled map[string]bool) *SwitchGate {
	g := &SwitchGate{}
	g.Set(enabled)
	return g
}

func (g *SwitchGate) Set(enabled map[string]bool) {
	m := make(map[channel.Kind]bool, len(enabled))
	for k, v := range enabled {
		m[channel.Kind(k)] = v
	}
	g.kinds.Store(&m)
}

func (g *SwitchGate) Enabled(kind channel.Kind) bool {
	m := g.kinds.Load()
	if m == nil {
		return true
	}
	on, ok := (*m)[kind]
	return !ok || on
}
