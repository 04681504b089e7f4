// Package memstore is an in-memory implementation of the domain stores for tests.
//
// WithTx serializes transactions behind one mutex and rolls back by restoring a
// snapshot, which is enough to exercise per-check single-writer and atomicity
// properties without a database.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/channel"
	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/domain/flip"
	"github.com/NordCoder/Lastbeat/internal/domain/notification"
	"github.com/NordCoder/Lastbeat/internal/domain/outbox"
	"github.com/NordCoder/Lastbeat/internal/domain/ping"
	"github.com/google/uuid"
)

type txKey struct{}

type state struct {
	checks        map[int64]check.Check
	pings         []ping.Ping
	flips         []flip.Flip
	channels      map[int64]channel.Channel
	bindings      map[int64][]int64
	notifications []notification.Notification
	outbox        []outbox.Message
	seq           int64
}

func (s *state) clone() state {
	cp := state{
		checks:        make(map[int64]check.Check, len(s.checks)),
		pings:         append([]ping.Ping(nil), s.pings...),
		flips:         append([]flip.Flip(nil), s.flips...),
		channels:      make(map[int64]channel.Channel, len(s.channels)),
		bindings:      make(map[int64][]int64, len(s.bindings)),
		notifications: append([]notification.Notification(nil), s.notifications...),
		outbox:        append([]outbox.Message(nil), s.outbox...),
		seq:           s.seq,
	}
	for k, v := range s.checks {
		cp.checks[k] = v
	}
	for k, v := range s.channels {
		cp.channels[k] = v
	}
	for k, v := range s.bindings {
		cp.bindings[k] = append([]int64(nil), v...)
	}
	return cp
}

type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state

	// FailNotifications makes Create fail, to exercise error paths.
	FailNotifications bool
}

func New() *Store {
	return &Store{st: state{
		checks:   map[int64]check.Check{},
		channels: map[int64]channel.Channel{},
		bindings: map[int64][]int64{},
	}}
}

func (s *Store) nextID() int64 {
	s.st.seq++
	return s.st.seq
}

// WithTx implements domain.Transactor.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.st.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.st = snap
		s.mu.Unlock()
		return err
	}
	return nil
}

var _ domain.Transactor = (*Store)(nil)

// AddCheck stores c and assigns ID and Code when unset.
func (s *Store) AddCheck(c check.Check) *check.Check {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.nextID()
	}
	if c.Code == uuid.Nil {
		c.Code = uuid.New()
	}
	if c.Status == "" {
		c.Status = check.StatusNew
	}
	s.st.checks[c.ID] = c
	return &c
}

// AddChannel stores ch bound to the given checks.
func (s *Store) AddChannel(ch channel.Channel, checkIDs ...int64) *channel.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch.ID == 0 {
		ch.ID = s.nextID()
	}
	s.st.channels[ch.ID] = ch
	for _, id := range checkIDs {
		s.st.bindings[id] = append(s.st.bindings[id], ch.ID)
	}
	return &ch
}

// Checks

type Checks struct{ s *Store }

func (s *Store) Checks() *Checks { return &Checks{s} }

var _ check.Repo = (*Checks)(nil)

func (r *Checks) GetByID(_ context.Context, id int64) (*check.Check, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.st.checks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (r *Checks) GetByCode(_ context.Context, code uuid.UUID) (*check.Check, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.st.checks {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *Checks) LockByCode(ctx context.Context, code uuid.UUID) (*check.Check, error) {
	if ctx.Value(txKey{}) == nil {
		return nil, errors.New("lock check: no transaction")
	}
	return r.GetByCode(ctx, code)
}

func (r *Checks) LockForSweep(ctx context.Context, id int64) (*check.Check, error) {
	if ctx.Value(txKey{}) == nil {
		return nil, errors.New("lock check: no transaction")
	}
	return r.GetByID(ctx, id)
}

func (r *Checks) UpdateState(_ context.Context, c *check.Check) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.st.checks[c.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Status = c.Status
	cur.LastPing = c.LastPing
	cur.LastStart = c.LastStart
	cur.LastPingFailed = c.LastPingFailed
	cur.NPings = c.NPings
	cur.AlertAfter = c.AlertAfter
	cur.ConfigError = c.ConfigError
	r.s.st.checks[c.ID] = cur
	return nil
}

func (r *Checks) FetchDue(_ context.Context, now time.Time, limit int) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []check.Check
	for _, c := range r.s.st.checks {
		if c.Status == check.StatusUp && c.AlertAfter != nil && !c.AlertAfter.After(now) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].AlertAfter.Before(*due[j].AlertAfter) })
	ids := make([]int64, 0, len(due))
	for i, c := range due {
		if limit > 0 && i == limit {
			break
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// Pings

type Pings struct{ s *Store }

func (s *Store) Pings() *Pings { return &Pings{s} }

var _ ping.Repo = (*Pings)(nil)

func (r *Pings) Insert(_ context.Context, p *ping.Ping) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, x := range r.s.st.pings {
		if x.CheckID == p.CheckID && x.N == p.N {
			return domain.ErrDuplicatePing
		}
	}
	p.ID = r.s.nextID()
	r.s.st.pings = append(r.s.st.pings, *p)
	return nil
}

func (r *Pings) ListByCheck(_ context.Context, checkID int64, limit int) ([]*ping.Ping, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*ping.Ping
	for i := len(r.s.st.pings) - 1; i >= 0; i-- {
		p := r.s.st.pings[i]
		if p.CheckID != checkID {
			continue
		}
		out = append(out, &p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].N > out[j].N })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Flips

type Flips struct{ s *Store }

func (s *Store) Flips() *Flips { return &Flips{s} }

var _ flip.Repo = (*Flips)(nil)

func (r *Flips) Insert(_ context.Context, f *flip.Flip) error {
	if f.OldStatus == f.NewStatus {
		return errors.New("insert flip: status unchanged")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f.ID = r.s.nextID()
	r.s.st.flips = append(r.s.st.flips, *f)
	return nil
}

func (r *Flips) Get(_ context.Context, id int64) (*flip.Flip, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, f := range r.s.st.flips {
		if f.ID == id {
			return &f, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *Flips) Claim(_ context.Context, id int64) (*flip.Flip, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.st.flips {
		f := &r.s.st.flips[i]
		if f.ID != id {
			continue
		}
		if f.ProcessedAt != nil {
			return nil, false, nil
		}
		at := time.Now().UTC()
		f.ProcessedAt = &at
		cp := *f
		return &cp, true, nil
	}
	return nil, false, nil
}

func (r *Flips) ListByCheck(_ context.Context, checkID int64, limit int) ([]*flip.Flip, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*flip.Flip
	for i := len(r.s.st.flips) - 1; i >= 0; i-- {
		f := r.s.st.flips[i]
		if f.CheckID == checkID {
			out = append(out, &f)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Flips) FetchUnprocessed(_ context.Context, olderThan time.Time, limit int) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []int64
	for _, f := range r.s.st.flips {
		if f.ProcessedAt == nil && !f.CreatedAt.After(olderThan) {
			ids = append(ids, f.ID)
		}
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// All returns every stored flip in insertion order.
func (r *Flips) All() []flip.Flip {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]flip.Flip(nil), r.s.st.flips...)
}

// Channels

type Channels struct{ s *Store }

func (s *Store) Channels() *Channels { return &Channels{s} }

var _ channel.Repo = (*Channels)(nil)

func (r *Channels) ChannelsFor(_ context.Context, checkID int64) ([]*channel.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*channel.Channel
	for _, id := range r.s.st.bindings[checkID] {
		ch := r.s.st.channels[id]
		if !ch.Disabled {
			out = append(out, &ch)
		}
	}
	return out, nil
}

func (r *Channels) Disable(_ context.Context, channelID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ch, ok := r.s.st.channels[channelID]
	if !ok {
		return domain.ErrNotFound
	}
	ch.Disabled = true
	r.s.st.channels[channelID] = ch
	return nil
}

func (r *Channels) GetByID(_ context.Context, id int64) (*channel.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ch, ok := r.s.st.channels[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ch, nil
}

// Notifications

type Notifications struct{ s *Store }

func (s *Store) Notifications() *Notifications { return &Notifications{s} }

var _ notification.Repo = (*Notifications)(nil)

func (r *Notifications) Create(_ context.Context, n *notification.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailNotifications {
		return errors.New("notifications unavailable")
	}
	for _, x := range r.s.st.notifications {
		if x.FlipID == n.FlipID && x.ChannelID == n.ChannelID {
			return nil
		}
	}
	n.ID = r.s.nextID()
	r.s.st.notifications = append(r.s.st.notifications, *n)
	return nil
}

func (r *Notifications) ListByChannel(_ context.Context, channelID int64, limit int) ([]*notification.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*notification.Notification
	for i := len(r.s.st.notifications) - 1; i >= 0; i-- {
		n := r.s.st.notifications[i]
		if n.ChannelID == channelID {
			out = append(out, &n)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// All returns every stored notification in insertion order.
func (r *Notifications) All() []notification.Notification {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]notification.Notification(nil), r.s.st.notifications...)
}

// Outbox

type Outbox struct{ s *Store }

func (s *Store) Outbox() *Outbox { return &Outbox{s} }

var _ outbox.Repository = (*Outbox)(nil)

func (r *Outbox) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.st.outbox {
		if m.IdempotencyKey == key {
			return nil
		}
	}
	r.s.st.outbox = append(r.s.st.outbox, outbox.Message{
		IdempotencyKey: key,
		Kind:           kind,
		Data:           data,
		Status:         outbox.StatusCreated,
		CreatedAt:      time.Now().UTC(),
	})
	return nil
}

func (r *Outbox) PickBatch(_ context.Context, batch int, _ time.Duration) ([]outbox.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []outbox.Message
	for i := range r.s.st.outbox {
		m := &r.s.st.outbox[i]
		if m.Status != outbox.StatusCreated {
			continue
		}
		m.Status = outbox.StatusInProgress
		out = append(out, *m)
		if len(out) == batch {
			break
		}
	}
	return out, nil
}

func (r *Outbox) MarkSuccess(_ context.Context, keys []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, k := range keys {
		for i := range r.s.st.outbox {
			if r.s.st.outbox[i].IdempotencyKey == k {
				r.s.st.outbox[i].Status = outbox.StatusSuccess
				r.s.st.outbox[i].UpdatedAt = time.Now().UTC()
			}
		}
	}
	return nil
}

func (r *Outbox) Backlog(_ context.Context) (outbox.Backlog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var b outbox.Backlog
	for _, m := range r.s.st.outbox {
		if m.Status == outbox.StatusSuccess {
			continue
		}
		b.Pending++
		if b.Oldest == nil || m.CreatedAt.Before(*b.Oldest) {
			at := m.CreatedAt
			b.Oldest = &at
		}
	}
	return b, nil
}

func (r *Outbox) Purge(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.st.outbox[:0]
	var n int64
	for _, m := range r.s.st.outbox {
		if m.Status == outbox.StatusSuccess && m.UpdatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, m)
	}
	r.s.st.outbox = kept
	return n, nil
}

// All returns every outbox message in insertion order.
func (r *Outbox) All() []outbox.Message {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]outbox.Message(nil), r.s.st.outbox...)
}
