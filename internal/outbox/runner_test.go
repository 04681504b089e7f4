package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/kafka"
	"github.com/NordCoder/Lastbeat/internal/domain/outbox"
	"github.com/NordCoder/Lastbeat/internal/obs/retry"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memRepo struct {
	mu      sync.Mutex
	pending []outbox.Message
	done    []string

	purgedBefore time.Time
}

func (m *memRepo) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, outbox.Message{IdempotencyKey: key, Kind: kind, Data: data})
	return nil
}

func (m *memRepo) PickBatch(_ context.Context, batch int, _ time.Duration) ([]outbox.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if batch > len(m.pending) {
		batch = len(m.pending)
	}
	out := m.pending[:batch]
	m.pending = m.pending[batch:]
	return out, nil
}

func (m *memRepo) MarkSuccess(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = append(m.done, keys...)
	return nil
}

func (m *memRepo) Purge(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgedBefore = before
	n := int64(len(m.done))
	m.done = nil
	return n, nil
}

func (m *memRepo) Backlog(_ context.Context) (outbox.Backlog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := outbox.Backlog{Pending: len(m.pending)}
	if len(m.pending) > 0 {
		at := m.pending[0].CreatedAt
		b.Oldest = &at
	}
	return b, nil
}

type fakeEvents struct {
	fail map[int64]bool
	got  []kafka.FlipRecorded
}

func (f *fakeEvents) PublishFlipRecorded(_ context.Context, ev kafka.FlipRecorded) error {
	if f.fail[ev.FlipID] {
		return errors.New("broker unavailable")
	}
	f.got = append(f.got, ev)
	return nil
}

func enqueueFlip(t *testing.T, repo *memRepo, id int64) {
	data, err := json.Marshal(kafka.FlipRecorded{FlipID: id, CheckID: 1, OldStatus: "up", NewStatus: "down"})
	require.NoError(t, err)
	require.NoError(t, repo.Enqueue(context.Background(), "flip:"+strconv.FormatInt(id, 10), outbox.KindFlipRecorded, data))
}

func TestTickPublishesAndMarks(t *testing.T) {
	repo := &memRepo{}
	enqueueFlip(t, repo, 1)
	enqueueFlip(t, repo, 2)
	pub := &fakeEvents{fail: map[int64]bool{2: true}}

	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(pub, retry.Policy{Attempts: 1}), Config{BatchSize: 10})
	r.Tick(context.Background())

	require.Len(t, pub.got, 1)
	require.Equal(t, int64(1), pub.got[0].FlipID)
	require.Equal(t, []string{"flip:1"}, repo.done)
}

func TestUnknownKindIsNotMarked(t *testing.T) {
	repo := &memRepo{}
	require.NoError(t, repo.Enqueue(context.Background(), "x", outbox.Kind(99), []byte(`{}`)))

	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(&fakeEvents{}, retry.Policy{Attempts: 1}), Config{})
	r.Tick(context.Background())

	require.Empty(t, repo.done)
}

func TestRunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewOutboxRunner(zap.NewNop(), &memRepo{}, MakeGlobalOutboxHandler(&fakeEvents{}, retry.Policy{}), Config{Workers: 2, WaitTime: time.Millisecond})

	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestBacklogLag(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	oldest := now.Add(-90 * time.Second)

	require.Zero(t, outbox.Backlog{}.Lag(now))
	require.Equal(t, 90*time.Second, outbox.Backlog{Pending: 3, Oldest: &oldest}.Lag(now))
}

func TestPurgeUsesRetentionCutoff(t *testing.T) {
	repo := &memRepo{done: []string{"flip:1", "flip:2"}}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(&fakeEvents{}, retry.Policy{}), Config{Retention: time.Hour})
	require.Equal(t, int64(2), r.Purge(context.Background(), now))
	require.Equal(t, now.Add(-time.Hour), repo.purgedBefore)
	require.Empty(t, repo.done)
}
