package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/channel"
	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/domain/flip"
	"github.com/NordCoder/Lastbeat/internal/domain/ping"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

var testCode = uuid.MustParse("6e1f6f4c-2f1a-4a4c-9f39-9a1c7c1d0b11")

// notice builds a down flip for a check named "Foo" whose stored status is
// paused, so renderers reading the check status instead of the flip would show.
func notice(kind channel.Kind, value string) Notice {
	return Notice{
		Check: &check.Check{
			ID:     1,
			Code:   testCode,
			Name:   "Foo",
			Status: check.StatusPaused,
		},
		Flip: &flip.Flip{
			ID:        10,
			CheckID:   1,
			CreatedAt: now,
			OldStatus: check.StatusNew,
			NewStatus: check.StatusDown,
		},
		Channel:  &channel.Channel{ID: 5, Kind: kind, Value: value},
		LastPing: &ping.Ping{N: 112233, CreatedAt: now.Add(-10 * time.Minute)},
		Now:      now,
	}
}

func up(n Notice) Notice {
	f := *n.Flip
	f.OldStatus, f.NewStatus = check.StatusDown, check.StatusUp
	n.Flip = &f
	return n
}

func testClient() *HTTPClient {
	return NewHTTPClient(HTTPConfig{Timeout: 2 * time.Second})
}

type recorded struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// recorder is an httptest server answering with a fixed status and body.
type recorder struct {
	*httptest.Server
	mu    sync.Mutex
	calls []recorded
}

func newRecorder(t *testing.T, status int, body string) *recorder {
	t.Helper()
	r := &recorder{}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.calls = append(r.calls, recorded{req.Method, req.URL.Path, req.URL.RawQuery, req.Header.Clone(), b})
		r.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *recorder) Calls() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.calls...)
}

func decode(t *testing.T, m *Message) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(m.Body, &out))
	return out
}
