package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	require.NoError(t, classifyStatus(204, "", now))

	err := classifyStatus(500, "", now)
	require.True(t, domain.IsTransient(err))
	require.EqualError(t, err, "Received status code 500")

	err = classifyStatus(400, "", now)
	require.True(t, domain.IsPermanent(err))

	err = classifyStatus(429, "7", now)
	require.True(t, domain.IsTransient(err))
	d, ok := domain.RetryAfter(err)
	require.True(t, ok)
	require.Equal(t, 7*time.Second, d)
}

func TestParseRetryAfter(t *testing.T) {
	require.Equal(t, time.Duration(0), parseRetryAfter("", now))
	require.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	require.Equal(t, 2*time.Minute, parseRetryAfter(now.Add(2*time.Minute).Format(http.TimeFormat), now))
	require.Equal(t, time.Duration(0), parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

func TestDoTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewHTTPClient(HTTPConfig{Timeout: 50 * time.Millisecond})
	err := c.Do(context.Background(), &Message{Method: http.MethodGet, URL: srv.URL})
	require.True(t, domain.IsTransient(err))
	require.EqualError(t, err, "Connection timed out")
}

func TestDoConnectionFailed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	err := testClient().Do(context.Background(), &Message{Method: http.MethodGet, URL: addr})
	require.True(t, domain.IsTransient(err))
	require.EqualError(t, err, "Connection failed")
}

func TestDoRetryAfterHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := testClient().Do(context.Background(), &Message{URL: srv.URL})
	d, ok := domain.RetryAfter(err)
	require.True(t, ok)
	require.Equal(t, 3*time.Second, d)
}

func TestDoSendsHeadersAndAuth(t *testing.T) {
	srv := newRecorder(t, http.StatusOK, "")
	err := testClient().Do(context.Background(), &Message{
		Method:   http.MethodPut,
		URL:      srv.URL + "/hook",
		Header:   map[string]string{"X-Token": "abc"},
		Body:     []byte("hello"),
		User:     "u",
		Password: "p",
	})
	require.NoError(t, err)

	c := srv.Calls()[0]
	require.Equal(t, http.MethodPut, c.Method)
	require.Equal(t, "/hook", c.Path)
	require.Equal(t, "abc", c.Header.Get("X-Token"))
	require.Equal(t, "hello", string(c.Body))
	require.NotEmpty(t, c.Header.Get("Authorization"))
}
