package dispatcher_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Dispatch.Retry.Attempts)
	require.Equal(t, time.Second, cfg.Dispatch.Retry.Base)
	require.Equal(t, 10*time.Second, cfg.Dispatch.SendTimeout)
	require.Equal(t, 10*time.Second, cfg.Transports.HTTP.Timeout)
	require.Equal(t, "lastbeat-dispatcher", cfg.Kafka.GroupID)
	require.Empty(t, cfg.Transports.Email.Backend)

	dc := cfg.Dispatch.AsDispatcherConfig()
	require.Equal(t, 8, dc.Concurrency)
	require.Equal(t, 90*time.Second, dc.Budget)
}

func TestLoadRejectsBudgetBelowSendTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`dispatch:
  send_timeout: 30s
  budget: 5s
`), 0o600))

	_, err := Load(path)
	require.ErrorContains(t, err, "dispatch.budget")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dispatch:
  kinds:
    sms: false
  retry:
    attempts: 2
transports:
  telegram:
    token: "123:abc"
  email:
    backend: smtp
    smtp:
      addr: mail:587
      from: alerts@example.org
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"sms": false}, cfg.Dispatch.Kinds)
	require.Equal(t, 2, cfg.Dispatch.Retry.Attempts)
	require.Equal(t, "123:abc", cfg.Transports.Telegram.Token)
	require.Equal(t, "mail:587", cfg.Transports.Email.SMTP.Addr)
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dispatch:\n  kinds:\n    sms: true\n"), 0o600))

	got := make(chan *Config, 4)
	cfg, err := Watch(path, zap.NewNop(), func(c *Config) { got <- c })
	require.NoError(t, err)
	require.True(t, cfg.Dispatch.Kinds["sms"])

	require.NoError(t, os.WriteFile(path, []byte("dispatch:\n  kinds:\n    sms: false\n"), 0o600))

	require.Eventually(t, func() bool {
		select {
		case c := <-got:
			return !c.Dispatch.Kinds["sms"]
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)
}
