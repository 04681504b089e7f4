package transport

import (
	"context"
	"net/http"
	"testing"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/channel"
	"github.com/stretchr/testify/require"
)

func TestVictorOpsDown(t *testing.T) {
	srv := newRecorder(t, http.StatusOK, "")
	tr := NewVictorOps(testClient())

	m, err := tr.Render(notice(channel.KindVictorOps, srv.URL))
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), m))

	calls := srv.Calls()
	require.Len(t, calls, 1)
	payload := decode(t, m)
	require.Equal(t, "CRITICAL", payload["message_type"])
	require.Contains(t, payload["state_message"], "Foo is DOWN.")
	require.Contains(t, payload["state_message"], "Last ping was 10 minutes ago.")
	require.NotContains(t, string(m.Body), "paused")
}

func TestVictorOpsDoesNotEscape(t *testing.T) {
	n := up(notice(channel.KindVictorOps, "https://alert.victorops.com/integrations/x"))
	n.Check.Name = "Foo & Bar"

	m, err := NewVictorOps(testClient()).Render(n)
	require.NoError(t, err)
	payload := decode(t, m)
	require.Equal(t, "RECOVERY", payload["message_type"])
	require.Equal(t, "Foo & Bar received a ping and is now UP", payload["state_message"])
}

func TestVictorOpsWithoutLastPing(t *testing.T) {
	n := notice(channel.KindVictorOps, "https://alert.victorops.com/integrations/x")
	n.LastPing = nil

	m, err := NewVictorOps(testClient()).Render(n)
	require.NoError(t, err)
	require.NotContains(t, decode(t, m)["state_message"], "Last ping was")
}

func TestVictorOps404IsPermanent(t *testing.T) {
	srv := newRecorder(t, http.StatusNotFound, "")
	tr := NewVictorOps(testClient())

	m, err := tr.Render(notice(channel.KindVictorOps, srv.URL))
	require.NoError(t, err)

	err = tr.Send(context.Background(), m)
	require.True(t, domain.IsPermanent(err))
	require.EqualError(t, err, "Received status code 404")
	require.Len(t, srv.Calls(), 1)
}

func TestDisabledError(t *testing.T) {
	require.Equal(t, "Splunk On-Call notifications are not enabled.", DisabledError(NewVictorOps(testClient())))
}
