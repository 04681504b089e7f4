package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/channel"
	"github.com/NordCoder/Lastbeat/internal/domain/check"
	domainkafka "github.com/NordCoder/Lastbeat/internal/domain/kafka"
	"github.com/NordCoder/Lastbeat/internal/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPollerPicksUpStaleFlips(t *testing.T) {
	f := newFixture(t)
	ft := &fake{kind: channel.KindSlack}
	ch := f.channel(channel.KindSlack, "x")
	d := f.dispatcher(transport.NewRegistry(ft), nil)

	old := f.flip(t, check.StatusUp, check.StatusDown)
	f.clk.Advance(time.Minute)
	fresh := f.flip(t, check.StatusDown, check.StatusUp)

	p := &Poller{Log: zap.NewNop(), Flips: f.store.Flips(), D: d, Clock: f.clk, Cfg: PollerConfig{MinAge: 30 * time.Second, Batch: 10}}
	require.Equal(t, 1, p.Tick(context.Background()))

	ns := f.notifications(ch.ID)
	require.Len(t, ns, 1)
	require.Equal(t, old.ID, ns[0].FlipID)

	// the event for the fresh flip arrives later and is still delivered once
	c := &Controller{Log: zap.NewNop(), D: d}
	require.NoError(t, c.Handle(context.Background(), nil, domainkafka.FlipRecorded{FlipID: fresh.ID}))
	require.NoError(t, c.Handle(context.Background(), nil, domainkafka.FlipRecorded{FlipID: fresh.ID}))
	require.Len(t, f.notifications(ch.ID), 2)
	require.EqualValues(t, 2, ft.calls.Load())

	f.clk.Advance(time.Hour)
	require.Zero(t, p.Tick(context.Background()))
}

func TestControllerIgnoresInvalidEvents(t *testing.T) {
	f := newFixture(t)
	c := &Controller{Log: zap.NewNop(), D: f.dispatcher(transport.NewRegistry(), nil)}
	require.NoError(t, c.Handle(context.Background(), nil, domainkafka.FlipRecorded{}))
	require.NoError(t, c.Handle(context.Background(), nil, domainkafka.FlipRecorded{FlipID: 404}))
}
