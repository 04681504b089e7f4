//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/domain/clock"
	"github.com/NordCoder/Lastbeat/internal/domain/ping"
	"github.com/NordCoder/Lastbeat/internal/obs/retry"
	pg "github.com/NordCoder/Lastbeat/internal/repository/postgres"
	"github.com/NordCoder/Lastbeat/internal/services/dispatcher"
	"github.com/NordCoder/Lastbeat/internal/services/ingest"
	"github.com/NordCoder/Lastbeat/internal/services/recorder"
	"github.com/NordCoder/Lastbeat/internal/services/sweeper"
	"github.com/NordCoder/Lastbeat/internal/transport"
	"github.com/NordCoder/Lastbeat/migrations"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dsn(t *testing.T) string {
	t.Helper()
	v := os.Getenv("IT_DB_DSN")
	if v == "" {
		t.Skip("IT_DB_DSN is not set")
	}
	return v
}

var migrateOnce sync.Once

// open migrates the database once and returns a lib/pq handle for seeding
// plus the pgx pool under test.
func open(t *testing.T) (*sql.DB, *pg.DB) {
	t.Helper()
	url := dsn(t)

	raw, err := sql.Open("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	migrateOnce.Do(func() {
		goose.SetBaseFS(migrations.FS)
		require.NoError(t, goose.SetDialect("postgres"))
		require.NoError(t, goose.Up(raw, "."))
	})

	db, err := pg.NewDB(context.Background(), pg.Config{DSN: url, MaxConns: 8, QueryTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return raw, db
}

func seedCheck(t *testing.T, raw *sql.DB, timeout, grace time.Duration) (int64, uuid.UUID) {
	t.Helper()
	code := uuid.New()
	var id int64
	err := raw.QueryRow(
		`INSERT INTO checks (code, name, timeout_sec, grace_sec) VALUES ($1, $2, $3, $4) RETURNING id`,
		code.String(), "it-"+code.String()[:8], int64(timeout.Seconds()), int64(grace.Seconds()),
	).Scan(&id)
	require.NoError(t, err)
	return id, code
}

func seedChannel(t *testing.T, raw *sql.DB, checkID int64, kind, value string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, raw.QueryRow(
		`INSERT INTO channels (code, kind, name, value) VALUES ($1, $2, $3, $4) RETURNING id`,
		uuid.NewString(), kind, kind, value,
	).Scan(&id))
	_, err := raw.Exec(`INSERT INTO channel_checks (channel_id, check_id) VALUES ($1, $2)`, id, checkID)
	require.NoError(t, err)
	return id
}

type stack struct {
	clk     *clock.Fixed
	ingest  *ingest.Usecase
	sweeper *sweeper.Usecase
	flips   *pg.FlipRepoImpl
	checks  *pg.CheckRepoImpl
	stores  dispatcher.Stores
}

func newStack(db *pg.DB, at time.Time) *stack {
	clk := clock.NewFixed(at)
	tx := pg.NewTransactor(db, zap.NewNop())
	checks := pg.NewCheckRepo(db)
	flips := pg.NewFlipRepo(db)
	rec := recorder.New(flips, pg.NewOutboxRepo(db))
	return &stack{
		clk:    clk,
		flips:  flips,
		checks: checks,
		ingest: ingest.New(ingest.Stores{
			Tx:            tx,
			Checks:        checks,
			Pings:         pg.NewPingRepo(db),
			Flips:         flips,
			Channels:      pg.NewChannelRepo(db),
			Notifications: pg.NewNotificationRepo(db),
		}, rec, clk, zap.NewNop()),
		sweeper: sweeper.NewUC(tx, checks, rec, clk, zap.NewNop()),
		stores: dispatcher.Stores{
			Flips:         flips,
			Checks:        checks,
			Pings:         pg.NewPingRepo(db),
			Channels:      pg.NewChannelRepo(db),
			Notifications: pg.NewNotificationRepo(db),
		},
	}
}

func TestPingSweepDispatch(t *testing.T) {
	raw, db := open(t)
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Second)
	s := newStack(db, t0)

	checkID, code := seedCheck(t, raw, 5*time.Minute, time.Minute)

	var calls int
	var mu sync.Mutex
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	defer hook.Close()
	chID := seedChannel(t, raw, checkID, "webhook", `{"url_down": "`+hook.URL+`"}`)

	c, err := s.ingest.RecordPing(ctx, ingest.PingInput{Code: code, Kind: ping.KindSuccess})
	require.NoError(t, err)
	require.Equal(t, check.StatusUp, c.Status)

	seq := int64(1)
	_, err = s.ingest.RecordPing(ctx, ingest.PingInput{Code: code, Kind: ping.KindSuccess, Seq: &seq})
	require.ErrorIs(t, err, domain.ErrDuplicatePing)

	s.clk.Set(t0.Add(6*time.Minute + 30*time.Second))
	res, err := s.sweeper.Tick(ctx, 1000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.Flipped, 1)

	got, err := s.checks.GetByID(ctx, checkID)
	require.NoError(t, err)
	require.Equal(t, check.StatusDown, got.Status)
	require.Nil(t, got.AlertAfter)

	flips, err := s.flips.ListByCheck(ctx, checkID, 10)
	require.NoError(t, err)
	require.Len(t, flips, 2)
	down := flips[0]
	require.Equal(t, check.StatusDown, down.NewStatus)
	require.Equal(t, check.ReasonTimeout, down.Reason)

	d := dispatcher.New(s.stores,
		transport.NewRegistry(transport.NewWebhook(transport.NewHTTPClient(transport.HTTPConfig{Timeout: 2 * time.Second}))),
		nil, dispatcher.Config{Retry: retry.DeliveryConfig{Attempts: 1}}, s.clk, zap.NewNop())

	sum, err := d.Dispatch(ctx, down.ID)
	require.NoError(t, err)
	require.True(t, sum.Claimed)
	sum, err = d.Dispatch(ctx, down.ID)
	require.NoError(t, err)
	require.False(t, sum.Claimed)

	ns, err := pg.NewNotificationRepo(db).ListByChannel(ctx, chID, 10)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	require.True(t, ns[0].Succeeded())
	require.Equal(t, 1, calls)

	var pending int
	require.NoError(t, raw.QueryRow(`SELECT count(*) FROM outbox WHERE idempotency_key = $1`, "flip:"+itoa(down.ID)).Scan(&pending))
	require.Equal(t, 1, pending)
}

func TestConcurrentPingsSingleWriter(t *testing.T) {
	raw, db := open(t)
	ctx := context.Background()
	s := newStack(db, time.Now().UTC())
	checkID, code := seedCheck(t, raw, time.Hour, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := ping.KindSuccess
			if i%2 == 1 {
				kind = ping.KindFail
			}
			_, err := s.ingest.RecordPing(ctx, ingest.PingInput{Code: code, Kind: kind})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.checks.GetByID(ctx, checkID)
	require.NoError(t, err)
	require.Equal(t, int64(20), got.NPings)

	flips, err := s.flips.ListByCheck(ctx, checkID, 100)
	require.NoError(t, err)
	for i := 0; i+1 < len(flips); i++ {
		// newest first: each flip starts where the previous one ended
		require.Equal(t, flips[i+1].NewStatus, flips[i].OldStatus)
	}
	require.Equal(t, got.Status, flips[0].NewStatus)
}

func TestChannelDisableHidesChannel(t *testing.T) {
	raw, db := open(t)
	ctx := context.Background()
	checkID, _ := seedCheck(t, raw, time.Hour, time.Minute)
	chID := seedChannel(t, raw, checkID, "sms", "+15550001111")

	repo := pg.NewChannelRepo(db)
	chans, err := repo.ChannelsFor(ctx, checkID)
	require.NoError(t, err)
	require.Len(t, chans, 1)

	require.NoError(t, repo.Disable(ctx, chID))
	chans, err = repo.ChannelsFor(ctx, checkID)
	require.NoError(t, err)
	require.Empty(t, chans)

	ch, err := repo.GetByID(ctx, chID)
	require.NoError(t, err)
	require.True(t, ch.Disabled)
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
