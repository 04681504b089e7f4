package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/NordCoder/Lastbeat/internal/config/api"
	"github.com/NordCoder/Lastbeat/internal/domain/clock"
	"github.com/NordCoder/Lastbeat/internal/obs"
	pg "github.com/NordCoder/Lastbeat/internal/repository/postgres"
	"github.com/NordCoder/Lastbeat/internal/services/api"
	"github.com/NordCoder/Lastbeat/internal/services/ingest"
	"github.com/NordCoder/Lastbeat/internal/services/recorder"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := flag.String("config", "config/api.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()
	l.Info("starting api", zap.String("env", cfg.App.Env), zap.String("ver", cfg.App.Version))

	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig(cfg.App))
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	db, err := pg.NewDB(ctx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := db.RegisterMetrics(prometheus.DefaultRegisterer, "api"); err != nil {
		l.Warn("pool metrics", zap.Error(err))
	}

	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, l, obs.Probe{Name: "postgres", Check: db.Ping})

	// wiring
	flips := pg.NewFlipRepo(db)
	uc := ingest.New(ingest.Stores{
		Tx:            pg.NewTransactor(db, l),
		Checks:        pg.NewCheckRepo(db),
		Pings:         pg.NewPingRepo(db),
		Flips:         flips,
		Channels:      pg.NewChannelRepo(db),
		Notifications: pg.NewNotificationRepo(db),
	}, recorder.New(flips, pg.NewOutboxRepo(db)), clock.System{}, l)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.NewServer(uc, l, api.Options{MaxBodySize: cfg.Ping.MaxBodySize}).Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		_ = ms.Shutdown(shCtx)
		return srv.Shutdown(shCtx)
	})

	if err := g.Wait(); err != nil {
		l.Error("api stopped", zap.Error(err))
	}
	l.Info("bye")
}
