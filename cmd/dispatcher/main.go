package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/NordCoder/Lastbeat/internal/config/dispatcher"
	"github.com/NordCoder/Lastbeat/internal/domain/clock"
	"github.com/NordCoder/Lastbeat/internal/obs"
	kafkaRepo "github.com/NordCoder/Lastbeat/internal/repository/kafka"
	pg "github.com/NordCoder/Lastbeat/internal/repository/postgres"
	"github.com/NordCoder/Lastbeat/internal/services/dispatcher"
	"github.com/NordCoder/Lastbeat/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := flag.String("config", "config/dispatcher.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// later revisions only toggle kinds and the log level
	boot, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	l, lvl, err := obs.NewLeveledLogger(boot.Log.AsLoggerConfig(boot.App))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	gate := dispatcher.NewSwitchGate(boot.Dispatch.Kinds)
	cfg, err := config.Watch(*cfgPath, l, func(next *config.Config) {
		gate.Set(next.Dispatch.Kinds)
		lvl.SetLevel(obs.ParseLevel(next.Log.Level))
		l.Debug("kind toggles applied", zap.Any("kinds", next.Dispatch.Kinds))
	})
	if err != nil {
		l.Fatal("config watch", zap.Error(err))
	}
	l.Info("starting dispatcher",
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic.Name),
		zap.Any("kinds", cfg.Dispatch.Kinds),
	)

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
	if err := db.RegisterMetrics(prometheus.DefaultRegisterer, "dispatcher"); err != nil {
		l.Warn("pool metrics", zap.Error(err))
	}

	cons := kafkaRepo.BootstrapConsumer(ctx, &kafkaRepo.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topic:   cfg.Kafka.Topic.Name,
		Logger:  l,
	}, cfg.Kafka.Topic, l)
	defer func() { _ = cons.Close() }()

	ms := obs.BootstrapMetricsServer(cfg.Dispatch.MetricsAddr, l,
		obs.Probe{Name: "postgres", Check: db.Ping},
		obs.Probe{Name: "kafka", Check: kafkaRepo.BrokerProbe(cfg.Kafka.Brokers)},
	)

	// wiring
	reg := transport.Build(cfg.Transports, l)
	for _, k := range reg.Kinds() {
		t, _ := reg.Get(k)
		if !transport.Ready(t) {
			l.Info("transport not configured", zap.String("kind", string(k)))
		}
	}
	flips := pg.NewFlipRepo(db)
	d := dispatcher.New(dispatcher.Stores{
		Flips:         flips,
		Checks:        pg.NewCheckRepo(db),
		Pings:         pg.NewPingRepo(db),
		Channels:      pg.NewChannelRepo(db),
		Notifications: pg.NewNotificationRepo(db),
	}, reg, gate, cfg.Dispatch.AsDispatcherConfig(), clock.System{}, l)

	ctrl := &dispatcher.Controller{Log: l, Sub: cons, D: d}
	poller := &dispatcher.Poller{Log: l, Flips: flips, D: d, Clock: clock.System{}, Cfg: cfg.Dispatch.Poller}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	l.Info("dispatcher started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("dispatcher error", zap.Error(err))
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
