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

	config "github.com/NordCoder/Lastbeat/internal/config/sweeper"
	"github.com/NordCoder/Lastbeat/internal/domain/clock"
	"github.com/NordCoder/Lastbeat/internal/obs"
	"github.com/NordCoder/Lastbeat/internal/obs/retry"
	"github.com/NordCoder/Lastbeat/internal/outbox"
	kafkaRepo "github.com/NordCoder/Lastbeat/internal/repository/kafka"
	pg "github.com/NordCoder/Lastbeat/internal/repository/postgres"
	"github.com/NordCoder/Lastbeat/internal/services/recorder"
	"github.com/NordCoder/Lastbeat/internal/services/sweeper"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := flag.String("config", "config/sweeper.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()
	l.Info("starting sweeper",
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic.Name),
		zap.Duration("tick", cfg.Sweep.Tick),
	)

	// otel
	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig(cfg.App))
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.NewDB(ctx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := db.RegisterMetrics(prometheus.DefaultRegisterer, "sweeper"); err != nil {
		l.Warn("pool metrics", zap.Error(err))
	}

	// kafka
	prod := kafkaRepo.BootstrapProducer(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, l)
	defer func() { _ = prod.Close() }()

	ms := obs.BootstrapMetricsServer(cfg.Sweep.MetricsAddr, l,
		obs.Probe{Name: "postgres", Check: db.Ping},
		obs.Probe{Name: "kafka", Check: kafkaRepo.BrokerProbe(cfg.Kafka.Brokers)},
	)

	// wiring
	outboxRepo := pg.NewOutboxRepo(db)
	rec := recorder.New(pg.NewFlipRepo(db), outboxRepo)
	uc := sweeper.NewUC(pg.NewTransactor(db, l), pg.NewCheckRepo(db), rec, clock.System{}, l)
	runner := sweeper.New(l, uc, &cfg.Sweep)

	relay := outbox.NewOutboxRunner(l, outboxRepo,
		outbox.MakeGlobalOutboxHandler(kafkaRepo.NewFlipEventsKafka(prod), retry.OutboxPolicy(l)),
		cfg.Outbox,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	l.Info("sweeper started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("runner error", zap.Error(err))
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
