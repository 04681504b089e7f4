package main

import (
	"context"
	"flag"
	"log"
	"time"

	common "github.com/NordCoder/Lastbeat/internal/config/common"
	"github.com/NordCoder/Lastbeat/internal/obs"
	kafkaRepo "github.com/NordCoder/Lastbeat/internal/repository/kafka"
	"go.uber.org/zap"
)

// kafka-init creates the flip events topic and waits for its partitions to get leaders.
func main() {
	cfgPath := flag.String("config", "config/sweeper.yaml", "path to config file")
	wait := flag.Duration("wait", 30*time.Second, "how long to wait for the topic")
	flag.Parse()

	v := common.NewViper(*cfgPath)
	common.SetDefaults(v, "kafka-init")
	common.SetKafkaDefaults(v, "")

	var app common.App
	var lc common.Log
	var kc common.Kafka
	if err := v.UnmarshalKey("app", &app); err != nil {
		log.Fatal(err)
	}
	if err := v.UnmarshalKey("log", &lc); err != nil {
		log.Fatal(err)
	}
	if err := v.UnmarshalKey("kafka", &kc); err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(lc.AsLoggerConfig(app))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *wait+10*time.Second)
	defer cancel()

	spec := kafkaRepo.TopicSpec{
		Name:              kc.Topic.Name,
		NumPartitions:     kc.Topic.Partitions,
		ReplicationFactor: kc.Topic.ReplicationFactor,
		MaxWait:           *wait,
	}
	if err := kafkaRepo.EnsureTopic(ctx, kc.Brokers, spec, l); err != nil {
		l.Fatal("ensure topic", zap.String("topic", spec.Name), zap.Error(err))
	}
	l.Info("kafka-init ok", zap.Strings("brokers", kc.Brokers), zap.String("topic", spec.Name))
}
