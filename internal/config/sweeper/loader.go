package sweeper_config

import (
	common "github.com/NordCoder/Lastbeat/internal/config/common"
)

func Load(path string) (*Config, error) {
	v := common.NewViper(path)
	common.SetDefaults(v, "sweeper")
	common.SetKafkaDefaults(v, "lastbeat-sweeper")

	v.SetDefault("sweep.tick", "5s")
	v.SetDefault("sweep.batch_limit", 500)
	v.SetDefault("sweep.concurrency", 8)
	v.SetDefault("sweep.metrics_addr", ":8082")

	v.SetDefault("outbox.workers", 1)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.wait_time", "500ms")
	v.SetDefault("outbox.in_progress_ttl", "30s")
	v.SetDefault("outbox.retention", "24h")
	v.SetDefault("outbox.purge_every", "10m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Sweep.Tick <= 0 {
		return nil, common.ErrConfig("sweep.tick must be positive")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, common.ErrConfig("kafka.brokers is required")
	}
	return &cfg, nil
}
