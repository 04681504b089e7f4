package sweeper_config

import (
	"time"

	common "github.com/NordCoder/Lastbeat/internal/config/common"
	"github.com/NordCoder/Lastbeat/internal/outbox"
	pg "github.com/NordCoder/Lastbeat/internal/repository/postgres"
)

type SweepCfg struct {
	Tick        time.Duration `mapstructure:"tick"`
	BatchLimit  int           `mapstructure:"batch_limit"`
	Concurrency int           `mapstructure:"concurrency"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
}

type Config struct {
	App    common.App    `mapstructure:"app"`
	DB     pg.Config     `mapstructure:"db"`
	Kafka  common.Kafka  `mapstructure:"kafka"`
	Sweep  SweepCfg      `mapstructure:"sweep"`
	Outbox outbox.Config `mapstructure:"outbox"`
	OTEL   common.OTEL   `mapstructure:"otel"`
	Log    common.Log    `mapstructure:"log"`
}
