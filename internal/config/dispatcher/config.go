package dispatcher_config

import (
	"time"

	common "github.com/NordCoder/Lastbeat/internal/config/common"
	"github.com/NordCoder/Lastbeat/internal/obs/retry"
	pg "github.com/NordCoder/Lastbeat/internal/repository/postgres"
	"github.com/NordCoder/Lastbeat/internal/services/dispatcher"
	"github.com/NordCoder/Lastbeat/internal/transport"
)

type DispatchCfg struct {
	Concurrency int                  `mapstructure:"concurrency"`
	SendTimeout time.Duration        `mapstructure:"send_timeout"`
	Budget      time.Duration        `mapstructure:"budget"`
	MetricsAddr string               `mapstructure:"metrics_addr"`
	Retry       retry.DeliveryConfig `mapstructure:"retry"`
	// Kinds turns channel kinds on or off; unlisted kinds are enabled.
	Kinds  map[string]bool         `mapstructure:"kinds"`
	Poller dispatcher.PollerConfig `mapstructure:"poller"`
}

func (d DispatchCfg) AsDispatcherConfig() dispatcher.Config {
	return dispatcher.Config{Concurrency: d.Concurrency, SendTimeout: d.SendTimeout, Budget: d.Budget, Retry: d.Retry}
}

type Config struct {
	App        common.App         `mapstructure:"app"`
	DB         pg.Config          `mapstructure:"db"`
	Kafka      common.Kafka       `mapstructure:"kafka"`
	Dispatch   DispatchCfg        `mapstructure:"dispatch"`
	Transports transport.Settings `mapstructure:"transports"`
	OTEL       common.OTEL        `mapstructure:"otel"`
	Log        common.Log         `mapstructure:"log"`
}
