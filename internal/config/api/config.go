package api_config

import (
	"time"

	common "github.com/NordCoder/Lastbeat/internal/config/common"
	pg "github.com/NordCoder/Lastbeat/internal/repository/postgres"
)

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type Ping struct {
	// MaxBodySize caps the stored ping body; larger bodies are truncated.
	MaxBodySize int `mapstructure:"max_body_size"`
}

type Config struct {
	App    common.App  `mapstructure:"app"`
	Server Server      `mapstructure:"server"`
	Ping   Ping        `mapstructure:"ping"`
	DB     pg.Config   `mapstructure:"db"`
	OTEL   common.OTEL `mapstructure:"otel"`
	Log    common.Log  `mapstructure:"log"`
}
