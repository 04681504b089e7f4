package dispatcher_config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	common "github.com/NordCoder/Lastbeat/internal/config/common"
)

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, common.ErrConfig("kafka.brokers is required")
	}
	if cfg.Dispatch.Budget < cfg.Dispatch.SendTimeout {
		return nil, common.ErrConfig("dispatch.budget must be at least dispatch.send_timeout")
	}
	if cfg.Dispatch.Retry.Attempts <= 0 {
		return nil, common.ErrConfig("dispatch.retry.attempts must be positive")
	}
	return &cfg, nil
}

func newViper(path string) *viper.Viper {
	v := common.NewViper(path)
	common.SetDefaults(v, "dispatcher")
	common.SetKafkaDefaults(v, "lastbeat-dispatcher")

	v.SetDefault("dispatch.concurrency", 8)
	v.SetDefault("dispatch.send_timeout", "10s")
	v.SetDefault("dispatch.budget", "90s")
	v.SetDefault("dispatch.metrics_addr", ":8083")
	v.SetDefault("dispatch.retry.attempts", 4)
	v.SetDefault("dispatch.retry.base", "1s")
	v.SetDefault("dispatch.retry.max", "1m")
	v.SetDefault("dispatch.retry.jitter", 0.2)
	v.SetDefault("dispatch.poller.interval", "30s")
	v.SetDefault("dispatch.poller.min_age", "1m")
	v.SetDefault("dispatch.poller.batch", 100)

	v.SetDefault("transports.http.timeout", "10s")
	v.SetDefault("transports.http.verify_tls", true)
	v.SetDefault("transports.http.follow_redirects", false)
	v.SetDefault("transports.http.user_agent", "Lastbeat")
	v.SetDefault("transports.email.backend", "")
	v.SetDefault("transports.email.smtp.addr", "localhost:25")
	v.SetDefault("transports.email.smtp.timeout", "10s")
	v.SetDefault("transports.email.smtp.verify_tls", true)
	v.SetDefault("transports.telegram.token", "")
	v.SetDefault("transports.twilio.account", "")
	v.SetDefault("transports.twilio.auth_token", "")
	v.SetDefault("transports.twilio.from", "")
	v.SetDefault("transports.pushover.token", "")
	return v
}

func Load(path string) (*Config, error) {
	return load(newViper(path))
}

// Watch loads the config at path and calls onChange with every valid
// revision written afterwards. Invalid revisions are logged and ignored.
func Watch(path string, log *zap.Logger, onChange func(*Config)) (*Config, error) {
	v := newViper(path)
	cfg, err := load(v)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := load(v)
		if err != nil {
			log.Warn("config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		log.Info("config reloaded", zap.String("file", e.Name))
		onChange(next)
	})
	v.WatchConfig()
	return cfg, nil
}
