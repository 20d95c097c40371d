package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. TASKD_DATABASE_URL.
const EnvPrefix = "TASKD"

// Load configuration from environment variables and optionally a
// config.yaml in the working directory or ./config.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// validate applies the struct tags plus the checks tags cannot express.
func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return errors.New("database.url is required for the postgres driver")
	}
	if c.Queue.Driver == "kafka" && len(c.Queue.Brokers) == 0 {
		return errors.New("queue.brokers is required for the kafka driver")
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can bind it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.buffer_size", 1000)
	v.SetDefault("queue.max_redeliveries", 5)
	v.SetDefault("queue.brokers", []string{})
	v.SetDefault("queue.topic", "taskd.jobs")
	v.SetDefault("queue.group", "taskd-workers")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.retry_key", "taskd:retries")
	v.SetDefault("redis.poll_interval", "1s")

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.work_duration", "10s")
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.retry_delay", "60s")
	v.SetDefault("worker.retention", "720h")
	v.SetDefault("worker.cleanup_interval", "1h")
	v.SetDefault("worker.stuck_task_age", "30m")
	v.SetDefault("worker.stuck_check_interval", "5m")

	v.SetDefault("mail.driver", "log")
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")

	v.SetDefault("auth.jwt_secret", "")
}
