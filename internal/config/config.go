package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Log      LogConfig      `mapstructure:"log" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
	Mail     MailConfig     `mapstructure:"mail" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// DatabaseConfig selects the task store. URL is required by the postgres
// driver; the memory driver keeps everything in process.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"required,oneof=postgres memory"`
	URL             string        `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// QueueConfig selects and tunes the job queue. Brokers, Topic and Group
// are only used by the kafka driver.
type QueueConfig struct {
	Driver          string   `mapstructure:"driver" validate:"required,oneof=memory kafka"`
	BufferSize      int      `mapstructure:"buffer_size" validate:"gt=0"`
	MaxRedeliveries int      `mapstructure:"max_redeliveries" validate:"gt=0"`
	Brokers         []string `mapstructure:"brokers"`
	Topic           string   `mapstructure:"topic" validate:"required_if=Driver kafka"`
	Group           string   `mapstructure:"group" validate:"required_if=Driver kafka"`
}

// RedisConfig enables the durable retry scheduler when URL is set.
type RedisConfig struct {
	URL          string        `mapstructure:"url" validate:"omitempty,url"`
	RetryKey     string        `mapstructure:"retry_key"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
}

// WorkerConfig tunes the job executor and the scheduler.
type WorkerConfig struct {
	Count              int           `mapstructure:"count" validate:"gt=0"`
	WorkDuration       time.Duration `mapstructure:"work_duration" validate:"gte=0"`
	MaxRetries         int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	Retention          time.Duration `mapstructure:"retention" validate:"gt=0"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval" validate:"gt=0"`
	StuckTaskAge       time.Duration `mapstructure:"stuck_task_age" validate:"gt=0"`
	StuckCheckInterval time.Duration `mapstructure:"stuck_check_interval" validate:"gt=0"`
}

// MailConfig selects the notification sender. Host and From are only
// required by the smtp driver.
type MailConfig struct {
	Driver   string `mapstructure:"driver" validate:"required,oneof=log smtp"`
	Host     string `mapstructure:"host" validate:"required_if=Driver smtp"`
	Port     int    `mapstructure:"port" validate:"gte=0,lt=65536"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from" validate:"required_if=Driver smtp"`
}

// AuthConfig enables bearer token verification when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
}
