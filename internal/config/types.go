package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Exchange    ExchangeConfig    `mapstructure:"exchange"`
	Stream      StreamConfig      `mapstructure:"stream"`
	Replication ReplicationConfig `mapstructure:"replication"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Admin       AdminConfig       `mapstructure:"admin"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	RestURL    string      `mapstructure:"rest_url"`
	StreamURL  string      `mapstructure:"stream_url"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// StreamConfig 控制单条用户数据流的生命周期。
type StreamConfig struct {
	RenewInterval time.Duration `mapstructure:"renew_interval"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
}

// ReplicationConfig 控制跟单复制行为。
type ReplicationConfig struct {
	Trigger    string `mapstructure:"trigger"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// SchedulerConfig 控制调度节奏。
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// QueueConfig 控制任务队列。
type QueueConfig struct {
	Workers    int `mapstructure:"workers"`
	BufferSize int `mapstructure:"buffer_size"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// AdminConfig 控制管理接口。
type AdminConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.RestURL == "" {
		err = multierr.Append(err, errors.New("exchange.rest_url 不能为空"))
	}
	if c.Exchange.StreamURL == "" {
		err = multierr.Append(err, errors.New("exchange.stream_url 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Stream.RenewInterval <= 0 {
		err = multierr.Append(err, errors.New("stream.renew_interval 必须大于0"))
	}
	if c.Stream.ReadTimeout <= 0 {
		err = multierr.Append(err, errors.New("stream.read_timeout 必须大于0"))
	}
	if c.Replication.Trigger == "" {
		err = multierr.Append(err, errors.New("replication.trigger 不能为空"))
	}
	if c.Replication.MaxRetries <= 0 {
		err = multierr.Append(err, errors.New("replication.max_retries 必须大于0"))
	}
	if c.Scheduler.TickInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.tick_interval 必须大于0"))
	}
	if c.Queue.Workers <= 0 {
		err = multierr.Append(err, errors.New("queue.workers 必须大于0"))
	}
	if c.Queue.BufferSize <= 0 {
		err = multierr.Append(err, errors.New("queue.buffer_size 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Admin.Enabled && (c.Admin.Port <= 0 || c.Admin.Port > 65535) {
		err = multierr.Append(err, errors.New("admin.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
