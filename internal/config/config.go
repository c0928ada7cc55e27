package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/genstudio/genstudio-be/internal/domain"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Database DatabaseConfig          `yaml:"database"`
	RabbitMQ RabbitMQConfig          `yaml:"rabbitmq"`
	Redis    RedisConfig             `yaml:"redis"`
	Storage  StorageConfig           `yaml:"storage"`
	Logging  LoggingConfig           `yaml:"logging"`
	App      AppConfig               `yaml:"app"`
	Worker   WorkerConfig            `yaml:"worker"`
	Costs    map[string]int          `yaml:"costs"`
	Dispatch map[string]PolicyConfig `yaml:"dispatch"`
	Notify   NotifyConfig            `yaml:"notify"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// RedisConfig holds the update-channel connection settings
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	Channel     string        `yaml:"channel"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// StorageConfig holds blob store settings
type StorageConfig struct {
	Root string `yaml:"root"`
}

// PolicyConfig holds one job type's dispatch retry policy
type PolicyConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffType    string        `yaml:"backoff_type"`
	BackoffDelay   time.Duration `yaml:"backoff_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// NotifyConfig holds realtime fan-out settings
type NotifyConfig struct {
	ClientBuffer      int           `yaml:"client_buffer"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills the cost and dispatch tables for job types the
// file does not override. External configuration wins when present.
func (c *Config) applyDefaults() {
	if c.Costs == nil {
		c.Costs = map[string]int{}
	}
	for jobType, cost := range defaultCosts() {
		if _, ok := c.Costs[jobType]; !ok {
			c.Costs[jobType] = cost
		}
	}

	if c.Dispatch == nil {
		c.Dispatch = map[string]PolicyConfig{}
	}
	for jobType, policy := range defaultPolicies() {
		if _, ok := c.Dispatch[jobType]; !ok {
			c.Dispatch[jobType] = policy
		}
	}

	if c.Redis.Channel == "" {
		c.Redis.Channel = "job-updates"
	}
	if c.Redis.DialTimeout <= 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Notify.ClientBuffer <= 0 {
		c.Notify.ClientBuffer = 16
	}
	if c.Notify.HeartbeatInterval <= 0 {
		c.Notify.HeartbeatInterval = 15 * time.Second
	}
}

func defaultCosts() map[string]int {
	return map[string]int{
		domain.JobTypeImageGeneration:    2,
		domain.JobTypeClothSwap:          3,
		domain.JobTypeInfluencerCreation: 5,
		domain.JobType3DVideo:            8,
		domain.JobTypeStudyAnimation:     5,
		domain.JobTypeStoryVideo:         10,
	}
}

func defaultPolicies() map[string]PolicyConfig {
	short := PolicyConfig{MaxAttempts: 3, BackoffType: "exponential", BackoffDelay: 5 * time.Second}
	return map[string]PolicyConfig{
		domain.JobTypeImageGeneration:    short,
		domain.JobTypeClothSwap:          short,
		domain.JobTypeInfluencerCreation: short,
		domain.JobType3DVideo:            {MaxAttempts: 2, BackoffType: "exponential", BackoffDelay: 5 * time.Second, AttemptTimeout: 10 * time.Minute},
		domain.JobTypeStudyAnimation:     {MaxAttempts: 2, BackoffType: "exponential", BackoffDelay: 5 * time.Second, AttemptTimeout: 10 * time.Minute},
		domain.JobTypeStoryVideo:         {MaxAttempts: 2, BackoffType: "exponential", BackoffDelay: 5 * time.Second, AttemptTimeout: 15 * time.Minute},
	}
}

// ValidateAPIConfig checks the sections the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return c.validateShared()
}

// ValidateWorkerConfig checks the sections the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return c.validateShared()
}

// validateShared checks the broker sections both services depend on.
// The worker never opens Postgres, so the database section is checked
// only on the API side.
func (c *Config) validateShared() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	for jobType, cost := range c.Costs {
		if cost <= 0 {
			return fmt.Errorf("credit cost for %s must be greater than 0", jobType)
		}
	}

	for jobType, policy := range c.Dispatch {
		if policy.MaxAttempts <= 0 {
			return fmt.Errorf("dispatch max_attempts for %s must be greater than 0", jobType)
		}
	}

	return nil
}
