package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genstudio/genstudio-be/internal/domain"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "genstudio.jobs", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "generation-jobs", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
				assert.Equal(t, "genstudio-api", cfg.App.Name)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	// The file overrides one cost; the rest fall back to defaults.
	assert.Equal(t, 4, cfg.Costs[domain.JobTypeImageGeneration])
	assert.Equal(t, 3, cfg.Costs[domain.JobTypeClothSwap])
	assert.Equal(t, 10, cfg.Costs[domain.JobTypeStoryVideo])

	assert.Equal(t, 5, cfg.Dispatch[domain.JobTypeImageGeneration].MaxAttempts)
	assert.Equal(t, "constant", cfg.Dispatch[domain.JobTypeImageGeneration].BackoffType)

	storyVideo := cfg.Dispatch[domain.JobTypeStoryVideo]
	assert.Equal(t, 2, storyVideo.MaxAttempts)
	assert.Equal(t, 15*time.Minute, storyVideo.AttemptTimeout)

	assert.Equal(t, "job-updates", cfg.Redis.Channel)
	assert.Equal(t, 16, cfg.Notify.ClientBuffer)
	assert.Equal(t, 15*time.Second, cfg.Notify.HeartbeatInterval)
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, Database: "genstudio"},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "genstudio.jobs"},
			Queue:    QueueConfig{Name: "generation-jobs"},
		},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Storage: StorageConfig{Root: "./data/blobs"},
		Worker: WorkerConfig{
			Concurrency:     4,
			JobTimeout:      5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

func TestValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:      "bad server port",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "missing storage root",
			mutate:    func(c *Config) { c.Storage.Root = "" },
			errString: "storage root is required",
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "missing redis addr",
			mutate:    func(c *Config) { c.Redis.Addr = "" },
			errString: "redis addr is required",
		},
		{
			name:      "missing exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "zero credit cost",
			mutate:    func(c *Config) { c.Costs = map[string]int{"image-generation": 0} },
			errString: "credit cost for image-generation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			}
		})
	}
}

func TestValidateWorkerConfig(t *testing.T) {
	// The worker never opens Postgres; a missing database section must
	// not fail its validation.
	cfg := validConfig()
	cfg.Database = DatabaseConfig{}
	assert.NoError(t, cfg.ValidateWorkerConfig())

	cfg.Worker.Concurrency = 0
	err := cfg.ValidateWorkerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker concurrency")

	cfg = validConfig()
	cfg.Worker.JobTimeout = 0
	err = cfg.ValidateWorkerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job_timeout")

	cfg = validConfig()
	cfg.Dispatch = map[string]PolicyConfig{"3d-video": {MaxAttempts: 0}}
	err = cfg.ValidateWorkerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
}
