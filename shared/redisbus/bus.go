package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/genstudio/genstudio-be/internal/domain"
)

// Config holds the update-channel connection settings
type Config struct {
	Addr        string
	Password    string
	DB          int
	Channel     string
	DialTimeout time.Duration
}

// Bus is the shared worker-update channel carried over Redis pub/sub.
// It is the only cross-process path between workers and API processes;
// workers never address a specific process.
type Bus struct {
	config  *Config
	rdb     *goredis.Client
	logger  *slog.Logger
	channel string
}

// NewBus connects to Redis and verifies the connection
func NewBus(config *Config, logger *slog.Logger) (*Bus, error) {
	channel := config.Channel
	if channel == "" {
		channel = "job-updates"
	}

	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		DialTimeout: dialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Redis update bus connected",
		slog.String("addr", config.Addr),
		slog.String("channel", channel),
	)

	return &Bus{
		config:  config,
		rdb:     rdb,
		logger:  logger,
		channel: channel,
	}, nil
}

// Publish sends one status-update message to the shared channel
func (b *Bus) Publish(ctx context.Context, msg domain.UpdateMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal update message: %w", err)
	}

	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish update message: %w", err)
	}

	b.logger.Debug("Update message published",
		slog.String("job_id", msg.JobID),
		slog.String("status", msg.Status),
	)

	return nil
}

// StartForwarder subscribes to the update channel and invokes onMsg for
// each decoded message until ctx is canceled. A malformed message is
// logged and skipped; it never stalls delivery of subsequent messages.
func (b *Bus) StartForwarder(ctx context.Context, onMsg func(msg domain.UpdateMessage)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures the subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var msg domain.UpdateMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.logger.Warn("Dropping malformed update message",
						slog.Any("error", err),
					)
					continue
				}
				onMsg(msg)
			}
		}
	}()

	b.logger.Info("Update-channel forwarder started",
		slog.String("channel", b.channel),
	)

	return nil
}

// Close closes the Redis connection
func (b *Bus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
