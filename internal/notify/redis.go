package notify

import (
	"context"
	"encoding/json"

	"github.com/Sat-14/Crypto-bot/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Ensure implementation satisfies interface at compile time
var _ Notifier = (*Redis)(nil)

// Redis publishes patches over Redis pub/sub. The WebSocket edge that
// fans messages out to browsers subscribes to the same channels.
type Redis struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedis(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Redis{client: client, logger: logger}, nil
}

func (r *Redis) Publish(ctx context.Context, channel string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error().Err(err).Str("channel", channel).Msg("failed to marshal notification")
		return
	}

	if err := r.client.Publish(ctx, channel, body).Err(); err != nil {
		r.logger.Error().Err(err).Str("channel", channel).Msg("failed to publish notification")
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
