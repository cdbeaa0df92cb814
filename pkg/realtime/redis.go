package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrFailedToParseRedisConnString is returned when the connection URL is invalid.
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")

	// ErrRedisNotReady is returned when all connection attempts fail.
	ErrRedisNotReady = errors.New("redis is not ready")
)

type Config struct {
	ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"` // ConnectionURL is the URL of the redis server.
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`                      // RetryAttempts is the number of connection attempts.
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`                     // RetryInterval is the pause between attempts.
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`                   // ConnectTimeout bounds the whole connect sequence.
}

// Connect establishes a Redis connection with retry, verifying it with a ping.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opt, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	for range cfg.RetryAttempts {
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, ErrRedisNotReady
}

// RedisBus is a Bus over Redis pub/sub, for deployments where the session
// holding a connection may live in a different process than the publisher.
type RedisBus struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// RedisBusOption configures a RedisBus.
type RedisBusOption func(*RedisBus)

// WithRedisBusLogger sets the logger for the RedisBus.
func WithRedisBusLogger(logger *slog.Logger) RedisBusOption {
	return func(b *RedisBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithChannelPrefix namespaces the pub/sub channels, default "notify".
func WithChannelPrefix(prefix string) RedisBusOption {
	return func(b *RedisBus) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// NewRedisBus creates a Bus publishing through the given client.
func NewRedisBus(client *redis.Client, opts ...RedisBusOption) *RedisBus {
	b := &RedisBus{
		client: client,
		prefix: "notify",
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *RedisBus) Publish(ctx context.Context, userID, event string, payload any) {
	b.publish(ctx, userTarget(userID), event, payload)
}

func (b *RedisBus) PublishToRole(ctx context.Context, role, event string, payload any) {
	b.publish(ctx, roleTarget(role), event, payload)
}

func (b *RedisBus) PublishToAll(ctx context.Context, event string, payload any) {
	b.publish(ctx, allTarget, event, payload)
}

func (b *RedisBus) publish(ctx context.Context, key, event string, payload any) {
	data, err := json.Marshal(Event{Name: event, Payload: payload})
	if err != nil {
		b.logger.LogAttrs(ctx, slog.LevelWarn, "failed to encode realtime event",
			slog.String("event", event),
			slog.Any("error", err),
		)
		return
	}

	if err := b.client.Publish(ctx, b.prefix+":"+key, data).Err(); err != nil {
		// Lost event only; the push channel remains the durable fallback.
		b.logger.LogAttrs(ctx, slog.LevelWarn, "failed to publish realtime event",
			slog.String("target", key),
			slog.String("event", event),
			slog.Any("error", err),
		)
	}
}

// Subscribe attaches a session for one user, mirroring MemoryBus.Subscribe.
// The returned channel is closed when ctx is cancelled.
func (b *RedisBus) Subscribe(ctx context.Context, userID string, roles ...string) <-chan Event {
	channels := make([]string, 0, len(roles)+2)
	channels = append(channels, b.prefix+":"+userTarget(userID))
	for _, r := range roles {
		channels = append(channels, b.prefix+":"+roleTarget(r))
	}
	channels = append(channels, b.prefix+":"+allTarget)

	pubsub := b.client.Subscribe(ctx, channels...)
	out := make(chan Event, 32)

	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.LogAttrs(ctx, slog.LevelWarn, "failed to decode realtime event",
						slog.String("channel", msg.Channel),
						slog.Any("error", err),
					)
					continue
				}
				select {
				case out <- ev:
				default:
					// Slow consumer: drop, consistent with the bus contract.
				}
			}
		}
	}()

	return out
}
