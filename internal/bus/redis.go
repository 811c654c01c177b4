package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"frontdesk/internal/domain"
)

// RedisBus implements domain.MessageBus on Redis pub/sub and lists.
type RedisBus struct {
	client    *redis.Client
	connected atomic.Bool
	closed    atomic.Bool
	logger    *slog.Logger
}

// NewRedisBus parses url and prepares a client. No connection is made until Connect.
func NewRedisBus(url string, logger *slog.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisBusFromClient(redis.NewClient(opts), logger), nil
}

// NewRedisBusFromClient wraps an existing client.
func NewRedisBusFromClient(client *redis.Client, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{client: client, logger: logger}
}

// Connect pings Redis and marks the bus usable. The underlying client
// reconnects on demand after this.
func (b *RedisBus) Connect(ctx context.Context) error {
	if b.closed.Load() {
		return domain.ErrNotConnected
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	b.connected.Store(true)
	b.logger.Info("message bus connected", "addr", b.client.Options().Addr)
	return nil
}

// Client exposes the Redis client for key/value stores sharing the connection.
func (b *RedisBus) Client() *redis.Client { return b.client }

func (b *RedisBus) ready() error {
	if b.closed.Load() || !b.connected.Load() {
		return domain.ErrNotConnected
	}
	return nil
}

func connErr(op string, err error) error {
	return fmt.Errorf("bus %s: %w: %v", op, domain.ErrNotConnected, err)
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if err := b.ready(); err != nil {
		return 0, err
	}
	n, err := b.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, connErr("publish", err)
	}
	return n, nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler domain.Handler) error {
	if err := b.ready(); err != nil {
		return err
	}

	var ps *redis.PubSub
	if strings.Contains(channel, "*") {
		ps = b.client.PSubscribe(ctx, channel)
	} else {
		ps = b.client.Subscribe(ctx, channel)
	}
	defer ps.Close()

	// Wait for the subscription confirmation so publishers issued after
	// Subscribe starts are not lost.
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return connErr("subscribe", err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return domain.ErrNotConnected
			}
			b.dispatch(ctx, handler, msg.Channel, []byte(msg.Payload))
		}
	}
}

func (b *RedisBus) dispatch(ctx context.Context, handler domain.Handler, channel string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panic", "channel", channel, "panic", r)
		}
	}()
	handler(ctx, channel, payload)
}

func (b *RedisBus) PushQueue(ctx context.Context, queue string, payload []byte) (int64, error) {
	if err := b.ready(); err != nil {
		return 0, err
	}
	n, err := b.client.RPush(ctx, queue, payload).Result()
	if err != nil {
		return 0, connErr("push", err)
	}
	return n, nil
}

func (b *RedisBus) PopQueue(ctx context.Context, queue string, timeout time.Duration) (string, []byte, error) {
	if err := b.ready(); err != nil {
		return "", nil, err
	}
	res, err := b.client.BLPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, domain.ErrQueueTimeout
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return "", nil, connErr("pop", err)
	}
	if len(res) != 2 {
		return "", nil, fmt.Errorf("bus pop: unexpected reply length %d", len(res))
	}
	return res[0], []byte(res[1]), nil
}

func (b *RedisBus) HealthCheck(ctx context.Context) bool {
	if b.ready() != nil {
		return false
	}
	return b.client.Ping(ctx).Err() == nil
}

func (b *RedisBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}
