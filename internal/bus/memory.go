package bus

import (
	"context"
	"log/slog"
	"path"
	"sync"
	"time"

	"frontdesk/internal/domain"
)

const publishTimeout = 10 * time.Second

type delivery struct {
	channel string
	payload []byte
}

type subscriber struct {
	pattern string
	ch      chan delivery
}

// MemoryBus is an in-process domain.MessageBus for development and tests.
type MemoryBus struct {
	mu         sync.RWMutex
	subs       map[*subscriber]struct{}
	queues     map[string][][]byte
	signal     chan struct{}
	closed     bool
	bufferSize int
	logger     *slog.Logger
}

// NewMemoryBus creates a MemoryBus whose subscribers buffer up to bufferSize messages.
func NewMemoryBus(bufferSize int, logger *slog.Logger) *MemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBus{
		subs:       make(map[*subscriber]struct{}),
		queues:     make(map[string][][]byte),
		signal:     make(chan struct{}),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

func matches(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	ok, _ := path.Match(pattern, channel)
	return ok
}

// Publish blocks up to publishTimeout per full subscriber before dropping.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0, domain.ErrNotConnected
	}
	var targets []*subscriber
	for s := range b.subs {
		if matches(s.pattern, channel) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	var delivered int64
	for _, s := range targets {
		d := delivery{channel: channel, payload: append([]byte(nil), payload...)}
		select {
		case s.ch <- d:
			delivered++
			continue
		default:
		}
		b.logger.Warn("subscriber full, waiting", "channel", channel)
		timer := time.NewTimer(publishTimeout)
		select {
		case s.ch <- d:
			delivered++
		case <-timer.C:
			b.logger.Error("message dropped: subscriber full", "channel", channel)
		case <-ctx.Done():
			timer.Stop()
			return delivered, ctx.Err()
		}
		timer.Stop()
	}
	return delivered, nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, channel string, handler domain.Handler) error {
	s := &subscriber{pattern: channel, ch: make(chan delivery, b.bufferSize)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return domain.ErrNotConnected
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-s.ch:
			b.dispatch(ctx, handler, d)
		}
	}
}

func (b *MemoryBus) dispatch(ctx context.Context, handler domain.Handler, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panic", "channel", d.channel, "panic", r)
		}
	}()
	handler(ctx, d.channel, d.payload)
}

// Subscribers returns how many subscriptions match channel.
func (b *MemoryBus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for s := range b.subs {
		if matches(s.pattern, channel) {
			n++
		}
	}
	return n
}

func (b *MemoryBus) PushQueue(_ context.Context, queue string, payload []byte) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, domain.ErrNotConnected
	}
	b.queues[queue] = append(b.queues[queue], append([]byte(nil), payload...))
	close(b.signal)
	b.signal = make(chan struct{})
	return int64(len(b.queues[queue])), nil
}

func (b *MemoryBus) PopQueue(ctx context.Context, queue string, timeout time.Duration) (string, []byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return "", nil, domain.ErrNotConnected
		}
		if q := b.queues[queue]; len(q) > 0 {
			head := q[0]
			b.queues[queue] = q[1:]
			b.mu.Unlock()
			return queue, head, nil
		}
		wait := b.signal
		b.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return "", nil, domain.ErrQueueTimeout
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
}

func (b *MemoryBus) HealthCheck(context.Context) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.signal)
	}
	return nil
}
