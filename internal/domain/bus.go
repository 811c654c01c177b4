package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConnected is returned by every bus operation while the bus is down or closed.
	ErrNotConnected = errors.New("message bus not connected")
	// ErrQueueTimeout is returned by PopQueue when nothing arrived in time.
	ErrQueueTimeout = errors.New("queue pop timed out")
)

// Bus channel and queue names.
const (
	ChannelOutbound     = "outbound"
	ChannelSystemEvents = "system:events"
	ChannelInboundAll   = "inbound:*"
	QueueVoice          = "queue:voice"
)

// InboundChannel returns the pub/sub channel for one tenant's inbound traffic.
func InboundChannel(tenantID string) string { return "inbound:" + tenantID }

// Handler receives one pub/sub delivery.
type Handler func(ctx context.Context, channel string, payload []byte)

// MessageBus is the single point every inbound, outbound and system message
// passes through. Pub/sub delivery reaches only current subscribers; the queue
// is FIFO.
type MessageBus interface {
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	// Subscribe runs handler for every message until ctx is cancelled.
	// A channel containing '*' is treated as a pattern.
	Subscribe(ctx context.Context, channel string, handler Handler) error
	PushQueue(ctx context.Context, queue string, payload []byte) (int64, error)
	PopQueue(ctx context.Context, queue string, timeout time.Duration) (string, []byte, error)
	HealthCheck(ctx context.Context) bool
	Close() error
}
