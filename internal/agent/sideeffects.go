package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"frontdesk/internal/metrics"
)

const defaultSideEffectTimeout = 15 * time.Second

// SideEffects runs best-effort tasks off the reply path: message logging,
// dashboard broadcasts, alerts, operator notifications. Tasks run detached
// from the caller's context, in no particular order. Failures and panics are
// logged and counted and never reach the caller.
type SideEffects struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	running map[string]int
	closed  bool
	timeout time.Duration
	logger  *slog.Logger
}

// NewSideEffects creates a runner whose tasks each get timeout to finish.
func NewSideEffects(timeout time.Duration, logger *slog.Logger) *SideEffects {
	if timeout <= 0 {
		timeout = defaultSideEffectTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SideEffects{running: make(map[string]int), timeout: timeout, logger: logger}
}

// Go starts fn in the background. It returns immediately. After Drain has
// been called new tasks are dropped.
func (s *SideEffects) Go(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("side effect dropped during shutdown", "task", name)
		metrics.SideEffectFailures.WithLabelValues(name).Inc()
		return
	}
	s.running[name]++
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running[name]--
			if s.running[name] == 0 {
				delete(s.running, name)
			}
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.run(ctx, fn); err != nil {
			metrics.SideEffectFailures.WithLabelValues(name).Inc()
			s.logger.Warn("side effect failed", "task", name, "err", err)
		}
	}()
}

func (s *SideEffects) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Pending returns the number of running tasks.
func (s *SideEffects) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.running {
		n += c
	}
	return n
}

// Drain stops accepting tasks and waits up to timeout for running ones.
// It reports whether everything finished in time.
func (s *SideEffects) Drain(timeout time.Duration) bool {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		s.logger.Warn("side effects still running at shutdown", "pending", s.Pending())
		return false
	}
}
