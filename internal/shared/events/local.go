package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type localSubscription struct {
	pattern  string
	consumer string
	handler  Handler
}

// LocalBus dispatches events to in-process subscribers synchronously, in
// subscription order. It backs mock mode and tests.
type LocalBus struct {
	mu     sync.RWMutex
	subs   []localSubscription
	logger *zap.Logger
}

// NewLocalBus creates an in-process bus
func NewLocalBus(logger *zap.Logger) *LocalBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalBus{logger: logger}
}

// Publish delivers the event to every matching subscriber. Handler errors are
// logged, not returned, matching the KurrentDB bus.
func (b *LocalBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]localSubscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !matchesPattern(event.Type, s.pattern) {
			continue
		}
		if err := s.handler(ctx, event); err != nil {
			b.logger.Error("event handler failed",
				zap.String("consumer", s.consumer),
				zap.String("type", event.Type),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Subscribe registers a handler
func (b *LocalBus) Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, localSubscription{pattern: pattern, consumer: consumerName, handler: handler})
	return nil
}

// Close drops all subscribers
func (b *LocalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

// Health always succeeds for the in-process bus
func (b *LocalBus) Health() error {
	return nil
}
