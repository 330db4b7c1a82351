package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MockProvider records notifications in memory for tests and mock mode
type MockProvider struct {
	mu        sync.RWMutex
	sent      []*Notification
	failures  int
	sendDelay time.Duration
}

// NewMockProvider creates a new mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Name returns the provider name
func (p *MockProvider) Name() string { return "mock" }

// Send records the notification unless a failure is pending
func (p *MockProvider) Send(ctx context.Context, notification *Notification) error {
	if p.sendDelay > 0 {
		select {
		case <-time.After(p.sendDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failures > 0 {
		p.failures--
		return fmt.Errorf("mock send failure")
	}

	cp := *notification
	p.sent = append(p.sent, &cp)
	return nil
}

// FailNext makes the next n sends fail
func (p *MockProvider) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
}

// SetSendDelay sets artificial delay for Send
func (p *MockProvider) SetSendDelay(delay time.Duration) {
	p.sendDelay = delay
}

// GetSentNotifications returns all sent notifications in delivery order
func (p *MockProvider) GetSentNotifications() []*Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*Notification, len(p.sent))
	copy(result, p.sent)
	return result
}

// LogProvider writes notifications to the application log (for development)
type LogProvider struct {
	logger *zap.Logger
}

// NewLogProvider creates a log provider
func NewLogProvider(logger *zap.Logger) *LogProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogProvider{logger: logger}
}

// Name returns the provider name
func (p *LogProvider) Name() string { return "log" }

// Send logs the notification
func (p *LogProvider) Send(ctx context.Context, notification *Notification) error {
	p.logger.Info("Staff page",
		zap.String("notification_id", notification.ID),
		zap.String("priority", string(notification.Priority)),
		zap.String("recipient_id", notification.RecipientID),
		zap.String("recipient_kind", notification.RecipientKind),
		zap.String("subject", notification.Subject),
		zap.String("body", notification.Body),
		zap.String("decision_id", notification.DecisionID),
	)
	return nil
}
