package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/shared/events"
	"github.com/carefront/platform/internal/shared/metrics"
)

// Provider delivers a notification on one channel
type Provider interface {
	Name() string
	Send(ctx context.Context, notification *Notification) error
}

// Service pages staff when an assignment that names them is committed.
// Delivery runs on a worker pool and never blocks the commit path.
type Service struct {
	provider Provider
	logger   *zap.Logger

	// State
	mu      sync.RWMutex
	pending map[string]*Notification
	stats   *NotificationStats

	// Processing
	notifCh chan *Notification
	workers int

	// Lifecycle
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	config ServiceConfig
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Workers:       4,
		BufferSize:    1000,
		RetryAttempts: 3,
		RetryDelay:    5 * time.Second,
	}
}

// NewService creates a new notification service
func NewService(provider Provider, config ServiceConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	return &Service{
		provider: provider,
		logger:   logger,
		pending:  make(map[string]*Notification),
		stats:    &NotificationStats{},
		notifCh:  make(chan *Notification, config.BufferSize),
		workers:  config.Workers,
		stopCh:   make(chan struct{}),
		config:   config,
	}
}

// Start starts the notification workers
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("service already started")
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	return nil
}

// Stop stops the workers and waits for them to exit
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("service not started")
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	return nil
}

// Subscribe routes committed assignments on bus to the assigned staff
func (s *Service) Subscribe(ctx context.Context, bus events.EventBus) error {
	return bus.Subscribe(ctx, events.TypeAssignmentCommitted, "notification-service", s.HandleCommitted)
}

// HandleCommitted enqueues one page per staff member named by the event
func (s *Service) HandleCommitted(ctx context.Context, event events.Event) error {
	var payload domain.DecisionEvent
	if err := event.DecodeData(&payload); err != nil {
		return err
	}

	for _, n := range notificationsFor(event, payload) {
		if err := s.SendNotification(ctx, n); err != nil {
			s.logger.Warn("Failed to enqueue staff page",
				zap.String("recipient_id", n.RecipientID),
				zap.String("decision_id", n.DecisionID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func notificationsFor(event events.Event, payload domain.DecisionEvent) []*Notification {
	location := "no bed assigned yet"
	if payload.BedID != nil {
		location = "bed " + *payload.BedID
	}

	priority := PriorityNormal
	if payload.ReviewRequired {
		priority = PriorityHigh
	}

	var out []*Notification
	for _, staff := range []struct {
		kind string
		id   *string
	}{
		{string(domain.KindNurse), payload.NurseID},
		{string(domain.KindDoctor), payload.DoctorID},
	} {
		if staff.id == nil {
			continue
		}
		body := fmt.Sprintf("You are assigned to patient %s, %s.", payload.PatientID, location)
		if payload.ReviewRequired {
			body += " Assignment needs clinical review."
		}
		out = append(out, &Notification{
			Priority:      priority,
			RecipientID:   *staff.id,
			RecipientKind: staff.kind,
			Subject:       "New patient assignment",
			Body:          body,
			Data: map[string]any{
				"source":    string(payload.Source),
				"reasoning": payload.Reasoning,
			},
			DecisionID:    payload.DecisionID.String(),
			PatientID:     payload.PatientID.String(),
			EventID:       event.ID,
			CorrelationID: event.CorrelationID,
		})
	}
	return out
}

// SendNotification queues a notification for delivery
func (s *Service) SendNotification(ctx context.Context, notification *Notification) error {
	if notification.ID == "" {
		notification.ID = generateNotificationID()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}
	notification.UpdatedAt = time.Now()
	notification.Status = StatusPending

	s.mu.Lock()
	s.pending[notification.ID] = notification
	s.mu.Unlock()

	select {
	case s.notifCh <- notification:
		return nil
	default:
		return fmt.Errorf("notification buffer full")
	}
}

// worker processes notifications from the channel
func (s *Service) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case notif := <-s.notifCh:
			s.processNotification(ctx, notif)
		}
	}
}

// processNotification delivers one notification, re-queueing it on failure
// until the retry budget is spent
func (s *Service) processNotification(ctx context.Context, notif *Notification) {
	var err error
	if s.provider != nil {
		err = s.provider.Send(ctx, notif)
	} else {
		err = fmt.Errorf("notification provider not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	notif.UpdatedAt = now

	if err == nil {
		notif.SentAt = &now
		notif.Status = StatusSent
		s.updateStats(notif, true)
		return
	}

	notif.ErrorMessage = err.Error()
	notif.RetryCount++
	notif.LastRetryAt = &now

	if notif.RetryCount >= s.config.RetryAttempts {
		notif.Status = StatusFailed
		s.updateStats(notif, false)
		s.logger.Warn("Staff page failed",
			zap.String("notification_id", notif.ID),
			zap.String("recipient_id", notif.RecipientID),
			zap.Int("attempts", notif.RetryCount),
			zap.Error(err),
		)
		return
	}

	go func() {
		select {
		case <-time.After(s.config.RetryDelay):
		case <-s.stopCh:
			return
		}
		select {
		case s.notifCh <- notif:
		default:
		}
	}()
}

// updateStats updates notification statistics; callers hold mu
func (s *Service) updateStats(notif *Notification, success bool) {
	if s.stats.ByPriority == nil {
		s.stats.ByPriority = make(map[NotificationPriority]int64)
	}
	if s.stats.ByStatus == nil {
		s.stats.ByStatus = make(map[NotificationStatus]int64)
	}

	s.stats.TotalSent++
	s.stats.ByPriority[notif.Priority]++
	s.stats.ByStatus[notif.Status]++

	if success {
		s.stats.TotalDelivered++
	} else {
		s.stats.TotalFailed++
	}

	if s.stats.TotalSent > 0 {
		s.stats.DeliveryRate = float64(s.stats.TotalDelivered) / float64(s.stats.TotalSent)
	}

	provider := "none"
	if s.provider != nil {
		provider = s.provider.Name()
	}
	metrics.RecordNotification(provider, success)
}

// GetNotification returns a notification by ID
func (s *Service) GetNotification(id string) (*Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	cp := *n
	return &cp, true
}

// GetStats returns notification statistics
func (s *Service) GetStats() NotificationStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := *s.stats
	out.ByPriority = make(map[NotificationPriority]int64, len(s.stats.ByPriority))
	for k, v := range s.stats.ByPriority {
		out.ByPriority[k] = v
	}
	out.ByStatus = make(map[NotificationStatus]int64, len(s.stats.ByStatus))
	for k, v := range s.stats.ByStatus {
		out.ByStatus[k] = v
	}
	return out
}

func generateNotificationID() string {
	return fmt.Sprintf("ntf-%d", time.Now().UnixNano())
}
