package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/events"
	"github.com/carefront/platform/internal/shared/types"
)

// BedCleaner returns a cleaned bed to the pool
type BedCleaner interface {
	CompleteCleaning(ctx context.Context, bedID string) (*domain.Resource, error)
}

// Service manages tasks and derives them from assignment events
type Service struct {
	repo    TaskRepository
	roster  domain.ResourceReader
	cleaner BedCleaner
	logger  *zap.Logger
	now     func() time.Time

	// mu serializes read-modify-write of task status
	mu sync.Mutex
}

// NewService creates a task service. roster and cleaner may be nil, in
// which case bed state is neither consulted nor changed.
func NewService(repo TaskRepository, roster domain.ResourceReader, cleaner BedCleaner, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		roster:  roster,
		cleaner: cleaner,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest describes a task to create
type CreateRequest struct {
	Type        Type       `json:"type"`
	TargetRole  TargetRole `json:"target_role,omitempty"`
	AgentRole   string     `json:"agent_role,omitempty"`
	AssignedTo  *string    `json:"assigned_to,omitempty"`
	PatientID   *types.ID  `json:"patient_id,omitempty"`
	BedID       *string    `json:"bed_id,omitempty"`
	DecisionID  *types.ID  `json:"decision_id,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

func (r CreateRequest) validate() error {
	details := map[string]string{}
	if !r.Type.Valid() {
		details["type"] = fmt.Sprintf("must be %s or %s", TypeCleaning, TypeNurseCheckup)
	}
	if r.TargetRole != "" && r.TargetRole != TargetHuman && r.TargetRole != TargetAgent {
		details["target_role"] = fmt.Sprintf("must be %s or %s", TargetHuman, TargetAgent)
	}
	if r.TargetRole == TargetAgent && r.AgentRole == "" {
		details["agent_role"] = "required for agent tasks"
	}
	if r.Type == TypeCleaning && (r.BedID == nil || *r.BedID == "") {
		details["bed_id"] = "required for cleaning tasks"
	}
	if r.Type == TypeNurseCheckup && r.PatientID == nil {
		details["patient_id"] = "required for nurse checkups"
	}
	if len(details) > 0 {
		return errors.Validation("invalid task", details)
	}
	return nil
}

// Create stores a new pending task
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	t := &Task{
		ID:          types.NewID(),
		Type:        req.Type,
		TargetRole:  req.TargetRole,
		AgentRole:   req.AgentRole,
		AssignedTo:  req.AssignedTo,
		PatientID:   req.PatientID,
		BedID:       req.BedID,
		DecisionID:  req.DecisionID,
		Status:      StatusPending,
		Notes:       req.Notes,
		ScheduledAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.TargetRole == "" {
		t.TargetRole = TargetHuman
	}
	if req.ScheduledAt != nil {
		t.ScheduledAt = req.ScheduledAt.UTC()
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	s.logger.Info("Task created",
		zap.String("task_id", t.ID.String()),
		zap.String("type", string(t.Type)),
	)
	return t, nil
}

// Get returns one task
func (s *Service) Get(ctx context.Context, id types.ID) (*Task, error) {
	return s.repo.Get(ctx, id)
}

// List returns tasks matching filter, newest first, and the total count
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Task, int, error) {
	return s.repo.List(ctx, filter)
}

// UpdateStatus moves a task to status. Completing a cleaning task returns
// its bed to the pool first; the task is left open if that fails.
func (s *Service) UpdateStatus(ctx context.Context, id types.ID, status Status) (*Task, error) {
	if !status.Valid() {
		return nil, errors.Validation("invalid status", map[string]string{
			"status": fmt.Sprintf("%q is not a task status", status),
		})
	}

	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Status.CanBecome(status) {
		return nil, errors.Conflict(fmt.Sprintf("task is %s and cannot become %s", t.Status, status))
	}

	if t.Type == TypeCleaning && status == StatusCompleted && s.cleaner != nil && t.BedID != nil {
		if _, err := s.cleaner.CompleteCleaning(ctx, *t.BedID); err != nil {
			return nil, fmt.Errorf("failed to release bed %s: %w", *t.BedID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Returning the bed may already have closed the task through its event.
	t, err = s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}
	if err := t.SetStatus(status, s.now()); err != nil {
		return nil, errors.Conflict(err.Error())
	}
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}

	s.logger.Info("Task status updated",
		zap.String("task_id", t.ID.String()),
		zap.String("status", string(status)),
	)
	return t, nil
}

// Subscribe derives tasks from assignment and bed events on bus
func (s *Service) Subscribe(ctx context.Context, bus events.EventBus) error {
	subs := []struct {
		eventType string
		handler   events.Handler
	}{
		{events.TypeAssignmentCommitted, s.HandleCommitted},
		{events.TypeAssignmentSuperseded, s.HandleSuperseded},
		{events.TypeAssignmentReleased, s.HandleReleased},
		{events.TypeAvailabilityChanged, s.HandleAvailabilityChanged},
	}
	for _, sub := range subs {
		if err := bus.Subscribe(ctx, sub.eventType, "task-service", sub.handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", sub.eventType, err)
		}
	}
	return nil
}

// HandleCommitted schedules a checkup for the nurse taking the patient
func (s *Service) HandleCommitted(ctx context.Context, event events.Event) error {
	var payload domain.DecisionEvent
	if err := event.DecodeData(&payload); err != nil {
		return err
	}
	if payload.NurseID == nil {
		return nil
	}

	open, _, err := s.repo.List(ctx, ListFilter{Type: TypeNurseCheckup, PatientID: &payload.PatientID, OpenOnly: true})
	if err != nil {
		return err
	}
	for _, t := range open {
		if t.DecisionID != nil && *t.DecisionID == payload.DecisionID {
			return nil
		}
	}

	_, err = s.Create(ctx, CreateRequest{
		Type:       TypeNurseCheckup,
		AssignedTo: payload.NurseID,
		PatientID:  &payload.PatientID,
		BedID:      payload.BedID,
		DecisionID: &payload.DecisionID,
	})
	return err
}

// HandleSuperseded cancels work left over from the replaced assignment
func (s *Service) HandleSuperseded(ctx context.Context, event events.Event) error {
	var payload domain.DecisionEvent
	if err := event.DecodeData(&payload); err != nil {
		return err
	}
	return s.cancelCheckups(ctx, payload)
}

// HandleReleased cancels the discharged patient's checkups and, when the
// bed was left for cleaning, schedules the cleaning.
func (s *Service) HandleReleased(ctx context.Context, event events.Event) error {
	var payload domain.DecisionEvent
	if err := event.DecodeData(&payload); err != nil {
		return err
	}
	if err := s.cancelCheckups(ctx, payload); err != nil {
		return err
	}
	if payload.BedID == nil {
		return nil
	}

	if s.roster != nil {
		bed, err := s.roster.GetResource(ctx, domain.KindBed, *payload.BedID)
		if err != nil {
			return err
		}
		if bed.Availability != domain.AvailabilityCleaning {
			return nil
		}
	}
	return s.scheduleCleaning(ctx, *payload.BedID, &payload.PatientID, &payload.DecisionID)
}

// HandleAvailabilityChanged keeps cleaning tasks in step with bed state
// changed outside a discharge.
func (s *Service) HandleAvailabilityChanged(ctx context.Context, event events.Event) error {
	var payload domain.AvailabilityEvent
	if err := event.DecodeData(&payload); err != nil {
		return err
	}
	if payload.Kind != domain.KindBed {
		return nil
	}

	switch {
	case payload.To == domain.AvailabilityCleaning:
		return s.scheduleCleaning(ctx, payload.ResourceID, nil, nil)
	case payload.From == domain.AvailabilityCleaning:
		next := StatusCompleted
		if payload.To != domain.AvailabilityAvailable {
			next = StatusCancelled
		}
		return s.closeOpen(ctx, ListFilter{Type: TypeCleaning, BedID: payload.ResourceID, OpenOnly: true}, next)
	}
	return nil
}

func (s *Service) scheduleCleaning(ctx context.Context, bedID string, patientID, decisionID *types.ID) error {
	_, total, err := s.repo.List(ctx, ListFilter{Type: TypeCleaning, BedID: bedID, OpenOnly: true, Limit: 1})
	if err != nil {
		return err
	}
	if total > 0 {
		return nil
	}

	_, err = s.Create(ctx, CreateRequest{
		Type:       TypeCleaning,
		BedID:      &bedID,
		PatientID:  patientID,
		DecisionID: decisionID,
	})
	return err
}

func (s *Service) cancelCheckups(ctx context.Context, payload domain.DecisionEvent) error {
	open, _, err := s.repo.List(ctx, ListFilter{Type: TypeNurseCheckup, PatientID: &payload.PatientID, OpenOnly: true})
	if err != nil {
		return err
	}
	var ids []types.ID
	for _, t := range open {
		if t.DecisionID != nil && *t.DecisionID == payload.DecisionID {
			ids = append(ids, t.ID)
		}
	}
	return s.close(ctx, ids, StatusCancelled)
}

func (s *Service) closeOpen(ctx context.Context, filter ListFilter, next Status) error {
	open, _, err := s.repo.List(ctx, filter)
	if err != nil {
		return err
	}
	ids := make([]types.ID, 0, len(open))
	for _, t := range open {
		ids = append(ids, t.ID)
	}
	return s.close(ctx, ids, next)
}

func (s *Service) close(ctx context.Context, ids []types.ID, next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range ids {
		t, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !t.Status.Open() {
			continue
		}
		if err := t.SetStatus(next, now); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, t); err != nil {
			return err
		}
		s.logger.Info("Task closed",
			zap.String("task_id", t.ID.String()),
			zap.String("status", string(next)),
		)
	}
	return nil
}
