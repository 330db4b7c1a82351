// Package commit applies assignment decisions to the resource pool.
package commit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/events"
	"github.com/carefront/platform/internal/shared/lock"
	"github.com/carefront/platform/internal/shared/metrics"
	"github.com/carefront/platform/internal/shared/types"
)

const eventSource = "carefront.commit"

// Result is a committed decision and the decision it replaced, if any
type Result struct {
	Decision   *domain.Decision
	Superseded *domain.Decision
}

// Service commits, releases and maintains resource availability. Every
// mutation runs under the single-writer lock inside one store transaction.
type Service struct {
	store  domain.Store
	locker lock.Locker
	bus    events.EventBus
	logger *zap.Logger
}

// NewService creates a commit service. bus may be nil.
func NewService(store domain.Store, locker lock.Locker, bus events.EventBus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Service{
		store:  store,
		locker: locker,
		bus:    bus,
		logger: logger,
	}
}

// Commit re-validates every slot of a stored proposed decision and, if all
// are still free, reserves them and marks the decision committed. The
// patient's previous committed decision is superseded in the same
// transaction. Nothing is applied when ctx is cancelled.
func (s *Service) Commit(ctx context.Context, decisionID types.ID) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	release, err := s.locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var result Result
	err = s.store.Atomically(ctx, func(tx domain.Tx) error {
		r, err := commitInTx(ctx, tx, decisionID)
		if err != nil {
			return err
		}
		result = *r
		return nil
	})
	metrics.RecordCommit(time.Since(start), domain.IsResourceConflict(err))
	if err != nil {
		if domain.IsResourceConflict(err) {
			s.logger.Info("Commit lost resource race",
				zap.String("decision_id", decisionID.String()),
				zap.Error(err),
			)
		}
		return nil, err
	}

	metrics.RecordDecision(string(domain.StatusCommitted))
	s.logger.Info("Assignment committed",
		zap.String("decision_id", result.Decision.ID.String()),
		zap.String("patient_id", result.Decision.PatientID.String()),
		zap.String("source", string(result.Decision.Source)),
	)

	if result.Superseded != nil {
		payload := domain.NewDecisionEvent(result.Superseded)
		s.publish(ctx, events.TypeAssignmentSuperseded, payload)
	}
	payload := domain.NewDecisionEvent(result.Decision)
	if result.Superseded != nil {
		payload.SupersededID = result.Superseded.ID.Ptr()
	}
	s.publish(ctx, events.TypeAssignmentCommitted, payload)

	return &result, nil
}

func commitInTx(ctx context.Context, tx domain.Tx, decisionID types.ID) (*Result, error) {
	decision, err := tx.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if decision.Status != domain.StatusProposed {
		return nil, errors.Conflict(fmt.Sprintf("decision is %s and cannot be committed", decision.Status))
	}

	active, err := tx.ActiveDecision(ctx, decision.PatientID)
	if err != nil {
		return nil, err
	}
	// A decision made for an older profile version, or submitted before the
	// active one, never replaces it.
	if active != nil && (active.ProfileVersion > decision.ProfileVersion || active.Sequence > decision.Sequence) {
		return nil, errors.Conflict("a newer assignment is already committed for this patient")
	}

	if err := revalidate(ctx, tx, decision, active); err != nil {
		return nil, err
	}

	if active != nil {
		if err := releaseSuperseded(ctx, tx, active, decision); err != nil {
			return nil, err
		}
	}

	for _, slot := range domain.Slots {
		id := decision.SlotID(slot)
		if id == nil {
			continue
		}
		if err := tx.UpdateAvailability(ctx, slot.Kind(), *id, domain.EngagedState(slot.Kind()), &decision.ID); err != nil {
			return nil, err
		}
	}

	if err := decision.MarkCommitted(); err != nil {
		return nil, errors.BadRequest(err.Error())
	}
	if err := tx.SaveDecision(ctx, decision); err != nil {
		return nil, err
	}

	status := domain.PatientStatusPendingBed
	if decision.HasBed() {
		status = domain.PatientStatusAdmitted
	}
	if err := tx.UpdatePatientStatus(ctx, decision.PatientID, status); err != nil {
		return nil, err
	}

	return &Result{Decision: decision, Superseded: active}, nil
}

// revalidate checks every slot against the store. A resource held by the
// decision being superseded counts as free.
func revalidate(ctx context.Context, tx domain.Tx, decision, active *domain.Decision) error {
	var conflicts []domain.SlotConflict
	for _, slot := range domain.Slots {
		id := decision.SlotID(slot)
		if id == nil {
			continue
		}
		r, err := tx.GetResource(ctx, slot.Kind(), *id)
		if errors.Is(err, errors.ErrNotFound) {
			conflicts = append(conflicts, domain.SlotConflict{Slot: slot, ResourceID: *id, Reason: "not found"})
			continue
		}
		if err != nil {
			return err
		}
		if r.Available() || heldBy(r, active) {
			continue
		}
		conflicts = append(conflicts, domain.SlotConflict{Slot: slot, ResourceID: *id, Reason: "is " + string(r.Availability)})
	}
	if len(conflicts) > 0 {
		return domain.ResourceConflict(conflicts...)
	}
	return nil
}

func heldBy(r *domain.Resource, d *domain.Decision) bool {
	return d != nil && r.CurrentAssignmentID != nil && *r.CurrentAssignmentID == d.ID
}

// releaseSuperseded frees the resources of active that next does not keep
// and marks active superseded.
func releaseSuperseded(ctx context.Context, tx domain.Tx, active, next *domain.Decision) error {
	for _, slot := range domain.Slots {
		id := active.SlotID(slot)
		if id == nil {
			continue
		}
		if kept := next.SlotID(slot); kept != nil && *kept == *id {
			continue
		}
		if err := tx.UpdateAvailability(ctx, slot.Kind(), *id, domain.AvailabilityAvailable, nil); err != nil {
			return err
		}
	}
	if err := active.MarkSuperseded(next.ID); err != nil {
		return errors.Conflict(err.Error())
	}
	return tx.SaveDecision(ctx, active)
}

// Release discharges the patient held by a committed decision. Staff go
// back to available and the bed moves to bedState, cleaning by default.
func (s *Service) Release(ctx context.Context, decisionID types.ID, bedState domain.Availability) (*domain.Decision, error) {
	if bedState == "" {
		bedState = domain.AvailabilityCleaning
	}
	if !bedState.ValidFor(domain.KindBed) || bedState.Engaged() {
		return nil, errors.BadRequest(fmt.Sprintf("invalid bed state after discharge: %s", bedState))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var released *domain.Decision
	err = s.store.Atomically(ctx, func(tx domain.Tx) error {
		d, err := tx.GetDecision(ctx, decisionID)
		if err != nil {
			return err
		}
		if d.Status != domain.StatusCommitted {
			return errors.Conflict(fmt.Sprintf("decision is %s and holds no resources", d.Status))
		}

		for _, slot := range domain.Slots {
			id := d.SlotID(slot)
			if id == nil {
				continue
			}
			next := domain.AvailabilityAvailable
			if slot == domain.SlotBed {
				next = bedState
			}
			if err := tx.UpdateAvailability(ctx, slot.Kind(), *id, next, nil); err != nil {
				return err
			}
		}

		if err := d.MarkDischarged(); err != nil {
			return errors.Conflict(err.Error())
		}
		if err := tx.SaveDecision(ctx, d); err != nil {
			return err
		}
		if err := tx.UpdatePatientStatus(ctx, d.PatientID, domain.PatientStatusDischarged); err != nil {
			return err
		}
		released = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordDecision(string(domain.StatusDischarged))
	s.logger.Info("Assignment released",
		zap.String("decision_id", released.ID.String()),
		zap.String("patient_id", released.PatientID.String()),
	)
	s.publish(ctx, events.TypeAssignmentReleased, domain.NewDecisionEvent(released))
	return released, nil
}

// SetAvailability changes a resource that is not held by any assignment,
// for example a nurse going off duty.
func (s *Service) SetAvailability(ctx context.Context, kind domain.Kind, id string, status domain.Availability) (*domain.Resource, error) {
	return s.transition(ctx, kind, id, nil, status)
}

// CompleteCleaning returns a cleaned bed to the pool
func (s *Service) CompleteCleaning(ctx context.Context, bedID string) (*domain.Resource, error) {
	return s.transition(ctx, domain.KindBed, bedID, []domain.Availability{domain.AvailabilityCleaning}, domain.AvailabilityAvailable)
}

// ApplyRoster inserts or refreshes roster resources in one transaction
// under the single-writer lock. An engaged resource keeps its availability
// and back-reference; the store enforces that.
func (s *Service) ApplyRoster(ctx context.Context, resources []domain.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	release, err := s.locker.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	err = s.store.Atomically(ctx, func(tx domain.Tx) error {
		for _, r := range resources {
			if err := tx.UpsertResource(ctx, r); err != nil {
				return fmt.Errorf("failed to apply %s %s: %w", r.Kind, r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Roster applied", zap.Int("resources", len(resources)))
	return nil
}

func (s *Service) transition(ctx context.Context, kind domain.Kind, id string, from []domain.Availability, to domain.Availability) (*domain.Resource, error) {
	if !to.ValidFor(kind) {
		return nil, errors.Validation("invalid availability", map[string]string{
			"availability": fmt.Sprintf("%q is not valid for %s", to, kind),
		})
	}
	if to.Engaged() {
		return nil, errors.BadRequest("resources become " + string(to) + " only through a committed assignment")
	}

	release, err := s.locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var before, after domain.Resource
	err = s.store.Atomically(ctx, func(tx domain.Tx) error {
		r, err := tx.GetResource(ctx, kind, id)
		if err != nil {
			return err
		}
		if r.Availability.Engaged() {
			return errors.Conflict(fmt.Sprintf("%s %s is held by an assignment", kind, id))
		}
		if len(from) > 0 && !contains(from, r.Availability) {
			return errors.Conflict(fmt.Sprintf("%s %s is %s", kind, id, r.Availability))
		}
		if err := tx.UpdateAvailability(ctx, kind, id, to, nil); err != nil {
			return err
		}
		before = *r
		after = *r
		after.Availability = to
		return nil
	})
	if err != nil {
		return nil, err
	}

	if before.Availability != to {
		s.publish(ctx, events.TypeAvailabilityChanged, domain.AvailabilityEvent{
			Kind:       kind,
			ResourceID: id,
			From:       before.Availability,
			To:         to,
		})
	}
	return &after, nil
}

func contains(list []domain.Availability, a domain.Availability) bool {
	for _, v := range list {
		if v == a {
			return true
		}
	}
	return false
}

// publish sends an event after the transaction. Failures are logged; the
// store remains the source of truth.
func (s *Service) publish(ctx context.Context, eventType string, payload any) {
	if s.bus == nil {
		return
	}
	event := events.NewEvent(eventType, eventSource, payload)
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
}
