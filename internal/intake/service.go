// Package intake runs the admission workflow: submit a patient, reconcile a
// recommendation against the live pool, and confirm it into a commit.
package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/audit"
	"github.com/carefront/platform/internal/commit"
	"github.com/carefront/platform/internal/fallback"
	"github.com/carefront/platform/internal/recommender"
	"github.com/carefront/platform/internal/reconcile"
	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/metrics"
	"github.com/carefront/platform/internal/shared/types"
)

// PoolReader serves resource snapshots
type PoolReader interface {
	Snapshot(ctx context.Context) (domain.Pool, error)
}

// Committer applies decisions to the pool
type Committer interface {
	Commit(ctx context.Context, decisionID types.ID) (*commit.Result, error)
	Release(ctx context.Context, decisionID types.ID, bedState domain.Availability) (*domain.Decision, error)
	SetAvailability(ctx context.Context, kind domain.Kind, id string, status domain.Availability) (*domain.Resource, error)
	CompleteCleaning(ctx context.Context, bedID string) (*domain.Resource, error)
}

// SubmitRequest carries a patient profile. PatientID is set when the
// patient already exists and the profile is a new version.
type SubmitRequest struct {
	PatientID *types.ID             `json:"patientId,omitempty"`
	Profile   domain.PatientProfile `json:"profile"`
}

// Submission is the outcome of a submit: the patient and the proposed or
// rejected decision. Nothing is committed.
type Submission struct {
	Patient  *domain.Patient  `json:"patient"`
	Decision *domain.Decision `json:"decision"`
	// Fallback is set when the recommender could not be used
	Fallback bool `json:"fallback"`
}

// Overrides replace individual slots on confirm. A nil field keeps the
// proposed resource, an empty string clears the slot.
type Overrides struct {
	NurseID  *string `json:"nurse_id,omitempty"`
	DoctorID *string `json:"doctor_id,omitempty"`
	BedID    *string `json:"bed_id,omitempty"`
}

func (o *Overrides) slot(s domain.Slot) *string {
	switch s {
	case domain.SlotNurse:
		return o.NurseID
	case domain.SlotDoctor:
		return o.DoctorID
	case domain.SlotBed:
		return o.BedID
	}
	return nil
}

func (o *Overrides) empty() bool {
	return o == nil || (o.NurseID == nil && o.DoctorID == nil && o.BedID == nil)
}

// Confirmation is the outcome of a confirm. Decision is committed, or
// rejected when the bed pool ran out for a critical patient.
type Confirmation struct {
	Decision   *domain.Decision `json:"decision"`
	Superseded *domain.Decision `json:"superseded,omitempty"`
	Retried    bool             `json:"retried"`
}

// Service is the UI-facing admission workflow
type Service struct {
	store       domain.Store
	pool        PoolReader
	recommender recommender.Recommender
	engine      *reconcile.Engine
	committer   Committer
	audit       *audit.Log
	logger      *zap.Logger
}

// NewService creates the intake service
func NewService(
	store domain.Store,
	pool PoolReader,
	rec recommender.Recommender,
	engine *reconcile.Engine,
	committer Committer,
	auditLog *audit.Log,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = recommender.Disabled{}
	}
	if engine == nil {
		engine = reconcile.NewEngine(reconcile.DefaultPolicy())
	}
	return &Service{
		store:       store,
		pool:        pool,
		recommender: rec,
		engine:      engine,
		committer:   committer,
		audit:       auditLog,
		logger:      logger,
	}
}

// Submit validates the profile, records the patient, asks the recommender
// (or the fallback heuristic) for a decision and reconciles it against the
// live pool. The result is stored as proposed or rejected, never committed.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	profile := req.Profile.Normalized()
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	// The sequence is reserved with the profile write so that decisions
	// follow submission order, not the order recommendations come back in.
	var patient *domain.Patient
	var seq int64
	err := s.store.Atomically(ctx, func(tx domain.Tx) error {
		var err error
		if req.PatientID != nil && !req.PatientID.IsZero() {
			patient, err = tx.AddProfileVersion(ctx, *req.PatientID, profile)
		} else {
			patient, err = tx.CreatePatient(ctx, profile)
		}
		if err != nil {
			return err
		}
		seq, err = tx.NextSequence(ctx, patient.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	active, err := s.store.ActiveDecision(ctx, patient.ID)
	if err != nil {
		return nil, err
	}

	snap, err := s.pool.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	available := poolFor(snap, active).OnlyAvailable()

	result := s.recommender.Recommend(ctx, patient.ID, profile, available)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw := result.Decision
	if result.Failed() {
		s.logger.Warn("Recommender unavailable, using fallback heuristic",
			zap.String("patient_id", patient.ID.String()),
			zap.String("kind", result.Kind.String()),
			zap.String("reason", result.Reason),
			zap.Error(result.Err),
		)
		metrics.RecordRecommenderFailure(result.Reason)
		raw = fallback.Propose(patient.ID, profile, available)
	}
	raw.ProfileVersion = patient.ProfileVersion
	metrics.RecordRecommendation(string(raw.Source))

	// Reconcile against a fresh view; the recommender call may have taken
	// long enough for the pool to move.
	snap, err = s.pool.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	outcome := s.engine.ReconcileDetailed(raw, profile, poolFor(snap, active))
	recordSubstitutions(outcome)
	decision := outcome.Decision

	decision.Sequence = seq
	if err := s.store.SaveDecision(ctx, decision); err != nil {
		return nil, err
	}

	metrics.RecordDecision(string(decision.Status))
	if err := s.record(ctx, decision, raw); err != nil {
		return nil, err
	}

	s.logger.Info("Assignment proposed",
		zap.String("decision_id", decision.ID.String()),
		zap.String("patient_id", patient.ID.String()),
		zap.String("source", string(decision.Source)),
		zap.String("status", string(decision.Status)),
		zap.Int64("sequence", decision.Sequence),
	)

	return &Submission{Patient: patient, Decision: decision, Fallback: result.Failed()}, nil
}

// Confirm commits a proposed decision, optionally replacing slots first.
// A resource conflict is retried once against a fresh snapshot; a second
// conflict is returned to the caller.
func (s *Service) Confirm(ctx context.Context, decisionID types.ID, overrides *Overrides) (*Confirmation, error) {
	base, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if base.Status != domain.StatusProposed {
		return nil, errors.Conflict(fmt.Sprintf("decision is %s; only a proposed decision can be confirmed", base.Status))
	}

	patient, err := s.store.GetPatient(ctx, base.PatientID)
	if err != nil {
		return nil, err
	}
	// Reconcile against the profile the decision was made for, not the
	// patient's latest one.
	profile, err := s.store.GetProfile(ctx, base.PatientID, base.ProfileVersion)
	if err != nil {
		return nil, err
	}

	raw := base
	forceNew := false
	if !overrides.empty() {
		raw = applyOverrides(base, overrides, audit.ActorFromContext(ctx))
		forceNew = true
	}

	current := base
	for attempt := 0; ; attempt++ {
		candidate, err := s.prepare(ctx, patient.ID, *profile, current, raw, forceNew)
		if err != nil {
			return nil, err
		}
		if candidate.Status == domain.StatusRejected {
			return &Confirmation{Decision: candidate, Retried: attempt > 0}, nil
		}

		result, err := s.committer.Commit(ctx, candidate.ID)
		if err == nil {
			if result.Superseded != nil {
				if err := s.record(ctx, result.Superseded, nil); err != nil {
					return nil, err
				}
			}
			if err := s.record(ctx, result.Decision, raw); err != nil {
				return nil, err
			}
			return &Confirmation{
				Decision:   result.Decision,
				Superseded: result.Superseded,
				Retried:    attempt > 0,
			}, nil
		}

		if !domain.IsResourceConflict(err) || attempt > 0 {
			return nil, err
		}

		s.logger.Info("Retrying confirm after resource conflict",
			zap.String("decision_id", candidate.ID.String()),
			zap.String("patient_id", patient.ID.String()),
			zap.Error(err),
		)
		current, raw, forceNew = candidate, candidate, false
	}
}

// prepare reconciles raw against a fresh snapshot. When the result differs
// from current (or forceNew is set) it is stored as a new version that
// supersedes current; otherwise current itself is returned.
func (s *Service) prepare(ctx context.Context, patientID types.ID, profile domain.PatientProfile, current, raw *domain.Decision, forceNew bool) (*domain.Decision, error) {
	active, err := s.store.ActiveDecision(ctx, patientID)
	if err != nil {
		return nil, err
	}
	snap, err := s.pool.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	outcome := s.engine.ReconcileDetailed(raw, profile, poolFor(snap, active))
	recordSubstitutions(outcome)
	next := outcome.Decision

	if !forceNew && next.Status == domain.StatusProposed && next.SameSlots(current) {
		return current, nil
	}

	now := time.Now().UTC()
	next.ID = types.NewID()
	next.SupersedesID = current.ID.Ptr()
	next.SupersededByID = nil
	next.ProfileVersion = current.ProfileVersion
	next.CreatedAt = now
	next.UpdatedAt = now

	var replaced *domain.Decision
	err = s.store.Atomically(ctx, func(tx domain.Tx) error {
		prev, err := tx.GetDecision(ctx, current.ID)
		if err != nil {
			return err
		}
		if prev.Status != domain.StatusProposed {
			return errors.Conflict(fmt.Sprintf("decision is %s; only a proposed decision can be confirmed", prev.Status))
		}

		seq, err := tx.NextSequence(ctx, patientID)
		if err != nil {
			return err
		}
		next.Sequence = seq

		if err := prev.MarkSuperseded(next.ID); err != nil {
			return errors.Conflict(err.Error())
		}
		if err := tx.SaveDecision(ctx, next); err != nil {
			return err
		}
		if err := tx.SaveDecision(ctx, prev); err != nil {
			return err
		}
		replaced = prev
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordDecision(string(next.Status))
	if err := s.record(ctx, replaced, nil); err != nil {
		return nil, err
	}
	if err := s.record(ctx, next, raw); err != nil {
		return nil, err
	}
	return next, nil
}

// applyOverrides builds the manual override request on top of base
func applyOverrides(base *domain.Decision, o *Overrides, actor audit.Actor) *domain.Decision {
	raw := base.Clone()
	raw.Source = domain.SourceManualOverride
	raw.Status = domain.StatusProposed
	raw.ReviewRequired = false

	var changed []string
	for _, slot := range domain.Slots {
		id := o.slot(slot)
		if id == nil {
			continue
		}
		raw.SetSlot(slot, id)
		if *id == "" {
			changed = append(changed, fmt.Sprintf("%s cleared", slot))
		} else {
			changed = append(changed, fmt.Sprintf("%s %s", slot, *id))
		}
	}
	raw.AppendReasoning(fmt.Sprintf("Manual override by %s: %s", actor.ID, strings.Join(changed, ", ")))
	return raw
}

// poolFor presents the resources held by the patient's own active decision
// as available, so a new decision for the same patient may keep them.
func poolFor(snap domain.Pool, active *domain.Decision) domain.Pool {
	if active == nil {
		return snap
	}
	out := snap.Clone()
	for _, list := range [][]domain.Resource{out.Nurses, out.Doctors, out.Beds} {
		for i := range list {
			r := &list[i]
			if r.CurrentAssignmentID != nil && *r.CurrentAssignmentID == active.ID {
				r.Availability = domain.AvailabilityAvailable
				r.CurrentAssignmentID = nil
			}
		}
	}
	return out
}

func recordSubstitutions(o reconcile.Outcome) {
	for _, sub := range o.Substitutions {
		metrics.RecordSubstitution(string(sub.Slot))
	}
}

func (s *Service) record(ctx context.Context, decision, raw *domain.Decision) error {
	if s.audit == nil {
		return nil
	}
	if _, err := s.audit.Record(ctx, decision, raw, audit.ActorFromContext(ctx)); err != nil {
		return errors.Wrap(err, "failed to record audit entry")
	}
	return nil
}

// Active returns the patient's committed decision, or nil when none exists
func (s *Service) Active(ctx context.Context, patientID types.ID) (*domain.Decision, error) {
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.store.ActiveDecision(ctx, patientID)
}

// History returns every decision for the patient in submission order
func (s *Service) History(ctx context.Context, patientID types.ID) ([]domain.Decision, error) {
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.store.DecisionHistory(ctx, patientID)
}

// Discharge releases the patient's active assignment. The bed goes to cleaning.
func (s *Service) Discharge(ctx context.Context, patientID types.ID) (*domain.Decision, error) {
	active, err := s.Active(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, errors.Conflict("patient has no active assignment")
	}

	released, err := s.committer.Release(ctx, active.ID, domain.AvailabilityCleaning)
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, released, nil); err != nil {
		return nil, err
	}
	return released, nil
}

// CompleteCleaning returns a cleaned bed to the pool
func (s *Service) CompleteCleaning(ctx context.Context, bedID string) (*domain.Resource, error) {
	return s.committer.CompleteCleaning(ctx, bedID)
}

// SetAvailability changes a resource not held by any assignment
func (s *Service) SetAvailability(ctx context.Context, kind domain.Kind, id string, status domain.Availability) (*domain.Resource, error) {
	return s.committer.SetAvailability(ctx, kind, id, status)
}

// Roster lists every resource of a kind in roster order
func (s *Service) Roster(ctx context.Context, kind domain.Kind) ([]domain.Resource, error) {
	return s.store.ListResources(ctx, kind)
}

// Snapshot returns the whole pool
func (s *Service) Snapshot(ctx context.Context) (domain.Pool, error) {
	return s.pool.Snapshot(ctx)
}
