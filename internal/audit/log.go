package audit

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/shared/auth"
	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/metrics"
	"github.com/carefront/platform/internal/shared/types"
)

// Log records assignment decisions on the hash chain
type Log struct {
	repo   AuditRepository
	logger *zap.Logger
}

// NewLog creates a decision audit log over repo
func NewLog(repo AuditRepository, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{repo: repo, logger: logger}
}

// Repository returns the underlying store
func (l *Log) Repository() AuditRepository {
	return l.repo
}

// ActorFromContext returns the authenticated user as a staff actor, or the
// system actor when the request carries no user.
func ActorFromContext(ctx context.Context) Actor {
	if user := auth.GetUser(ctx); user != nil {
		return Actor{Type: ActorTypeStaff, ID: user.ID}
	}
	return SystemActor
}

// ActionFor maps a decision status to its audit action
func ActionFor(status domain.Status) string {
	switch status {
	case domain.StatusCommitted:
		return ActionCommitted
	case domain.StatusRejected:
		return ActionRejected
	case domain.StatusSuperseded:
		return ActionSuperseded
	case domain.StatusDischarged:
		return ActionDischarged
	default:
		return ActionProposed
	}
}

// Record appends an entry for decision. raw is what the recommender, the
// fallback or the override asked for before reconciliation; nil means the
// decision was stored as asked.
func (l *Log) Record(ctx context.Context, decision, raw *domain.Decision, actor Actor) (*AuditEntry, error) {
	if decision == nil {
		return nil, errors.BadRequest("decision is required")
	}
	if raw == nil {
		raw = decision
	}

	patientID := decision.PatientID
	decisionID := decision.ID

	entry := NewAuditEntry(actor, ActionFor(decision.Status), ResourceTypeDecision,
		&decisionID, &patientID, decisionChanges(decision, raw), "")
	if reqID := chimw.GetReqID(ctx); reqID != "" {
		entry.WithCorrelation(reqID)
	}

	if err := l.repo.Append(ctx, entry); err != nil {
		l.logger.Error("failed to append audit entry",
			zap.String("decision_id", decisionID.String()),
			zap.String("action", entry.Action),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.RecordAuditEntry()
	return entry, nil
}

func decisionChanges(decision, raw *domain.Decision) map[string]any {
	rawSlots := map[string]any{}
	finalSlots := map[string]any{}
	var substitutions []string

	for _, slot := range domain.Slots {
		r, f := raw.SlotID(slot), decision.SlotID(slot)
		rawSlots[string(slot)] = slotValue(r)
		finalSlots[string(slot)] = slotValue(f)
		if !sameSlot(r, f) {
			substitutions = append(substitutions, string(slot))
		}
	}

	changes := map[string]any{
		"patient_id":      decision.PatientID.String(),
		"source":          string(decision.Source),
		"status":          string(decision.Status),
		"sequence":        decision.Sequence,
		"raw":             rawSlots,
		"final":           finalSlots,
		"reasoning":       decision.Reasoning,
		"review_required": decision.ReviewRequired,
	}
	if len(substitutions) > 0 {
		changes["substitutions"] = substitutions
	}
	if decision.RejectionReason != "" {
		changes["rejection_reason"] = decision.RejectionReason
	}
	if decision.SupersedesID != nil {
		changes["supersedes_id"] = decision.SupersedesID.String()
	}
	if decision.SupersededByID != nil {
		changes["superseded_by_id"] = decision.SupersededByID.String()
	}
	return changes
}

func slotValue(id *string) any {
	if id == nil {
		return nil
	}
	return *id
}

func sameSlot(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ForPatient returns every entry about a patient, oldest first
func (l *Log) ForPatient(ctx context.Context, patientID types.ID, limit int) ([]*AuditEntry, error) {
	entries, _, err := l.repo.List(ctx, ListEntriesFilter{
		PatientID: &patientID,
		Limit:     limit,
		Ascending: true,
	})
	return entries, err
}

// ForDecision returns every entry keyed by a decision id, oldest first
func (l *Log) ForDecision(ctx context.Context, decisionID types.ID) ([]*AuditEntry, error) {
	return l.repo.GetByResource(ctx, ResourceTypeDecision, decisionID, 0)
}
