// Package reconcile validates a raw recommendation against the live pool
// and repairs slots whose resources are gone.
package reconcile

import (
	"fmt"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/fallback"
)

const (
	bedExhaustedNote = "No bed available for critical-severity patient; bed pool exhausted"
	reviewNote       = "Human review required: external recommender unavailable for critical patient"
)

// Policy holds the reconciliation switches that are configurable
type Policy struct {
	// CriticalReviewOnFallback flags critical patients whose decision came
	// from the fallback heuristic for human review
	CriticalReviewOnFallback bool
}

// DefaultPolicy returns the policy used when nothing is configured
func DefaultPolicy() Policy {
	return Policy{CriticalReviewOnFallback: true}
}

// Substitution records one slot the engine changed
type Substitution struct {
	Slot      domain.Slot
	Requested *string
	Chosen    *string
	Match     fallback.MatchKind
	Note      string
}

// Outcome is the reconciled decision with the slot changes that produced it
type Outcome struct {
	Decision      *domain.Decision
	Substitutions []Substitution
}

// Engine reconciles raw decisions. It holds no state besides its policy
// and never mutates its inputs.
type Engine struct {
	policy Policy
}

// NewEngine creates an engine
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Reconcile returns the final proposed or rejected decision for raw
func (e *Engine) Reconcile(raw *domain.Decision, profile domain.PatientProfile, pool domain.Pool) *domain.Decision {
	return e.ReconcileDetailed(raw, profile, pool).Decision
}

// ReconcileDetailed is Reconcile plus the list of substituted slots
func (e *Engine) ReconcileDetailed(raw *domain.Decision, profile domain.PatientProfile, pool domain.Pool) Outcome {
	out := raw.Clone()
	out.Status = domain.StatusProposed
	out.RejectionReason = ""
	out.ReviewRequired = false
	if out.Reasoning == "" {
		out.Reasoning = fallback.Reasoning
	}

	critical := profile.Severity == domain.SeverityCritical
	var subs []Substitution

	for _, slot := range domain.Slots {
		requested := raw.SlotID(slot)

		if requested == nil {
			if slot == domain.SlotBed && critical {
				if bed, _ := fallback.Pick(domain.KindBed, pool, ""); bed != nil {
					sub := Substitution{
						Slot:   slot,
						Chosen: domain.StringPtr(bed.ID),
						Match:  fallback.MatchAny,
						Note:   fmt.Sprintf("No bed recommended for critical-severity patient; assigned %s by availability", bed.ID),
					}
					out.SetSlot(slot, sub.Chosen)
					subs = append(subs, sub)
				}
			}
			continue
		}

		current, found := pool.Find(slot.Kind(), *requested)
		if found && current.Available() {
			continue
		}

		why := "was not found in the current pool"
		if found {
			why = "was no longer available"
		}

		sub := Substitution{Slot: slot, Requested: domain.StringPtr(*requested)}
		picked, match := fallback.Pick(slot.Kind(), pool, specialtyFor(slot, profile))
		sub.Match = match
		switch match {
		case fallback.MatchSpecialty:
			sub.Chosen = domain.StringPtr(picked.ID)
			sub.Note = fmt.Sprintf("Recommended %s %s %s; substituted %s by specialty match", slot, *requested, why, picked.ID)
		case fallback.MatchAny:
			sub.Chosen = domain.StringPtr(picked.ID)
			sub.Note = fmt.Sprintf("Recommended %s %s %s; substituted %s by availability", slot, *requested, why, picked.ID)
		default:
			sub.Note = fmt.Sprintf("Recommended %s %s %s; no substitute available; slot left empty", slot, *requested, why)
		}
		out.SetSlot(slot, sub.Chosen)
		subs = append(subs, sub)
	}

	for _, s := range subs {
		out.AppendReasoning(s.Note)
	}

	if critical && !out.HasBed() {
		// MarkRejected cannot fail here: out is proposed.
		_ = out.MarkRejected(domain.RejectionBedExhausted, bedExhaustedNote)
		return Outcome{Decision: out, Substitutions: subs}
	}

	if e.policy.CriticalReviewOnFallback && critical && out.Source == domain.SourceFallbackHeuristic {
		out.ReviewRequired = true
		out.AppendReasoning(reviewNote)
	}

	return Outcome{Decision: out, Substitutions: subs}
}

// specialtyFor returns the specialty a slot should match on
func specialtyFor(slot domain.Slot, profile domain.PatientProfile) string {
	if slot == domain.SlotBed {
		return ""
	}
	return profile.RequiredSpecialty
}
