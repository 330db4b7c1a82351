// Package fallback is the deterministic local substitute for the external
// recommender.
package fallback

import (
	"strings"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/shared/types"
)

// Reasoning is attached to decisions built entirely by the heuristic
const Reasoning = "Assigned using fallback logic based on availability and specialization matching"

// MatchKind describes how a resource was picked
type MatchKind string

const (
	MatchSpecialty MatchKind = "specialty"
	MatchAny       MatchKind = "any"
	MatchNone      MatchKind = "none"
)

// Pick returns the first available resource of kind whose specialization
// contains specialty, ignoring case, or else the first available one.
// Beds ignore specialty. Ties go to snapshot order.
func Pick(kind domain.Kind, pool domain.Pool, specialty string) (*domain.Resource, MatchKind) {
	candidates := make([]domain.Resource, 0)
	for _, r := range pool.Slice(kind) {
		if r.Available() {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, MatchNone
	}

	want := strings.ToLower(strings.TrimSpace(specialty))
	if kind != domain.KindBed && want != "" {
		for i := range candidates {
			if strings.Contains(strings.ToLower(candidates[i].Specialization), want) {
				r := candidates[i]
				return &r, MatchSpecialty
			}
		}
	}

	r := candidates[0]
	return &r, MatchAny
}

// Propose builds a full decision from the pool using only the heuristic
func Propose(patientID types.ID, profile domain.PatientProfile, pool domain.Pool) *domain.Decision {
	d := domain.NewDecision(patientID, domain.SourceFallbackHeuristic, Reasoning)
	for _, slot := range domain.Slots {
		if r, _ := Pick(slot.Kind(), pool, profile.RequiredSpecialty); r != nil {
			d.SetSlot(slot, &r.ID)
		}
	}
	return d
}
