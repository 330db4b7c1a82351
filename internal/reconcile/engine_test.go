package reconcile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/fallback"
	"github.com/carefront/platform/internal/shared/types"
)

func res(kind domain.Kind, id, spec string, a domain.Availability) domain.Resource {
	return domain.Resource{ID: id, Kind: kind, Specialization: spec, Availability: a}
}

func hospitalPool() domain.Pool {
	return domain.Pool{
		Nurses: []domain.Resource{
			res(domain.KindNurse, "N004", "Cardiac", domain.AvailabilityBusy),
			res(domain.KindNurse, "N007", "General", domain.AvailabilityAvailable),
			res(domain.KindNurse, "N011", "Cardiac ICU", domain.AvailabilityAvailable),
		},
		Doctors: []domain.Resource{
			res(domain.KindDoctor, "D001", "Cardiology", domain.AvailabilityAvailable),
			res(domain.KindDoctor, "D002", "Neurology", domain.AvailabilityAvailable),
		},
		Beds: []domain.Resource{
			res(domain.KindBed, "B001", "", domain.AvailabilityOccupied),
			res(domain.KindBed, "B002", "", domain.AvailabilityAvailable),
		},
	}
}

func rawDecision(source domain.Source, reasoning string, nurse, doctor, bed *string) *domain.Decision {
	d := domain.NewDecision(types.NewID(), source, reasoning)
	d.SetSlot(domain.SlotNurse, nurse)
	d.SetSlot(domain.SlotDoctor, doctor)
	d.SetSlot(domain.SlotBed, bed)
	return d
}

var s = domain.StringPtr

func cardiacProfile(sev domain.Severity) domain.PatientProfile {
	return domain.PatientProfile{Name: "Ana", Condition: "MI", RequiredSpecialty: "cardiac", Severity: sev}
}

func TestReconcile_AcceptsAvailableSlots(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	raw := rawDecision(domain.SourceExternalAI, "good fit", s("N011"), s("D001"), s("B002"))

	out := e.ReconcileDetailed(raw, cardiacProfile(domain.SeverityHigh), hospitalPool())

	assert.Empty(t, out.Substitutions)
	assert.Equal(t, domain.StatusProposed, out.Decision.Status)
	assert.Equal(t, "good fit", out.Decision.Reasoning)
	assert.True(t, raw.SameSlots(out.Decision))
	assert.Equal(t, raw.ID, out.Decision.ID)
}

func TestReconcile_SubstitutesBusyBySpecialty(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	raw := rawDecision(domain.SourceExternalAI, "AI pick", s("N004"), s("D001"), s("B002"))

	out := e.ReconcileDetailed(raw, cardiacProfile(domain.SeverityMedium), hospitalPool())

	require.Len(t, out.Substitutions, 1)
	assert.Equal(t, domain.SlotNurse, out.Substitutions[0].Slot)
	assert.Equal(t, "N011", *out.Decision.NurseID)
	assert.Equal(t,
		"AI pick | Recommended nurse N004 was no longer available; substituted N011 by specialty match",
		out.Decision.Reasoning)
	assert.Equal(t, "N004", *raw.NurseID, "raw must not be mutated")
}

func TestReconcile_SubstitutesMissingByAvailability(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	raw := rawDecision(domain.SourceExternalAI, "AI pick", s("N999"), nil, s("B002"))
	profile := domain.PatientProfile{Name: "Bo", Condition: "flu", RequiredSpecialty: "Oncology", Severity: domain.SeverityLow}

	d := e.Reconcile(raw, profile, hospitalPool())

	assert.Equal(t, "N007", *d.NurseID)
	assert.Nil(t, d.DoctorID, "null slot stays null")
	assert.Contains(t, d.Reasoning, "Recommended nurse N999 was not found in the current pool; substituted N007 by availability")
}

func TestReconcile_NoSubstituteLeavesSlotEmpty(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	pool := hospitalPool()
	pool.Doctors = nil
	raw := rawDecision(domain.SourceExternalAI, "AI pick", nil, s("D001"), s("B002"))

	d := e.Reconcile(raw, cardiacProfile(domain.SeverityHigh), pool)

	assert.Equal(t, domain.StatusProposed, d.Status)
	assert.Nil(t, d.DoctorID)
	assert.Contains(t, d.Reasoning, "Recommended doctor D001 was not found in the current pool; no substitute available; slot left empty")
}

func TestReconcile_CriticalWithoutBedIsRejected(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	pool := hospitalPool()
	pool.Beds = []domain.Resource{res(domain.KindBed, "B001", "", domain.AvailabilityOccupied)}

	raw := rawDecision(domain.SourceExternalAI, "AI pick", s("N011"), s("D001"), s("B001"))
	d := e.Reconcile(raw, cardiacProfile(domain.SeverityCritical), pool)

	assert.Equal(t, domain.StatusRejected, d.Status)
	assert.Equal(t, domain.RejectionBedExhausted, d.RejectionReason)
	assert.True(t, strings.HasSuffix(d.Reasoning, bedExhaustedNote))

	nullBed := rawDecision(domain.SourceExternalAI, "AI pick", s("N011"), s("D001"), nil)
	d = e.Reconcile(nullBed, cardiacProfile(domain.SeverityCritical), pool)
	assert.Equal(t, domain.StatusRejected, d.Status)
}

func TestReconcile_NonCriticalWithoutBedDegrades(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	pool := hospitalPool()
	pool.Beds = nil

	raw := rawDecision(domain.SourceExternalAI, "AI pick", s("N011"), s("D001"), s("B002"))
	d := e.Reconcile(raw, cardiacProfile(domain.SeverityHigh), pool)

	assert.Equal(t, domain.StatusProposed, d.Status)
	assert.Nil(t, d.BedID)
}

func TestReconcile_CriticalNullBedGetsFallbackBed(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	raw := rawDecision(domain.SourceExternalAI, "AI pick", s("N011"), s("D001"), nil)

	d := e.Reconcile(raw, cardiacProfile(domain.SeverityCritical), hospitalPool())

	assert.Equal(t, domain.StatusProposed, d.Status)
	require.NotNil(t, d.BedID)
	assert.Equal(t, "B002", *d.BedID)
	assert.False(t, d.ReviewRequired, "external source does not need review")
}

func TestReconcile_EmptyReasoningIsSynthesized(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	raw := rawDecision(domain.SourceExternalAI, "", s("N011"), nil, nil)

	d := e.Reconcile(raw, cardiacProfile(domain.SeverityLow), hospitalPool())
	assert.Equal(t, fallback.Reasoning, d.Reasoning)
}

func TestReconcile_CriticalFallbackNeedsReview(t *testing.T) {
	pool := hospitalPool()
	raw := fallback.Propose(types.NewID(), cardiacProfile(domain.SeverityCritical), pool)

	d := NewEngine(DefaultPolicy()).Reconcile(raw, cardiacProfile(domain.SeverityCritical), pool)
	assert.True(t, d.ReviewRequired)
	assert.True(t, strings.HasSuffix(d.Reasoning, reviewNote))
	assert.Equal(t, domain.StatusProposed, d.Status)

	d = NewEngine(Policy{}).Reconcile(raw, cardiacProfile(domain.SeverityCritical), pool)
	assert.False(t, d.ReviewRequired)
}

func TestReconcile_Deterministic(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	pool := hospitalPool()
	raw := rawDecision(domain.SourceExternalAI, "AI pick", s("N004"), s("D404"), s("B001"))

	first := e.Reconcile(raw, cardiacProfile(domain.SeverityHigh), pool)
	second := e.Reconcile(raw, cardiacProfile(domain.SeverityHigh), pool)

	assert.True(t, first.SameSlots(second))
	assert.Equal(t, first.Reasoning, second.Reasoning)
}

func TestReconcile_NeverPicksUnavailable(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	pool := hospitalPool()
	raw := rawDecision(domain.SourceExternalAI, "AI pick", s("N004"), s("D002"), s("B001"))

	d := e.Reconcile(raw, cardiacProfile(domain.SeverityHigh), pool)
	for _, slot := range domain.Slots {
		id := d.SlotID(slot)
		if id == nil {
			continue
		}
		r, found := pool.Find(slot.Kind(), *id)
		require.True(t, found)
		assert.True(t, r.Available(), "%s %s", slot, *id)
	}
}
