package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/shared/types"
)

func staff(kind domain.Kind, id, spec string, a domain.Availability) domain.Resource {
	return domain.Resource{ID: id, Kind: kind, Specialization: spec, Availability: a}
}

func TestPick(t *testing.T) {
	pool := domain.Pool{
		Doctors: []domain.Resource{
			staff(domain.KindDoctor, "D001", "Neurology", domain.AvailabilityAvailable),
			staff(domain.KindDoctor, "D002", "Cardiology", domain.AvailabilityBusy),
			staff(domain.KindDoctor, "D003", "Interventional Cardiology", domain.AvailabilityAvailable),
			staff(domain.KindDoctor, "D004", "cardiology", domain.AvailabilityAvailable),
		},
		Beds: []domain.Resource{
			{ID: "B001", Kind: domain.KindBed, Availability: domain.AvailabilityOccupied},
			{ID: "B002", Kind: domain.KindBed, Specialization: "cardiology", Availability: domain.AvailabilityAvailable},
		},
	}

	tests := []struct {
		name      string
		kind      domain.Kind
		specialty string
		wantID    string
		wantMatch MatchKind
	}{
		{"first specialty match wins", domain.KindDoctor, "CARDIO", "D003", MatchSpecialty},
		{"no specialty falls back to first available", domain.KindDoctor, "Oncology", "D001", MatchAny},
		{"empty specialty", domain.KindDoctor, "", "D001", MatchAny},
		{"bed ignores specialty", domain.KindBed, "cardiology", "B002", MatchAny},
		{"empty kind", domain.KindNurse, "ICU", "", MatchNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, match := Pick(tt.kind, pool, tt.specialty)
			assert.Equal(t, tt.wantMatch, match)
			if tt.wantID == "" {
				assert.Nil(t, r)
				return
			}
			require.NotNil(t, r)
			assert.Equal(t, tt.wantID, r.ID)
		})
	}
}

func TestPick_SkipsUnavailableSpecialtyMatch(t *testing.T) {
	pool := domain.Pool{Nurses: []domain.Resource{
		staff(domain.KindNurse, "N001", "ICU", domain.AvailabilityBusy),
		staff(domain.KindNurse, "N002", "ICU", domain.AvailabilityAvailable),
	}}
	r, match := Pick(domain.KindNurse, pool, "icu")
	require.NotNil(t, r)
	assert.Equal(t, "N002", r.ID)
	assert.Equal(t, MatchSpecialty, match)
}

func TestPropose(t *testing.T) {
	pool := domain.Pool{
		Nurses:  []domain.Resource{staff(domain.KindNurse, "N001", "ER", domain.AvailabilityAvailable)},
		Doctors: []domain.Resource{},
		Beds:    []domain.Resource{{ID: "B003", Kind: domain.KindBed, Availability: domain.AvailabilityAvailable}},
	}
	patientID := types.NewID()

	d := Propose(patientID, domain.PatientProfile{RequiredSpecialty: "Emergency"}, pool)
	assert.Equal(t, domain.SourceFallbackHeuristic, d.Source)
	assert.Equal(t, domain.StatusProposed, d.Status)
	assert.Equal(t, Reasoning, d.Reasoning)
	assert.Equal(t, patientID, d.PatientID)
	require.NotNil(t, d.NurseID)
	assert.Equal(t, "N001", *d.NurseID)
	assert.Nil(t, d.DoctorID)
	require.NotNil(t, d.BedID)
	assert.Equal(t, "B003", *d.BedID)
}
