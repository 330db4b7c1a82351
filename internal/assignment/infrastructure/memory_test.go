package infrastructure

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carefront/platform/internal/assignment/domain"
	apperrors "github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/types"
)

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	require.NoError(t, Seed(context.Background(), s, []domain.Resource{
		{ID: "N001", Kind: domain.KindNurse, Specialization: "ICU"},
		{ID: "N002", Kind: domain.KindNurse, Specialization: "General", Availability: domain.AvailabilityUnavailable},
		{ID: "D001", Kind: domain.KindDoctor, Specialization: "Cardiology"},
		{ID: "B001", Kind: domain.KindBed, BedType: domain.BedTypeICU},
		{ID: "B002", Kind: domain.KindBed, BedType: domain.BedTypeGeneral},
	}))
	return s
}

func TestMemoryStore_SnapshotOrderAndCopy(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	pool, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, pool.Nurses, 2)
	assert.Equal(t, "N001", pool.Nurses[0].ID)
	assert.Equal(t, "N002", pool.Nurses[1].ID)
	assert.Len(t, pool.Beds, 2)

	pool.Nurses[0].Availability = domain.AvailabilityBusy
	r, err := s.GetResource(ctx, domain.KindNurse, "N001")
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityAvailable, r.Availability)

	avail, err := s.ListAvailable(ctx, domain.KindNurse)
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, "N001", avail[0].ID)
}

func TestMemoryStore_GetResourceNotFound(t *testing.T) {
	s := seededStore(t)
	_, err := s.GetResource(context.Background(), domain.KindBed, "B999")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestMemoryStore_UpdateAvailabilityEnforcesBackref(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	err := s.UpdateAvailability(ctx, domain.KindBed, "B001", domain.AvailabilityOccupied, nil)
	assert.Error(t, err)

	id := types.NewID()
	require.NoError(t, s.UpdateAvailability(ctx, domain.KindBed, "B001", domain.AvailabilityOccupied, &id))
	r, err := s.GetResource(ctx, domain.KindBed, "B001")
	require.NoError(t, err)
	require.NotNil(t, r.CurrentAssignmentID)
	assert.Equal(t, id, *r.CurrentAssignmentID)
}

func TestMemoryStore_UpsertKeepsEngagedState(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()
	id := types.NewID()
	require.NoError(t, s.UpdateAvailability(ctx, domain.KindNurse, "N001", domain.AvailabilityBusy, &id))

	require.NoError(t, s.UpsertResource(ctx, domain.Resource{
		ID: "N001", Kind: domain.KindNurse, Name: "Renamed", Availability: domain.AvailabilityAvailable,
	}))

	r, err := s.GetResource(ctx, domain.KindNurse, "N001")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", r.Name)
	assert.Equal(t, domain.AvailabilityBusy, r.Availability)
	assert.Equal(t, id, *r.CurrentAssignmentID)
}

func TestMemoryStore_AtomicallyRollsBackOnError(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Atomically(ctx, func(tx domain.Tx) error {
		id := types.NewID()
		if err := tx.UpdateAvailability(ctx, domain.KindNurse, "N001", domain.AvailabilityBusy, &id); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	r, err := s.GetResource(ctx, domain.KindNurse, "N001")
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityAvailable, r.Availability)
	assert.Nil(t, r.CurrentAssignmentID)
}

func TestMemoryStore_AtomicallyCancelledAppliesNothing(t *testing.T) {
	s := seededStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := s.Atomically(ctx, func(tx domain.Tx) error {
		id := types.NewID()
		cancel()
		return tx.UpdateAvailability(ctx, domain.KindBed, "B002", domain.AvailabilityOccupied, &id)
	})
	assert.ErrorIs(t, err, context.Canceled)

	r, err := s.GetResource(context.Background(), domain.KindBed, "B002")
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityAvailable, r.Availability)
}

func TestMemoryStore_PatientsAndDecisions(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	p, err := s.CreatePatient(ctx, domain.PatientProfile{Name: "Ana", Condition: "fracture", Severity: domain.SeverityLow})
	require.NoError(t, err)
	assert.Equal(t, 1, p.ProfileVersion)
	assert.Equal(t, domain.PatientStatusPreRegistered, p.Status)

	p, err = s.AddProfileVersion(ctx, p.ID, domain.PatientProfile{Name: "Ana", Condition: "fracture", Severity: domain.SeverityHigh})
	require.NoError(t, err)
	assert.Equal(t, 2, p.ProfileVersion)
	assert.Equal(t, domain.SeverityHigh, p.Profile.Severity)

	seq1, err := s.NextSequence(ctx, p.ID)
	require.NoError(t, err)
	seq2, err := s.NextSequence(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, seq1+1, seq2)

	later := domain.NewDecision(p.ID, domain.SourceExternalAI, "later")
	later.Sequence = seq2
	earlier := domain.NewDecision(p.ID, domain.SourceExternalAI, "earlier")
	earlier.Sequence = seq1
	require.NoError(t, s.SaveDecision(ctx, later))
	require.NoError(t, s.SaveDecision(ctx, earlier))

	history, err := s.DecisionHistory(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, earlier.ID, history[0].ID)

	active, err := s.ActiveDecision(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, earlier.MarkCommitted())
	require.NoError(t, s.SaveDecision(ctx, earlier))
	require.NoError(t, later.MarkCommitted())
	err = s.SaveDecision(ctx, later)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict), "second committed decision for one patient")

	active, err = s.ActiveDecision(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, earlier.ID, active.ID)
}

func TestMemoryStore_RejectsSharedResource(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	a, err := s.CreatePatient(ctx, domain.PatientProfile{Name: "A", Condition: "c", Severity: domain.SeverityLow})
	require.NoError(t, err)
	b, err := s.CreatePatient(ctx, domain.PatientProfile{Name: "B", Condition: "c", Severity: domain.SeverityLow})
	require.NoError(t, err)

	da := domain.NewDecision(a.ID, domain.SourceExternalAI, "r")
	da.SetSlot(domain.SlotBed, domain.StringPtr("B001"))
	require.NoError(t, da.MarkCommitted())
	require.NoError(t, s.SaveDecision(ctx, da))

	db := domain.NewDecision(b.ID, domain.SourceExternalAI, "r")
	db.SetSlot(domain.SlotBed, domain.StringPtr("B001"))
	require.NoError(t, db.MarkCommitted())
	assert.Error(t, s.SaveDecision(ctx, db))
}

func TestGenerateRoster(t *testing.T) {
	roster := GenerateRoster(DefaultRosterConfig())
	require.Len(t, roster, 85)

	counts := map[domain.Kind]int{}
	for _, r := range roster {
		counts[r.Kind]++
		assert.NoError(t, r.CheckInvariant())
	}
	assert.Equal(t, 20, counts[domain.KindNurse])
	assert.Equal(t, 15, counts[domain.KindDoctor])
	assert.Equal(t, 50, counts[domain.KindBed])

	assert.Equal(t, "N001", roster[0].ID)
	assert.Equal(t, "ICU", roster[1].Specialization)
	assert.Equal(t, "D001", roster[20].ID)
	assert.Equal(t, "Cardiology", roster[20].Specialization)

	firstBed := roster[35]
	assert.Equal(t, "B001", firstBed.ID)
	assert.Equal(t, domain.BedTypeICU, firstBed.BedType)
	assert.Equal(t, 1, firstBed.Floor)
	assert.Equal(t, 2, roster[35+15].Floor)
	assert.Equal(t, domain.BedTypeGeneral, roster[36].BedType)
}

func TestLetterName(t *testing.T) {
	assert.Equal(t, "A", letterName(0))
	assert.Equal(t, "Z", letterName(25))
	assert.Equal(t, "AA", letterName(26))
}
