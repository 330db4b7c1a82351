package commit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/assignment/infrastructure"
	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/events"
	"github.com/carefront/platform/internal/shared/lock"
	"github.com/carefront/platform/internal/shared/types"
)

type fixture struct {
	store   *infrastructure.MemoryStore
	svc     *Service
	bus     *events.LocalBus
	mu      sync.Mutex
	emitted []events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := infrastructure.NewMemoryStore()
	require.NoError(t, infrastructure.Seed(context.Background(), store, []domain.Resource{
		{ID: "N001", Kind: domain.KindNurse},
		{ID: "N002", Kind: domain.KindNurse},
		{ID: "D001", Kind: domain.KindDoctor},
		{ID: "D002", Kind: domain.KindDoctor},
		{ID: "B001", Kind: domain.KindBed},
		{ID: "B002", Kind: domain.KindBed},
	}))

	f := &fixture{store: store, bus: events.NewLocalBus(nil)}
	require.NoError(t, f.bus.Subscribe(context.Background(), "*", "test", func(ctx context.Context, e events.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.emitted = append(f.emitted, e)
		return nil
	}))
	f.svc = NewService(store, lock.NewLocalLocker(), f.bus, zap.NewNop())
	return f
}

func (f *fixture) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.emitted))
	for _, e := range f.emitted {
		out = append(out, e.Type)
	}
	return out
}

func (f *fixture) patient(t *testing.T) types.ID {
	t.Helper()
	p, err := f.store.CreatePatient(context.Background(), domain.PatientProfile{Name: "P", Condition: "c", Severity: domain.SeverityHigh})
	require.NoError(t, err)
	return p.ID
}

func (f *fixture) propose(t *testing.T, patientID types.ID, nurse, doctor, bed string) *domain.Decision {
	t.Helper()
	ctx := context.Background()
	d := domain.NewDecision(patientID, domain.SourceExternalAI, "recommended")
	for slot, id := range map[domain.Slot]string{domain.SlotNurse: nurse, domain.SlotDoctor: doctor, domain.SlotBed: bed} {
		if id != "" {
			d.SetSlot(slot, domain.StringPtr(id))
		}
	}
	seq, err := f.store.NextSequence(ctx, patientID)
	require.NoError(t, err)
	d.Sequence = seq
	require.NoError(t, f.store.SaveDecision(ctx, d))
	return d
}

func (f *fixture) resource(t *testing.T, kind domain.Kind, id string) *domain.Resource {
	t.Helper()
	r, err := f.store.GetResource(context.Background(), kind, id)
	require.NoError(t, err)
	return r
}

func TestCommit_ReservesEverySlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.patient(t)
	d := f.propose(t, pid, "N001", "D001", "B001")

	res, err := f.svc.Commit(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCommitted, res.Decision.Status)
	assert.Nil(t, res.Superseded)

	for _, c := range []struct {
		kind domain.Kind
		id   string
		want domain.Availability
	}{
		{domain.KindNurse, "N001", domain.AvailabilityBusy},
		{domain.KindDoctor, "D001", domain.AvailabilityBusy},
		{domain.KindBed, "B001", domain.AvailabilityOccupied},
	} {
		r := f.resource(t, c.kind, c.id)
		assert.Equal(t, c.want, r.Availability)
		require.NotNil(t, r.CurrentAssignmentID)
		assert.Equal(t, d.ID, *r.CurrentAssignmentID)
		assert.NoError(t, r.CheckInvariant())
	}

	p, err := f.store.GetPatient(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, domain.PatientStatusAdmitted, p.Status)
	assert.Equal(t, []string{events.TypeAssignmentCommitted}, f.eventTypes())
}

func TestCommit_WithoutBedLeavesPatientPending(t *testing.T) {
	f := newFixture(t)
	pid := f.patient(t)
	d := f.propose(t, pid, "N001", "", "")

	_, err := f.svc.Commit(context.Background(), d.ID)
	require.NoError(t, err)

	p, err := f.store.GetPatient(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, domain.PatientStatusPendingBed, p.Status)
}

func TestCommit_ConflictIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.propose(t, f.patient(t), "N001", "", "B001")
	_, err := f.svc.Commit(ctx, first.ID)
	require.NoError(t, err)

	second := f.propose(t, f.patient(t), "N002", "D001", "B001")
	_, err = f.svc.Commit(ctx, second.ID)
	require.Error(t, err)
	assert.True(t, domain.IsResourceConflict(err))
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "B001", appErr.Details["bed"])
	assert.NotContains(t, appErr.Details, "nurse")

	assert.Equal(t, domain.AvailabilityAvailable, f.resource(t, domain.KindNurse, "N002").Availability)
	assert.Equal(t, domain.AvailabilityAvailable, f.resource(t, domain.KindDoctor, "D001").Availability)

	stored, err := f.store.GetDecision(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProposed, stored.Status)
}

func TestCommit_MissingResourceConflicts(t *testing.T) {
	f := newFixture(t)
	d := f.propose(t, f.patient(t), "N404", "", "")

	_, err := f.svc.Commit(context.Background(), d.ID)
	assert.True(t, domain.IsResourceConflict(err))
}

func TestCommit_SupersedesPriorAndReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.patient(t)

	first := f.propose(t, pid, "N001", "D001", "B001")
	_, err := f.svc.Commit(ctx, first.ID)
	require.NoError(t, err)

	// keeps B001, moves nurse and doctor
	second := f.propose(t, pid, "N002", "D002", "B001")
	res, err := f.svc.Commit(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Superseded)
	assert.Equal(t, first.ID, res.Superseded.ID)

	old, err := f.store.GetDecision(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuperseded, old.Status)
	require.NotNil(t, old.SupersededByID)
	assert.Equal(t, second.ID, *old.SupersededByID)

	n1 := f.resource(t, domain.KindNurse, "N001")
	assert.Equal(t, domain.AvailabilityAvailable, n1.Availability)
	assert.Nil(t, n1.CurrentAssignmentID)

	bed := f.resource(t, domain.KindBed, "B001")
	assert.Equal(t, domain.AvailabilityOccupied, bed.Availability)
	assert.Equal(t, second.ID, *bed.CurrentAssignmentID)

	active, err := f.store.ActiveDecision(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	assert.Equal(t, []string{
		events.TypeAssignmentCommitted,
		events.TypeAssignmentSuperseded,
		events.TypeAssignmentCommitted,
	}, f.eventTypes())
}

func TestCommit_StaleDecisionLoses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.patient(t)

	older := f.propose(t, pid, "N001", "", "")
	newer := f.propose(t, pid, "N002", "", "")

	_, err := f.svc.Commit(ctx, newer.ID)
	require.NoError(t, err)

	_, err = f.svc.Commit(ctx, older.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.False(t, domain.IsResourceConflict(err))
	assert.Equal(t, domain.AvailabilityAvailable, f.resource(t, domain.KindNurse, "N001").Availability)
}

func TestCommit_OnlyProposed(t *testing.T) {
	f := newFixture(t)
	d := f.propose(t, f.patient(t), "N001", "", "")
	_, err := f.svc.Commit(context.Background(), d.ID)
	require.NoError(t, err)

	_, err = f.svc.Commit(context.Background(), d.ID)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestCommit_CancelledAppliesNothing(t *testing.T) {
	f := newFixture(t)
	d := f.propose(t, f.patient(t), "N001", "D001", "B001")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Commit(ctx, d.ID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.AvailabilityAvailable, f.resource(t, domain.KindBed, "B001").Availability)
	assert.Empty(t, f.eventTypes())
}

func TestCommit_ConcurrentCommitsNeverDoubleBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	ids := make([]types.ID, n)
	for i := range ids {
		ids[i] = f.propose(t, f.patient(t), "", "", "B002").ID
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, id := range ids {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			if _, err := f.svc.Commit(ctx, id); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.patient(t)
	d := f.propose(t, pid, "N001", "D001", "B001")
	_, err := f.svc.Commit(ctx, d.ID)
	require.NoError(t, err)

	released, err := f.svc.Release(ctx, d.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDischarged, released.Status)

	assert.Equal(t, domain.AvailabilityAvailable, f.resource(t, domain.KindNurse, "N001").Availability)
	bed := f.resource(t, domain.KindBed, "B001")
	assert.Equal(t, domain.AvailabilityCleaning, bed.Availability)
	assert.Nil(t, bed.CurrentAssignmentID)

	p, err := f.store.GetPatient(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, domain.PatientStatusDischarged, p.Status)

	_, err = f.svc.Release(ctx, d.ID, "")
	assert.True(t, errors.Is(err, errors.ErrConflict))

	_, err = f.svc.Release(ctx, d.ID, domain.AvailabilityOccupied)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

func TestCompleteCleaningAndSetAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CompleteCleaning(ctx, "B002")
	assert.True(t, errors.Is(err, errors.ErrConflict), "bed is not being cleaned")

	_, err = f.svc.SetAvailability(ctx, domain.KindBed, "B002", domain.AvailabilityCleaning)
	require.NoError(t, err)
	r, err := f.svc.CompleteCleaning(ctx, "B002")
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityAvailable, r.Availability)

	_, err = f.svc.SetAvailability(ctx, domain.KindNurse, "N001", domain.AvailabilityBusy)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))

	_, err = f.svc.SetAvailability(ctx, domain.KindNurse, "N001", domain.AvailabilityCleaning)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	d := f.propose(t, f.patient(t), "N001", "", "")
	_, err = f.svc.Commit(ctx, d.ID)
	require.NoError(t, err)
	_, err = f.svc.SetAvailability(ctx, domain.KindNurse, "N001", domain.AvailabilityUnavailable)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	assert.Contains(t, f.eventTypes(), events.TypeAvailabilityChanged)
}

func TestCommit_OlderProfileVersionLoses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.patient(t)

	// The older profile's decision is saved with the higher sequence, as
	// happens when its recommendation came back last.
	newer := f.propose(t, pid, "N002", "", "")
	older := f.propose(t, pid, "N001", "", "")
	for _, c := range []struct {
		d       *domain.Decision
		version int
	}{{newer, 3}, {older, 2}} {
		c.d.ProfileVersion = c.version
		require.NoError(t, f.store.SaveDecision(ctx, c.d))
	}

	_, err := f.svc.Commit(ctx, newer.ID)
	require.NoError(t, err)

	_, err = f.svc.Commit(ctx, older.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	active, err := f.store.ActiveDecision(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, active.ID)
	assert.Equal(t, domain.AvailabilityAvailable, f.resource(t, domain.KindNurse, "N001").Availability)
}

func TestApplyRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.propose(t, f.patient(t), "N001", "", "")
	_, err := f.svc.Commit(ctx, d.ID)
	require.NoError(t, err)

	err = f.svc.ApplyRoster(ctx, []domain.Resource{
		{ID: "N001", Kind: domain.KindNurse, Name: "Renamed", Availability: domain.AvailabilityUnavailable},
		{ID: "N003", Kind: domain.KindNurse, Name: "New hire", Availability: domain.AvailabilityAvailable},
	})
	require.NoError(t, err)

	held := f.resource(t, domain.KindNurse, "N001")
	assert.Equal(t, "Renamed", held.Name)
	assert.Equal(t, domain.AvailabilityBusy, held.Availability, "engaged resources keep their state")
	require.NotNil(t, held.CurrentAssignmentID)
	assert.Equal(t, d.ID, *held.CurrentAssignmentID)

	assert.Equal(t, domain.AvailabilityAvailable, f.resource(t, domain.KindNurse, "N003").Availability)
}

func TestApplyRoster_WaitsForLock(t *testing.T) {
	f := newFixture(t)
	locker := lock.NewLocalLocker()
	f.svc = NewService(f.store, locker, nil, zap.NewNop())

	release, err := locker.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = f.svc.ApplyRoster(ctx, []domain.Resource{{ID: "N009", Kind: domain.KindNurse, Availability: domain.AvailabilityAvailable}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))

	_, err = f.store.GetResource(context.Background(), domain.KindNurse, "N009")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
