package intake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/assignment/infrastructure"
	"github.com/carefront/platform/internal/audit"
	"github.com/carefront/platform/internal/commit"
	"github.com/carefront/platform/internal/fallback"
	"github.com/carefront/platform/internal/pool"
	"github.com/carefront/platform/internal/recommender"
	"github.com/carefront/platform/internal/reconcile"
	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/lock"
	"github.com/carefront/platform/internal/shared/types"
)

type mockRecommender struct {
	RecommendFunc func(ctx context.Context, patientID types.ID, profile domain.PatientProfile, pool domain.Pool) recommender.Result
	calls         int
}

func (m *mockRecommender) Recommend(ctx context.Context, patientID types.ID, profile domain.PatientProfile, pool domain.Pool) recommender.Result {
	m.calls++
	if m.RecommendFunc == nil {
		return recommender.Result{Kind: recommender.Unavailable, Reason: "transport"}
	}
	return m.RecommendFunc(ctx, patientID, profile, pool)
}

// recommends returns a recommender answering with fixed slots; "" is null
func recommends(nurse, doctor, bed string) *mockRecommender {
	return &mockRecommender{
		RecommendFunc: func(ctx context.Context, patientID types.ID, profile domain.PatientProfile, pool domain.Pool) recommender.Result {
			d := domain.NewDecision(patientID, domain.SourceExternalAI, "Matched cardiology team")
			d.SetSlot(domain.SlotNurse, domain.StringPtr(nurse))
			d.SetSlot(domain.SlotDoctor, domain.StringPtr(doctor))
			d.SetSlot(domain.SlotBed, domain.StringPtr(bed))
			return recommender.Result{Kind: recommender.Ok, Decision: d}
		},
	}
}

// racingCommitter lets another admission take resources just before a commit
type racingCommitter struct {
	*commit.Service
	race  func(call int)
	calls int
}

func (r *racingCommitter) Commit(ctx context.Context, decisionID types.ID) (*commit.Result, error) {
	r.calls++
	if r.race != nil {
		r.race(r.calls)
	}
	return r.Service.Commit(ctx, decisionID)
}

type fixture struct {
	store     *infrastructure.MemoryStore
	rec       *mockRecommender
	commits   *commit.Service
	committer *racingCommitter
	log       *audit.Log
	svc       *Service
}

func newFixture(t *testing.T, rec *mockRecommender) *fixture {
	t.Helper()
	store := infrastructure.NewMemoryStore()
	require.NoError(t, infrastructure.Seed(context.Background(), store, []domain.Resource{
		{ID: "N001", Kind: domain.KindNurse, Name: "Nurse A", Specialization: "General"},
		{ID: "N002", Kind: domain.KindNurse, Name: "Nurse B", Specialization: "ICU"},
		{ID: "D001", Kind: domain.KindDoctor, Name: "Dr. Smith 1", Specialization: "Cardiology"},
		{ID: "D002", Kind: domain.KindDoctor, Name: "Dr. Smith 2", Specialization: "Emergency"},
		{ID: "B001", Kind: domain.KindBed, BedNumber: 1, Floor: 1, BedType: domain.BedTypeGeneral},
		{ID: "B002", Kind: domain.KindBed, BedNumber: 2, Floor: 1, BedType: domain.BedTypeGeneral},
	}))

	locker := lock.NewLocalLocker()
	commits := commit.NewService(store, locker, nil, zap.NewNop())
	f := &fixture{
		store:     store,
		rec:       rec,
		commits:   commits,
		committer: &racingCommitter{Service: commits},
		log:       audit.NewLog(audit.NewMemoryRepository(), zap.NewNop()),
	}
	f.svc = NewService(store, pool.NewProvider(store, locker), rec,
		reconcile.NewEngine(reconcile.DefaultPolicy()), f.committer, f.log, zap.NewNop())
	return f
}

func profile(severity domain.Severity) domain.PatientProfile {
	return domain.PatientProfile{
		Name:              "Ana Petrovic",
		Age:               64,
		Condition:         "Chest pain",
		RequiredSpecialty: "Cardiology",
		Severity:          severity,
	}
}

func (f *fixture) availability(t *testing.T, kind domain.Kind, id string) domain.Availability {
	t.Helper()
	r, err := f.store.GetResource(context.Background(), kind, id)
	require.NoError(t, err)
	return r.Availability
}

// takeForOtherPatient commits a decision for a different patient holding nurse
func (f *fixture) takeForOtherPatient(t *testing.T, nurse string) {
	t.Helper()
	ctx := context.Background()
	p, err := f.store.CreatePatient(ctx, profile(domain.SeverityLow))
	require.NoError(t, err)
	d := domain.NewDecision(p.ID, domain.SourceExternalAI, "other admission")
	d.NurseID = domain.StringPtr(nurse)
	d.Sequence = 1
	require.NoError(t, f.store.SaveDecision(ctx, d))
	_, err = f.commits.Commit(ctx, d.ID)
	require.NoError(t, err)
}

func TestSubmit_ProposesWithoutCommitting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, recommends("N001", "D001", "B001"))

	sub, err := f.svc.Submit(ctx, SubmitRequest{Profile: profile(domain.SeverityHigh)})
	require.NoError(t, err)

	d := sub.Decision
	assert.Equal(t, domain.StatusProposed, d.Status)
	assert.Equal(t, domain.SourceExternalAI, d.Source)
	assert.Equal(t, "Matched cardiology team", d.Reasoning)
	assert.Equal(t, int64(1), d.Sequence)
	assert.Equal(t, 1, d.ProfileVersion)
	assert.False(t, sub.Fallback)
	assert.Equal(t, domain.PatientStatusPreRegistered, sub.Patient.Status)

	assert.Equal(t, domain.AvailabilityAvailable, f.availability(t, domain.KindNurse, "N001"))
	assert.Equal(t, domain.AvailabilityAvailable, f.availability(t, domain.KindBed, "B001"))

	stored, err := f.store.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProposed, stored.Status)

	trail, err := f.log.ForPatient(ctx, sub.Patient.ID, 0)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.ActionProposed, trail[0].Action)
}

func TestSubmit_ValidationBeforeRecommender(t *testing.T) {
	f := newFixture(t, recommends("N001", "D001", "B001"))

	p := profile(domain.SeverityHigh)
	p.Name = "  "
	p.Severity = "urgent"

	_, err := f.svc.Submit(context.Background(), SubmitRequest{Profile: p})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	assert.Zero(t, f.rec.calls)
}

func TestSubmit_FallsBackWhenRecommenderFails(t *testing.T) {
	for _, kind := range []recommender.ResultKind{recommender.Unavailable, recommender.Malformed} {
		t.Run(kind.String(), func(t *testing.T) {
			f := newFixture(t, &mockRecommender{
				RecommendFunc: func(ctx context.Context, patientID types.ID, profile domain.PatientProfile, pool domain.Pool) recommender.Result {
					return recommender.Result{Kind: kind, Reason: "test"}
				},
			})

			sub, err := f.svc.Submit(context.Background(), SubmitRequest{Profile: profile(domain.SeverityMedium)})
			require.NoError(t, err)

			d := sub.Decision
			assert.True(t, sub.Fallback)
			assert.Equal(t, domain.SourceFallbackHeuristic, d.Source)
			assert.Equal(t, fallback.Reasoning, d.Reasoning)
			assert.Equal(t, "N001", *d.NurseID)
			assert.Equal(t, "D001", *d.DoctorID, "specialty match")
			assert.Equal(t, "B001", *d.BedID)
			assert.False(t, d.ReviewRequired)
		})
	}
}

func TestSubmit_CriticalFallbackNeedsReview(t *testing.T) {
	f := newFixture(t, &mockRecommender{})

	sub, err := f.svc.Submit(context.Background(), SubmitRequest{Profile: profile(domain.SeverityCritical)})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusProposed, sub.Decision.Status)
	assert.True(t, sub.Decision.ReviewRequired)
	assert.Contains(t, sub.Decision.Reasoning, "Human review required")
}

func TestSubmit_SubstitutesUnavailableResource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, recommends("N002", "D001", "B001"))
	_, err := f.commits.SetAvailability(ctx, domain.KindNurse, "N002", domain.AvailabilityUnavailable)
	require.NoError(t, err)

	sub, err := f.svc.Submit(ctx, SubmitRequest{Profile: profile(domain.SeverityHigh)})
	require.NoError(t, err)

	d := sub.Decision
	assert.Equal(t, "N001", *d.NurseID)
	assert.Equal(t, "Matched cardiology team | Recommended nurse N002 was no longer available; substituted N001 by availability", d.Reasoning)

	trail, err := f.log.ForDecision(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, []string{"nurse"}, trail[0].Changes["substitutions"])
}

func TestSubmit_CriticalWithoutBedIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, recommends("N001", "D001", ""))
	for _, bed := range []string{"B001", "B002"} {
		_, err := f.commits.SetAvailability(ctx, domain.KindBed, bed, domain.AvailabilityCleaning)
		require.NoError(t, err)
	}

	sub, err := f.svc.Submit(ctx, SubmitRequest{Profile: profile(domain.SeverityCritical)})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusRejected, sub.Decision.Status)
	assert.Equal(t, domain.RejectionBedExhausted, sub.Decision.RejectionReason)
	assert.Nil(t, sub.Decision.BedID)

	_, err = f.svc.Confirm(ctx, sub.Decision.ID, nil)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestSubmit_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, &mockRecommender{
		RecommendFunc: func(c context.Context, patientID types.ID, profile domain.PatientProfile, pool domain.Pool) recommender.Result {
			cancel()
			return recommender.Result{Kind: recommender.Unavailable, Reason: "cancelled", Err: c.Err()}
		},
	})

	_, err := f.svc.Submit(ctx, SubmitRequest{Profile: profile(domain.SeverityHigh)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfirm_CommitsProposal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, recommends("N001", "D001", "B001"))

	sub, err := f.svc.Submit(ctx, SubmitRequest{Profile: profile(domain.SeverityHigh)})
	require.NoError(t, err)

	conf, err := f.svc.Confirm(ctx, sub.Decision.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, sub.Decision.ID, conf.Decision.ID)
	assert.Equal(t, domain.StatusCommitted, conf.Decision.Status)
	assert.Nil(t, conf.Superseded)
	assert.False(t, conf.Retried)

	assert.Equal(t, domain.AvailabilityBusy, f.availability(t, domain.KindNurse, "N001"))
	assert.Equal(t, domain.AvailabilityOccupied, f.availability(t, domain.KindBed, "B001"))

	active, err := f.svc.Active(ctx, sub.Patient.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, conf.Decision.ID, active.ID)

	patient, err := f.store.GetPatient(ctx, sub.Patient.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatientStatusAdmitted, patient.Status)

	_, err = f.svc.Confirm(ctx, sub.Decision.ID, nil)
	assert.True(t, errors.Is(err, errors.ErrConflict), "a committed decision cannot be confirmed again")
}

func TestConfirm_Overrides(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, recommends("N001", "D001", "B001"))

	sub, err := f.svc.Submit(ctx, SubmitRequest{Profile: profile(domain.SeverityMedium)})
	require.NoError(t, err)

	conf, err := f.svc.Confirm(ctx, sub.Decision.ID, &Overrides{
		NurseID: domain.StringPtr("N002"),
		BedID:   domain.StringPtr(""),
	})
	require.NoError(t, err)

	d := conf.Decision
	assert.NotEqual(t, sub.Decision.ID, d.ID)
	assert.Equal(t, domain.SourceManualOverride, d.Source)
	assert.Equal(t, domain.StatusCommitted, d.Status)
	assert.Equal(t, "N002", *d.NurseID)
	assert.Equal(t, "D001", *d.DoctorID)
	assert.Nil(t, d.BedID)
	require.NotNil(t, d.SupersedesID)
	assert.Equal(t, sub.Decision.ID, *d.SupersedesID)
	assert.Contains(t, d.Reasoning, "Manual override by system: nurse N002, bed cleared")

	base, err := f.store.GetDecision(ctx, sub.Decision.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuperseded, base.Status)

	assert.Equal(t, domain.AvailabilityAvailable, f.availability(t, domain.KindNurse, "N001"))
	assert.Equal(t, domain.AvailabilityAvailable, f.availability(t, domain.KindBed, "B001"))

	patient, err := f.store.GetPatient(ctx, sub.Patient.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatientStatusPendingBed, patient.Status)

	history, err := f.svc.History(ctx, sub.Patient.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Sequence)
	assert.Equal(t, int64(2), history[1].Sequence)
}

func TestConfirm_OverrideToBusyResourceIsSubstituted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, recommends("N001", "D001", "B001"))
	f.takeForOtherPatient(t, "N002")

	sub, err := f.svc.Submit(ctx, SubmitRequest{Profile: profile(domain.SeverityMedium)})
	require.NoError(t, err)

	conf, err := f.svc.Confirm(ctx, sub.Decision.ID, &Overrides{NurseID: domain.StringPtr("N002")})
	require.NoError(t, err)

	assert.Equal(t, "N001", *conf.Decision.NurseID)
	assert.Contains(t, conf.Decision.Reasoning, "Recommended nurse N002 was no longer available; substituted N001 by availability")
}

func TestConfirm_RetriesOnceAfterResourceConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, recommends("N001", "D001", "B001"))

	sub, err := f.svc.Submit(ctx, SubmitRequest{Profile: profile(domain.SeverityHigh)})
	require.NoError(t, err)

	f.committer.race = func(call int) {
		if call == 1 {
			f.takeForOtherPatient(t, "N001")
		}
	}

	conf, err := f.svc.Confirm(ctx, sub.Decision.ID, nil)
	require.NoError(t, err)

	assert.True(t, conf.Retried)
	assert.Equal(t, 2, f.committer.calls)
	assert.Equal(t, domain.StatusCommitted, conf.Decision.Status)
	assert.Equal(t, "N002", *conf.Decision.NurseID)
	assert.NotEqual(t, sub.Decision.ID, conf.Decision.ID)

	base, err := f.store.GetDecision(ctx, sub.Decision.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuperseded, base.Status)
}

func TestConfirm_SecondConflictIsSurfaced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, recommends("N001", "D001", "B001"))

	sub, err := f.svc.Submit(ctx, SubmitRequest{Profile: profile(domain.SeverityHigh)})
	require.NoError(t, err)

	f.committer.race = func(call int) {
		switch call {
		case 1:
			f.takeForOtherPatient(t, "N001")
		case 2:
			f.takeForOtherPatient(t, "N002")
		}
	}

	_, err = f.svc.Confirm(ctx, sub.Decision.ID, nil)
	require.Error(t, err)
	assert.True(t, domain.IsResourceConflict(err))
	assert.Equal(t, 2, f.committer.calls)

	active, err := f.svc.Active(ctx, sub.Patient.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.Equal(t, domain.AvailabilityAvailable, f.availability(t, domain.KindBed, "B001"))
}

func TestResubmit_KeepsOwnResources(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, recommends("N001", "D001", "B001"))

	first, err := f.svc.Submit(ctx, SubmitRequest{Profile: profile(domain.SeverityHigh)})
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, first.Decision.ID, nil)
	require.NoError(t, err)

	updated := profile(domain.SeverityHigh)
	updated.Notes = "Troponin elevated"
	second, err := f.svc.Submit(ctx, SubmitRequest{PatientID: &first.Patient.ID, Profile: updated})
	require.NoError(t, err)

	assert.Equal(t, 2, second.Patient.ProfileVersion)
	assert.Equal(t, "Matched cardiology team", second.Decision.Reasoning, "own resources are not substituted")
	assert.Equal(t, int64(2), second.Decision.Sequence)

	conf, err := f.svc.Confirm(ctx, second.Decision.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, conf.Superseded)
	assert.Equal(t, first.Decision.ID, conf.Superseded.ID)

	nurse, err := f.store.GetResource(ctx, domain.KindNurse, "N001")
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityBusy, nurse.Availability)
	assert.Equal(t, second.Decision.ID, *nurse.CurrentAssignmentID)

	trail, err := f.log.ForPatient(ctx, first.Patient.ID, 0)
	require.NoError(t, err)
	actions := make([]string, 0, len(trail))
	for _, e := range trail {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{
		audit.ActionProposed, audit.ActionCommitted,
		audit.ActionProposed, audit.ActionSuperseded, audit.ActionCommitted,
	}, actions)
}

func TestConfirm_StaleDecisionLoses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, recommends("N001", "D001", "B001"))

	first, err := f.svc.Submit(ctx, SubmitRequest{Profile: profile(domain.SeverityHigh)})
	require.NoError(t, err)
	second, err := f.svc.Submit(ctx, SubmitRequest{PatientID: &first.Patient.ID, Profile: profile(domain.SeverityHigh)})
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, second.Decision.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, first.Decision.ID, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	active, err := f.svc.Active(ctx, first.Patient.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Decision.ID, active.ID)
}

func TestSubmit_SequenceFollowsSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	gate := make(chan struct{})
	f := newFixture(t, &mockRecommender{
		RecommendFunc: func(c context.Context, patientID types.ID, p domain.PatientProfile, pool domain.Pool) recommender.Result {
			reasoning := "fast recommendation"
			if p.Notes == "slow" {
				close(entered)
				<-gate
				reasoning = "slow recommendation"
			}
			d := domain.NewDecision(patientID, domain.SourceExternalAI, reasoning)
			d.SetSlot(domain.SlotNurse, domain.StringPtr("N001"))
			return recommender.Result{Kind: recommender.Ok, Decision: d}
		},
	})

	first, err := f.svc.Submit(ctx, SubmitRequest{Profile: profile(domain.SeverityMedium)})
	require.NoError(t, err)
	patientID := first.Patient.ID

	older := profile(domain.SeverityMedium)
	older.Notes = "slow"
	var slow *Submission
	done := make(chan error, 1)
	go func() {
		var err error
		slow, err = f.svc.Submit(ctx, SubmitRequest{PatientID: &patientID, Profile: older})
		done <- err
	}()
	<-entered

	newer := profile(domain.SeverityMedium)
	newer.Notes = "fast"
	fast, err := f.svc.Submit(ctx, SubmitRequest{PatientID: &patientID, Profile: newer})
	require.NoError(t, err)

	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, 2, slow.Decision.ProfileVersion)
	assert.Equal(t, 3, fast.Decision.ProfileVersion)
	assert.Less(t, slow.Decision.Sequence, fast.Decision.Sequence)

	_, err = f.svc.Confirm(ctx, fast.Decision.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, slow.Decision.ID, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	active, err := f.svc.Active(ctx, patientID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, fast.Decision.ID, active.ID)
	assert.Equal(t, 3, active.ProfileVersion)
}

func TestConfirm_ReconcilesAgainstDecisionProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, recommends("N001", "D001", "B001"))

	v1 := profile(domain.SeverityMedium)
	v1.RequiredSpecialty = "Emergency"
	first, err := f.svc.Submit(ctx, SubmitRequest{Profile: v1})
	require.NoError(t, err)
	require.Equal(t, "D001", *first.Decision.DoctorID)

	v2 := profile(domain.SeverityMedium)
	v2.RequiredSpecialty = "Cardiology"
	_, err = f.svc.Submit(ctx, SubmitRequest{PatientID: &first.Patient.ID, Profile: v2})
	require.NoError(t, err)

	// Another admission takes the recommended doctor before the confirm
	other, err := f.store.CreatePatient(ctx, profile(domain.SeverityLow))
	require.NoError(t, err)
	d := domain.NewDecision(other.ID, domain.SourceExternalAI, "other admission")
	d.DoctorID = domain.StringPtr("D001")
	d.Sequence = 1
	require.NoError(t, f.store.SaveDecision(ctx, d))
	_, err = f.commits.Commit(ctx, d.ID)
	require.NoError(t, err)

	conf, err := f.svc.Confirm(ctx, first.Decision.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, "D002", *conf.Decision.DoctorID)
	assert.Equal(t, 1, conf.Decision.ProfileVersion)
	assert.Contains(t, conf.Decision.Reasoning, "substituted D002 by specialty match")
}

func TestDischargeAndCleaning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, recommends("N001", "D001", "B001"))

	sub, err := f.svc.Submit(ctx, SubmitRequest{Profile: profile(domain.SeverityHigh)})
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, sub.Decision.ID, nil)
	require.NoError(t, err)

	released, err := f.svc.Discharge(ctx, sub.Patient.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDischarged, released.Status)
	assert.Equal(t, domain.AvailabilityAvailable, f.availability(t, domain.KindNurse, "N001"))
	assert.Equal(t, domain.AvailabilityCleaning, f.availability(t, domain.KindBed, "B001"))

	_, err = f.svc.Discharge(ctx, sub.Patient.ID)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	bed, err := f.svc.CompleteCleaning(ctx, "B001")
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityAvailable, bed.Availability)
}

func TestActive_UnknownPatient(t *testing.T) {
	f := newFixture(t, &mockRecommender{})

	_, err := f.svc.Active(context.Background(), types.NewID())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestPoolFor(t *testing.T) {
	activeID := types.NewID()
	otherID := types.NewID()
	snap := domain.Pool{
		Nurses: []domain.Resource{
			{ID: "N001", Kind: domain.KindNurse, Availability: domain.AvailabilityBusy, CurrentAssignmentID: activeID.Ptr()},
			{ID: "N002", Kind: domain.KindNurse, Availability: domain.AvailabilityBusy, CurrentAssignmentID: otherID.Ptr()},
		},
	}

	out := poolFor(snap, &domain.Decision{ID: activeID})

	assert.Equal(t, domain.AvailabilityAvailable, out.Nurses[0].Availability)
	assert.Nil(t, out.Nurses[0].CurrentAssignmentID)
	assert.Equal(t, domain.AvailabilityBusy, out.Nurses[1].Availability)
	assert.Equal(t, domain.AvailabilityBusy, snap.Nurses[0].Availability, "input is not mutated")

	assert.Equal(t, snap, poolFor(snap, nil))
}
