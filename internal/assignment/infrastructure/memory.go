package infrastructure

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/types"
)

// MemoryStore implements domain.Store in process memory. It backs the mock
// data mode and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// Atomically runs fn against a staged copy of the store and swaps the copy
// in only when fn succeeds and ctx is still live.
func (s *MemoryStore) Atomically(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(staged); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = staged
	return nil
}

// Snapshot returns a copy of every resource in roster order
func (s *MemoryStore) Snapshot(ctx context.Context) (domain.Pool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Pool{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.Pool{
		Nurses:  s.state.list(domain.KindNurse, false),
		Doctors: s.state.list(domain.KindDoctor, false),
		Beds:    s.state.list(domain.KindBed, false),
	}, nil
}

// Health always succeeds for the in-memory store
func (s *MemoryStore) Health(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) read(fn func(st *memState) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

func (s *MemoryStore) write(fn func(st *memState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func (s *MemoryStore) ListAvailable(ctx context.Context, kind domain.Kind) (out []domain.Resource, err error) {
	err = s.read(func(st *memState) error {
		out, err = st.ListAvailable(ctx, kind)
		return err
	})
	return out, err
}

func (s *MemoryStore) ListResources(ctx context.Context, kind domain.Kind) (out []domain.Resource, err error) {
	err = s.read(func(st *memState) error {
		out, err = st.ListResources(ctx, kind)
		return err
	})
	return out, err
}

func (s *MemoryStore) GetResource(ctx context.Context, kind domain.Kind, id string) (out *domain.Resource, err error) {
	err = s.read(func(st *memState) error {
		out, err = st.GetResource(ctx, kind, id)
		return err
	})
	return out, err
}

func (s *MemoryStore) UpdateAvailability(ctx context.Context, kind domain.Kind, id string, status domain.Availability, assignmentID *types.ID) error {
	return s.write(func(st *memState) error {
		return st.UpdateAvailability(ctx, kind, id, status, assignmentID)
	})
}

func (s *MemoryStore) UpsertResource(ctx context.Context, r domain.Resource) error {
	return s.write(func(st *memState) error {
		return st.UpsertResource(ctx, r)
	})
}

func (s *MemoryStore) CreatePatient(ctx context.Context, profile domain.PatientProfile) (out *domain.Patient, err error) {
	err = s.write(func(st *memState) error {
		out, err = st.CreatePatient(ctx, profile)
		return err
	})
	return out, err
}

func (s *MemoryStore) AddProfileVersion(ctx context.Context, patientID types.ID, profile domain.PatientProfile) (out *domain.Patient, err error) {
	err = s.write(func(st *memState) error {
		out, err = st.AddProfileVersion(ctx, patientID, profile)
		return err
	})
	return out, err
}

func (s *MemoryStore) GetPatient(ctx context.Context, id types.ID) (out *domain.Patient, err error) {
	err = s.read(func(st *memState) error {
		out, err = st.GetPatient(ctx, id)
		return err
	})
	return out, err
}

func (s *MemoryStore) GetProfile(ctx context.Context, patientID types.ID, version int) (out *domain.PatientProfile, err error) {
	err = s.read(func(st *memState) error {
		out, err = st.GetProfile(ctx, patientID, version)
		return err
	})
	return out, err
}

func (s *MemoryStore) UpdatePatientStatus(ctx context.Context, id types.ID, status domain.PatientStatus) error {
	return s.write(func(st *memState) error {
		return st.UpdatePatientStatus(ctx, id, status)
	})
}

func (s *MemoryStore) SaveDecision(ctx context.Context, d *domain.Decision) error {
	return s.write(func(st *memState) error {
		return st.SaveDecision(ctx, d)
	})
}

func (s *MemoryStore) GetDecision(ctx context.Context, id types.ID) (out *domain.Decision, err error) {
	err = s.read(func(st *memState) error {
		out, err = st.GetDecision(ctx, id)
		return err
	})
	return out, err
}

func (s *MemoryStore) ActiveDecision(ctx context.Context, patientID types.ID) (out *domain.Decision, err error) {
	err = s.read(func(st *memState) error {
		out, err = st.ActiveDecision(ctx, patientID)
		return err
	})
	return out, err
}

func (s *MemoryStore) DecisionHistory(ctx context.Context, patientID types.ID) (out []domain.Decision, err error) {
	err = s.read(func(st *memState) error {
		out, err = st.DecisionHistory(ctx, patientID)
		return err
	})
	return out, err
}

func (s *MemoryStore) NextSequence(ctx context.Context, patientID types.ID) (out int64, err error) {
	err = s.write(func(st *memState) error {
		out, err = st.NextSequence(ctx, patientID)
		return err
	})
	return out, err
}

type resourceKey struct {
	kind domain.Kind
	id   string
}

type patientRecord struct {
	patient  domain.Patient
	profiles []domain.PatientProfile
	seq      int64
}

// memState holds the data and implements domain.Tx without locking
type memState struct {
	resources map[resourceKey]domain.Resource
	order     map[domain.Kind][]string
	patients  map[types.ID]*patientRecord
	decisions map[types.ID]*domain.Decision
	byPatient map[types.ID][]types.ID
}

func newMemState() *memState {
	return &memState{
		resources: make(map[resourceKey]domain.Resource),
		order:     make(map[domain.Kind][]string),
		patients:  make(map[types.ID]*patientRecord),
		decisions: make(map[types.ID]*domain.Decision),
		byPatient: make(map[types.ID][]types.ID),
	}
}

func (m *memState) clone() *memState {
	c := newMemState()
	for k, r := range m.resources {
		c.resources[k] = r.Clone()
	}
	for k, ids := range m.order {
		c.order[k] = append([]string(nil), ids...)
	}
	for id, rec := range m.patients {
		cp := *rec
		cp.patient.Profile.Allergies = append([]string(nil), rec.patient.Profile.Allergies...)
		cp.profiles = append([]domain.PatientProfile(nil), rec.profiles...)
		c.patients[id] = &cp
	}
	for id, d := range m.decisions {
		c.decisions[id] = d.Clone()
	}
	for id, ids := range m.byPatient {
		c.byPatient[id] = append([]types.ID(nil), ids...)
	}
	return c
}

func (m *memState) list(kind domain.Kind, onlyAvailable bool) []domain.Resource {
	ids := m.order[kind]
	out := make([]domain.Resource, 0, len(ids))
	for _, id := range ids {
		r := m.resources[resourceKey{kind, id}]
		if onlyAvailable && !r.Available() {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}

func (m *memState) ListAvailable(ctx context.Context, kind domain.Kind) ([]domain.Resource, error) {
	return m.list(kind, true), nil
}

func (m *memState) ListResources(ctx context.Context, kind domain.Kind) ([]domain.Resource, error) {
	return m.list(kind, false), nil
}

func (m *memState) GetResource(ctx context.Context, kind domain.Kind, id string) (*domain.Resource, error) {
	r, ok := m.resources[resourceKey{kind, id}]
	if !ok {
		return nil, errors.NotFound(string(kind), id)
	}
	out := r.Clone()
	return &out, nil
}

func (m *memState) UpdateAvailability(ctx context.Context, kind domain.Kind, id string, status domain.Availability, assignmentID *types.ID) error {
	key := resourceKey{kind, id}
	r, ok := m.resources[key]
	if !ok {
		return errors.NotFound(string(kind), id)
	}
	r.Availability = status
	r.CurrentAssignmentID = nil
	if assignmentID != nil {
		r.CurrentAssignmentID = assignmentID.Ptr()
	}
	if err := r.CheckInvariant(); err != nil {
		return errors.BadRequest(err.Error())
	}
	r.UpdatedAt = time.Now().UTC()
	m.resources[key] = r
	return nil
}

func (m *memState) UpsertResource(ctx context.Context, r domain.Resource) error {
	if r.Availability == "" {
		r.Availability = domain.AvailabilityAvailable
	}
	key := resourceKey{r.Kind, r.ID}
	existing, ok := m.resources[key]
	if ok && existing.Availability.Engaged() {
		r.Availability = existing.Availability
		r.CurrentAssignmentID = existing.CurrentAssignmentID
	}
	if err := r.CheckInvariant(); err != nil {
		return errors.BadRequest(err.Error())
	}
	r.UpdatedAt = time.Now().UTC()
	if !ok {
		m.order[r.Kind] = append(m.order[r.Kind], r.ID)
	}
	m.resources[key] = r.Clone()
	return nil
}

func (m *memState) CreatePatient(ctx context.Context, profile domain.PatientProfile) (*domain.Patient, error) {
	now := time.Now().UTC()
	rec := &patientRecord{
		patient: domain.Patient{
			ID:             types.NewID(),
			Status:         domain.PatientStatusPreRegistered,
			ProfileVersion: 1,
			Profile:        profile,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		profiles: []domain.PatientProfile{profile},
	}
	m.patients[rec.patient.ID] = rec
	p := rec.patient
	return &p, nil
}

func (m *memState) AddProfileVersion(ctx context.Context, patientID types.ID, profile domain.PatientProfile) (*domain.Patient, error) {
	rec, ok := m.patients[patientID]
	if !ok {
		return nil, errors.NotFound("patient", patientID.String())
	}
	rec.profiles = append(rec.profiles, profile)
	rec.patient.ProfileVersion = len(rec.profiles)
	rec.patient.Profile = profile
	rec.patient.UpdatedAt = time.Now().UTC()
	p := rec.patient
	return &p, nil
}

func (m *memState) GetPatient(ctx context.Context, id types.ID) (*domain.Patient, error) {
	rec, ok := m.patients[id]
	if !ok {
		return nil, errors.NotFound("patient", id.String())
	}
	p := rec.patient
	return &p, nil
}

func (m *memState) GetProfile(ctx context.Context, patientID types.ID, version int) (*domain.PatientProfile, error) {
	rec, ok := m.patients[patientID]
	if !ok {
		return nil, errors.NotFound("patient", patientID.String())
	}
	if version < 1 || version > len(rec.profiles) {
		return nil, errors.NotFound("patient profile", fmt.Sprintf("%s/v%d", patientID, version))
	}
	p := rec.profiles[version-1]
	p.Allergies = append([]string(nil), p.Allergies...)
	return &p, nil
}

func (m *memState) UpdatePatientStatus(ctx context.Context, id types.ID, status domain.PatientStatus) error {
	rec, ok := m.patients[id]
	if !ok {
		return errors.NotFound("patient", id.String())
	}
	rec.patient.Status = status
	rec.patient.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memState) SaveDecision(ctx context.Context, d *domain.Decision) error {
	if _, ok := m.patients[d.PatientID]; !ok {
		return errors.NotFound("patient", d.PatientID.String())
	}
	if d.Status == domain.StatusCommitted {
		if d.Reasoning == "" {
			return errors.BadRequest("committed decision requires reasoning")
		}
		for _, other := range m.decisions {
			if other.ID == d.ID || other.Status != domain.StatusCommitted {
				continue
			}
			if other.PatientID == d.PatientID {
				return errors.Conflict("patient already has an active assignment")
			}
			for _, slot := range domain.Slots {
				a, b := other.SlotID(slot), d.SlotID(slot)
				if a != nil && b != nil && *a == *b {
					return errors.Conflict(string(slot) + " " + *a + " is held by another assignment")
				}
			}
		}
	}

	if _, exists := m.decisions[d.ID]; !exists {
		for _, id := range m.byPatient[d.PatientID] {
			if m.decisions[id].Sequence == d.Sequence {
				return errors.Conflict("decision sequence already used for patient")
			}
		}
		m.byPatient[d.PatientID] = append(m.byPatient[d.PatientID], d.ID)
	}
	m.decisions[d.ID] = d.Clone()
	return nil
}

func (m *memState) GetDecision(ctx context.Context, id types.ID) (*domain.Decision, error) {
	d, ok := m.decisions[id]
	if !ok {
		return nil, errors.NotFound("decision", id.String())
	}
	return d.Clone(), nil
}

func (m *memState) ActiveDecision(ctx context.Context, patientID types.ID) (*domain.Decision, error) {
	for _, id := range m.byPatient[patientID] {
		if d := m.decisions[id]; d.Status == domain.StatusCommitted {
			return d.Clone(), nil
		}
	}
	return nil, nil
}

func (m *memState) DecisionHistory(ctx context.Context, patientID types.ID) ([]domain.Decision, error) {
	ids := m.byPatient[patientID]
	out := make([]domain.Decision, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.decisions[id].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func (m *memState) NextSequence(ctx context.Context, patientID types.ID) (int64, error) {
	rec, ok := m.patients[patientID]
	if !ok {
		return 0, errors.NotFound("patient", patientID.String())
	}
	rec.seq++
	return rec.seq, nil
}
