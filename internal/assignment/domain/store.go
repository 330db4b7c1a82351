package domain

import (
	"context"

	"github.com/carefront/platform/internal/shared/types"
)

// ResourceReader reads the roster
type ResourceReader interface {
	ListAvailable(ctx context.Context, kind Kind) ([]Resource, error)
	ListResources(ctx context.Context, kind Kind) ([]Resource, error)
	GetResource(ctx context.Context, kind Kind, id string) (*Resource, error)
}

// ResourceWriter changes resource state
type ResourceWriter interface {
	// UpdateAvailability sets the availability and back-reference together
	UpdateAvailability(ctx context.Context, kind Kind, id string, status Availability, assignmentID *types.ID) error
	// UpsertResource inserts a resource or refreshes its descriptive fields.
	// An engaged resource keeps its availability and back-reference.
	UpsertResource(ctx context.Context, r Resource) error
}

// PatientStore persists patients and their profile versions
type PatientStore interface {
	CreatePatient(ctx context.Context, profile PatientProfile) (*Patient, error)
	AddProfileVersion(ctx context.Context, patientID types.ID, profile PatientProfile) (*Patient, error)
	GetPatient(ctx context.Context, id types.ID) (*Patient, error)
	// GetProfile returns one stored version of the patient's profile
	GetProfile(ctx context.Context, patientID types.ID, version int) (*PatientProfile, error)
	UpdatePatientStatus(ctx context.Context, id types.ID, status PatientStatus) error
}

// DecisionStore persists assignment decisions
type DecisionStore interface {
	// SaveDecision inserts or updates a decision
	SaveDecision(ctx context.Context, d *Decision) error
	GetDecision(ctx context.Context, id types.ID) (*Decision, error)
	// ActiveDecision returns the committed decision for a patient, or nil
	ActiveDecision(ctx context.Context, patientID types.ID) (*Decision, error)
	// DecisionHistory returns every decision for a patient in sequence order
	DecisionHistory(ctx context.Context, patientID types.ID) ([]Decision, error)
	// NextSequence allocates the next per-patient submission sequence
	NextSequence(ctx context.Context, patientID types.ID) (int64, error)
}

// Tx is the record store as seen inside an atomic unit of work
type Tx interface {
	ResourceReader
	ResourceWriter
	PatientStore
	DecisionStore
}

// Store is the record store selected by the data mode
type Store interface {
	Tx

	// Atomically runs fn so that either all of its writes apply or none do
	Atomically(ctx context.Context, fn func(tx Tx) error) error
	// Snapshot reads every resource in one consistent view
	Snapshot(ctx context.Context) (Pool, error)
	Health(ctx context.Context) error
}
