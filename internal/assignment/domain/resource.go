package domain

import (
	"fmt"
	"time"

	"github.com/carefront/platform/internal/shared/types"
)

// Kind is the type of an assignable resource
type Kind string

const (
	KindNurse  Kind = "nurse"
	KindDoctor Kind = "doctor"
	KindBed    Kind = "bed"
)

// Kinds lists resource kinds in slot order
var Kinds = []Kind{KindNurse, KindDoctor, KindBed}

// ParseKind parses a kind from a path segment, accepting plurals
func ParseKind(s string) (Kind, error) {
	switch s {
	case "nurse", "nurses":
		return KindNurse, nil
	case "doctor", "doctors":
		return KindDoctor, nil
	case "bed", "beds":
		return KindBed, nil
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// Availability is the state of a resource. Staff use available, busy and
// unavailable; beds use available, occupied, cleaning and icu.
type Availability string

const (
	AvailabilityAvailable   Availability = "available"
	AvailabilityBusy        Availability = "busy"
	AvailabilityUnavailable Availability = "unavailable"
	AvailabilityOccupied    Availability = "occupied"
	AvailabilityCleaning    Availability = "cleaning"
	AvailabilityICU         Availability = "icu"
)

// ValidFor reports whether the availability applies to kind
func (a Availability) ValidFor(kind Kind) bool {
	if kind == KindBed {
		switch a {
		case AvailabilityAvailable, AvailabilityOccupied, AvailabilityCleaning, AvailabilityICU:
			return true
		}
		return false
	}
	switch a {
	case AvailabilityAvailable, AvailabilityBusy, AvailabilityUnavailable:
		return true
	}
	return false
}

// Engaged reports whether the availability means the resource holds an assignment
func (a Availability) Engaged() bool {
	return a == AvailabilityBusy || a == AvailabilityOccupied
}

// EngagedState is the availability a resource takes when assigned
func EngagedState(kind Kind) Availability {
	if kind == KindBed {
		return AvailabilityOccupied
	}
	return AvailabilityBusy
}

// BedType distinguishes general ward beds from ICU beds
type BedType string

const (
	BedTypeGeneral BedType = "general"
	BedTypeICU     BedType = "icu"
)

// Resource is a nurse, doctor or bed. CurrentAssignmentID is a weak
// back-reference to the committed decision holding the resource.
type Resource struct {
	ID                  string       `json:"id"`
	Kind                Kind         `json:"kind"`
	Name                string       `json:"name,omitempty"`
	Specialization      string       `json:"specialization,omitempty"`
	Availability        Availability `json:"availability"`
	CurrentAssignmentID *types.ID    `json:"currentAssignmentId"`

	// Bed placement
	Floor     int     `json:"floor,omitempty"`
	BedNumber int     `json:"bed_number,omitempty"`
	BedType   BedType `json:"type,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Available reports whether the resource can be assigned
func (r Resource) Available() bool {
	return r.Availability == AvailabilityAvailable
}

// CheckInvariant verifies the back-reference is set exactly when the resource is engaged
func (r Resource) CheckInvariant() error {
	if !r.Availability.ValidFor(r.Kind) {
		return fmt.Errorf("%s %s: availability %q not valid for kind", r.Kind, r.ID, r.Availability)
	}
	hasRef := r.CurrentAssignmentID != nil && !r.CurrentAssignmentID.IsZero()
	if hasRef != r.Availability.Engaged() {
		return fmt.Errorf("%s %s: availability %q inconsistent with assignment reference", r.Kind, r.ID, r.Availability)
	}
	return nil
}

// Pool is a point-in-time view of every resource. Consumers treat it as read-only.
type Pool struct {
	Nurses  []Resource `json:"nurses"`
	Doctors []Resource `json:"doctors"`
	Beds    []Resource `json:"beds"`
}

// Slice returns the resources of kind in snapshot order
func (p Pool) Slice(kind Kind) []Resource {
	switch kind {
	case KindNurse:
		return p.Nurses
	case KindDoctor:
		return p.Doctors
	case KindBed:
		return p.Beds
	}
	return nil
}

// Find looks up a resource by kind and id
func (p Pool) Find(kind Kind, id string) (Resource, bool) {
	for _, r := range p.Slice(kind) {
		if r.ID == id {
			return r, true
		}
	}
	return Resource{}, false
}

// Available returns the available resources of kind in snapshot order
func (p Pool) Available(kind Kind) []Resource {
	var out []Resource
	for _, r := range p.Slice(kind) {
		if r.Available() {
			out = append(out, r)
		}
	}
	return out
}

// OnlyAvailable returns a pool holding only available resources
func (p Pool) OnlyAvailable() Pool {
	return Pool{
		Nurses:  p.Available(KindNurse),
		Doctors: p.Available(KindDoctor),
		Beds:    p.Available(KindBed),
	}
}

// Clone deep-copies the pool
func (p Pool) Clone() Pool {
	return Pool{
		Nurses:  cloneResources(p.Nurses),
		Doctors: cloneResources(p.Doctors),
		Beds:    cloneResources(p.Beds),
	}
}

func cloneResources(in []Resource) []Resource {
	if in == nil {
		return nil
	}
	out := make([]Resource, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// Clone copies the resource including its back-reference
func (r Resource) Clone() Resource {
	if r.CurrentAssignmentID != nil {
		id := *r.CurrentAssignmentID
		r.CurrentAssignmentID = &id
	}
	return r
}
