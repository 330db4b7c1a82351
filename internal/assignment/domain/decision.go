package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/carefront/platform/internal/shared/types"
)

// Slot names one of the three positions a decision fills
type Slot string

const (
	SlotNurse  Slot = "nurse"
	SlotDoctor Slot = "doctor"
	SlotBed    Slot = "bed"
)

// Slots lists every slot in reconciliation order
var Slots = []Slot{SlotNurse, SlotDoctor, SlotBed}

// Kind returns the resource kind the slot holds
func (s Slot) Kind() Kind {
	return Kind(s)
}

// Source records where a decision's slots came from
type Source string

const (
	SourceExternalAI        Source = "external_ai"
	SourceFallbackHeuristic Source = "fallback_heuristic"
	SourceManualOverride    Source = "manual_override"
)

// Status is the lifecycle state of a decision
type Status string

const (
	StatusProposed   Status = "proposed"
	StatusCommitted  Status = "committed"
	StatusRejected   Status = "rejected"
	StatusSuperseded Status = "superseded"
	StatusDischarged Status = "discharged"
)

// RejectionBedExhausted marks a critical patient left without a bed
const RejectionBedExhausted = "bed_exhausted"

// Decision is an assignment of nurse, doctor and bed to a patient
type Decision struct {
	ID              types.ID  `json:"id"`
	PatientID       types.ID  `json:"patientId"`
	ProfileVersion  int       `json:"profileVersion"`
	Sequence        int64     `json:"sequence"`
	NurseID         *string   `json:"nurseId"`
	DoctorID        *string   `json:"doctorId"`
	BedID           *string   `json:"bedId"`
	Reasoning       string    `json:"reasoning"`
	Source          Source    `json:"source"`
	Status          Status    `json:"status"`
	RejectionReason string    `json:"rejectionReason,omitempty"`
	ReviewRequired  bool      `json:"reviewRequired"`
	SupersedesID    *types.ID `json:"supersedesId,omitempty"`
	SupersededByID  *types.ID `json:"supersededById,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// NewDecision creates a proposed decision with a fresh id
func NewDecision(patientID types.ID, source Source, reasoning string) *Decision {
	now := time.Now().UTC()
	return &Decision{
		ID:        types.NewID(),
		PatientID: patientID,
		Source:    source,
		Status:    StatusProposed,
		Reasoning: reasoning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SlotID returns the resource id held in slot, or nil
func (d *Decision) SlotID(slot Slot) *string {
	switch slot {
	case SlotNurse:
		return d.NurseID
	case SlotDoctor:
		return d.DoctorID
	case SlotBed:
		return d.BedID
	}
	return nil
}

// SetSlot stores id in slot. A nil or empty id clears the slot.
func (d *Decision) SetSlot(slot Slot, id *string) {
	if id != nil && *id == "" {
		id = nil
	}
	if id != nil {
		v := *id
		id = &v
	}
	switch slot {
	case SlotNurse:
		d.NurseID = id
	case SlotDoctor:
		d.DoctorID = id
	case SlotBed:
		d.BedID = id
	}
}

// HasBed reports whether the bed slot is filled
func (d *Decision) HasBed() bool {
	return d.BedID != nil
}

// IsActive reports whether the decision currently holds resources
func (d *Decision) IsActive() bool {
	return d.Status == StatusCommitted
}

// MarkCommitted moves a proposed decision to committed
func (d *Decision) MarkCommitted() error {
	if d.Status != StatusProposed {
		return fmt.Errorf("can only commit a proposed decision, got %s", d.Status)
	}
	if d.Reasoning == "" {
		return fmt.Errorf("cannot commit a decision without reasoning")
	}
	d.Status = StatusCommitted
	d.touch()
	return nil
}

// MarkSuperseded records that another decision replaced this one
func (d *Decision) MarkSuperseded(by types.ID) error {
	if d.Status != StatusProposed && d.Status != StatusCommitted {
		return fmt.Errorf("cannot supersede a %s decision", d.Status)
	}
	d.Status = StatusSuperseded
	d.SupersededByID = by.Ptr()
	d.touch()
	return nil
}

// MarkRejected rejects a proposed decision and appends the note to its reasoning
func (d *Decision) MarkRejected(reason, note string) error {
	if d.Status != StatusProposed {
		return fmt.Errorf("can only reject a proposed decision, got %s", d.Status)
	}
	d.Status = StatusRejected
	d.RejectionReason = reason
	d.AppendReasoning(note)
	d.touch()
	return nil
}

// MarkDischarged closes a committed decision when the patient leaves
func (d *Decision) MarkDischarged() error {
	if d.Status != StatusCommitted {
		return fmt.Errorf("can only discharge a committed decision, got %s", d.Status)
	}
	d.Status = StatusDischarged
	d.touch()
	return nil
}

// AppendReasoning adds a note after the existing reasoning. A note that is
// already present is not repeated.
func (d *Decision) AppendReasoning(note string) {
	if note == "" {
		return
	}
	if d.Reasoning == "" {
		d.Reasoning = note
		return
	}
	for _, part := range strings.Split(d.Reasoning, reasoningSeparator) {
		if part == note {
			return
		}
	}
	d.Reasoning += reasoningSeparator + note
}

const reasoningSeparator = " | "

// SameSlots reports whether both decisions hold the same three resources
func (d *Decision) SameSlots(other *Decision) bool {
	for _, s := range Slots {
		a, b := d.SlotID(s), other.SlotID(s)
		if (a == nil) != (b == nil) {
			return false
		}
		if a != nil && *a != *b {
			return false
		}
	}
	return true
}

// Clone returns a deep copy
func (d *Decision) Clone() *Decision {
	if d == nil {
		return nil
	}
	out := *d
	out.NurseID = cloneString(d.NurseID)
	out.DoctorID = cloneString(d.DoctorID)
	out.BedID = cloneString(d.BedID)
	if d.SupersedesID != nil {
		out.SupersedesID = d.SupersedesID.Ptr()
	}
	if d.SupersededByID != nil {
		out.SupersededByID = d.SupersededByID.Ptr()
	}
	return &out
}

func (d *Decision) touch() {
	d.UpdatedAt = time.Now().UTC()
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}
