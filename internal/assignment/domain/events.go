package domain

import "github.com/carefront/platform/internal/shared/types"

// DecisionEvent is the payload published for assignment lifecycle events
type DecisionEvent struct {
	DecisionID     types.ID  `json:"decision_id"`
	PatientID      types.ID  `json:"patient_id"`
	Status         Status    `json:"status"`
	Source         Source    `json:"source"`
	NurseID        *string   `json:"nurse_id,omitempty"`
	DoctorID       *string   `json:"doctor_id,omitempty"`
	BedID          *string   `json:"bed_id,omitempty"`
	Reasoning      string    `json:"reasoning"`
	ReviewRequired bool      `json:"review_required"`
	SupersededID   *types.ID `json:"superseded_id,omitempty"`
}

// NewDecisionEvent builds the payload for d
func NewDecisionEvent(d *Decision) DecisionEvent {
	return DecisionEvent{
		DecisionID:     d.ID,
		PatientID:      d.PatientID,
		Status:         d.Status,
		Source:         d.Source,
		NurseID:        d.NurseID,
		DoctorID:       d.DoctorID,
		BedID:          d.BedID,
		Reasoning:      d.Reasoning,
		ReviewRequired: d.ReviewRequired,
	}
}

// AvailabilityEvent is the payload for resource availability changes
type AvailabilityEvent struct {
	Kind         Kind         `json:"kind"`
	ResourceID   string       `json:"resource_id"`
	From         Availability `json:"from"`
	To           Availability `json:"to"`
	AssignmentID *types.ID    `json:"assignment_id,omitempty"`
}
