// Package task tracks ward work that follows from assignments: a checkup
// for the nurse who takes a patient, and cleaning for a bed a patient
// leaves.
package task

import (
	"fmt"
	"time"

	"github.com/carefront/platform/internal/shared/types"
)

// Type is the kind of work a task asks for
type Type string

const (
	TypeCleaning     Type = "cleaning"
	TypeNurseCheckup Type = "nurse_checkup"
)

// Valid reports whether t is a known task type
func (t Type) Valid() bool {
	return t == TypeCleaning || t == TypeNurseCheckup
}

// TargetRole says whether a person or an automated agent picks the task up
type TargetRole string

const (
	TargetHuman TargetRole = "HUMAN"
	TargetAgent TargetRole = "AGENT"
)

// Status is the task lifecycle state
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusFailed:     {StatusPending},
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Open reports whether the task still needs doing
func (s Status) Open() bool {
	return s == StatusPending || s == StatusInProgress
}

// CanBecome reports whether a task in s may move to next. Completed and
// cancelled are terminal; a failed task can be put back to pending.
func (s Status) CanBecome(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Task is one unit of ward work
type Task struct {
	ID          types.ID   `json:"id"`
	Type        Type       `json:"type"`
	TargetRole  TargetRole `json:"target_role"`
	AgentRole   string     `json:"agent_role,omitempty"`
	AssignedTo  *string    `json:"assigned_to,omitempty"`
	PatientID   *types.ID  `json:"patient_id,omitempty"`
	BedID       *string    `json:"bed_id,omitempty"`
	DecisionID  *types.ID  `json:"decision_id,omitempty"`
	Status      Status     `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SetStatus moves the task to next, stamping completion time
func (t *Task) SetStatus(next Status, now time.Time) error {
	if !t.Status.CanBecome(next) {
		return fmt.Errorf("task is %s and cannot become %s", t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = now
	if next == StatusCompleted {
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
	}
	return nil
}

// ListFilter narrows a task listing. Empty fields match everything.
type ListFilter struct {
	Type       Type
	AgentRole  string
	Status     Status
	AssignedTo string
	PatientID  *types.ID
	BedID      string
	OpenOnly   bool
	Limit      int
	Offset     int
}

func (f ListFilter) matches(t *Task) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.AgentRole != "" && t.AgentRole != f.AgentRole {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.AssignedTo != "" && (t.AssignedTo == nil || *t.AssignedTo != f.AssignedTo) {
		return false
	}
	if f.PatientID != nil && (t.PatientID == nil || *t.PatientID != *f.PatientID) {
		return false
	}
	if f.BedID != "" && (t.BedID == nil || *t.BedID != f.BedID) {
		return false
	}
	if f.OpenOnly && !t.Status.Open() {
		return false
	}
	return true
}
