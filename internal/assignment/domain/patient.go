package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/types"
)

// Severity grades how urgent a patient's condition is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// PatientStatus tracks a patient through admission
type PatientStatus string

const (
	PatientStatusPreRegistered PatientStatus = "pre_registered"
	PatientStatusPendingBed    PatientStatus = "pending_bed"
	PatientStatusAdmitted      PatientStatus = "admitted"
	PatientStatusDischarged    PatientStatus = "discharged"
)

// PatientProfile is the clinical profile submitted for assignment. A
// submitted profile is never edited; re-submission stores a new version.
type PatientProfile struct {
	Name              string   `json:"name"`
	Age               int      `json:"age"`
	Gender            string   `json:"gender"`
	Condition         string   `json:"condition"`
	RequiredSpecialty string   `json:"requiredSpecialty"`
	Severity          Severity `json:"severity"`
	Allergies         []string `json:"allergies"`
	Notes             string   `json:"notes"`
}

// Validate checks required fields and returns a validation error listing each problem
func (p PatientProfile) Validate() error {
	details := make(map[string]string)

	if strings.TrimSpace(p.Name) == "" {
		details["name"] = "is required"
	}
	if strings.TrimSpace(p.Condition) == "" {
		details["condition"] = "is required"
	}
	if p.Severity == "" {
		details["severity"] = "is required"
	} else if !p.Severity.Valid() {
		details["severity"] = "must be one of low, medium, high, critical"
	}
	if p.Age < 0 || p.Age > 150 {
		details["age"] = "must be between 0 and 150, got " + strconv.Itoa(p.Age)
	}

	if len(details) > 0 {
		return errors.Validation("invalid patient profile", details)
	}
	return nil
}

// Normalized returns a copy with trimmed strings and a non-nil allergy list
func (p PatientProfile) Normalized() PatientProfile {
	out := p
	out.Name = strings.TrimSpace(p.Name)
	out.Gender = strings.TrimSpace(p.Gender)
	out.Condition = strings.TrimSpace(p.Condition)
	out.RequiredSpecialty = strings.TrimSpace(p.RequiredSpecialty)
	out.Notes = strings.TrimSpace(p.Notes)
	out.Allergies = make([]string, 0, len(p.Allergies))
	for _, a := range p.Allergies {
		if a = strings.TrimSpace(a); a != "" {
			out.Allergies = append(out.Allergies, a)
		}
	}
	return out
}

// Patient is the stored patient record with its current profile version
type Patient struct {
	ID             types.ID       `json:"id"`
	Status         PatientStatus  `json:"status"`
	ProfileVersion int            `json:"profile_version"`
	Profile        PatientProfile `json:"profile"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
