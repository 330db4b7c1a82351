package infrastructure

import (
	"context"
	"fmt"

	"github.com/carefront/platform/internal/assignment/domain"
)

// RosterConfig sizes the generated mock roster
type RosterConfig struct {
	Nurses       int
	Doctors      int
	Beds         int
	BedsPerFloor int
}

// DefaultRosterConfig matches the demo hospital
func DefaultRosterConfig() RosterConfig {
	return RosterConfig{
		Nurses:       20,
		Doctors:      15,
		Beds:         50,
		BedsPerFloor: 15,
	}
}

var (
	nurseSpecializations  = []string{"General", "ICU", "Pediatric", "ER"}
	doctorSpecializations = []string{"Cardiology", "Emergency", "Neurology", "General Surgery"}
	doctorSurnames        = []string{"Smith", "Johnson", "Williams", "Brown", "Jones"}
)

// GenerateRoster builds a deterministic roster with every resource available
func GenerateRoster(cfg RosterConfig) []domain.Resource {
	if cfg.BedsPerFloor <= 0 {
		cfg.BedsPerFloor = 15
	}

	out := make([]domain.Resource, 0, cfg.Nurses+cfg.Doctors+cfg.Beds)

	for i := 0; i < cfg.Nurses; i++ {
		out = append(out, domain.Resource{
			ID:             fmt.Sprintf("N%03d", i+1),
			Kind:           domain.KindNurse,
			Name:           fmt.Sprintf("Nurse %s", letterName(i)),
			Specialization: nurseSpecializations[i%len(nurseSpecializations)],
			Availability:   domain.AvailabilityAvailable,
		})
	}

	for i := 0; i < cfg.Doctors; i++ {
		out = append(out, domain.Resource{
			ID:             fmt.Sprintf("D%03d", i+1),
			Kind:           domain.KindDoctor,
			Name:           fmt.Sprintf("Dr. %s %d", doctorSurnames[i%len(doctorSurnames)], i/len(doctorSurnames)+1),
			Specialization: doctorSpecializations[i%len(doctorSpecializations)],
			Availability:   domain.AvailabilityAvailable,
		})
	}

	for i := 0; i < cfg.Beds; i++ {
		bedType := domain.BedTypeGeneral
		if i%10 == 0 {
			bedType = domain.BedTypeICU
		}
		out = append(out, domain.Resource{
			ID:           fmt.Sprintf("B%03d", i+1),
			Kind:         domain.KindBed,
			Availability: domain.AvailabilityAvailable,
			Floor:        i/cfg.BedsPerFloor + 1,
			BedNumber:    i + 1,
			BedType:      bedType,
		})
	}

	return out
}

// Seed upserts resources into w in order
func Seed(ctx context.Context, w domain.ResourceWriter, resources []domain.Resource) error {
	for _, r := range resources {
		if err := w.UpsertResource(ctx, r); err != nil {
			return fmt.Errorf("seed %s %s: %w", r.Kind, r.ID, err)
		}
	}
	return nil
}

// letterName returns A..Z, then AA, AB and so on
func letterName(i int) string {
	name := ""
	for i >= 0 {
		name = string(rune('A'+i%26)) + name
		i = i/26 - 1
	}
	return name
}
