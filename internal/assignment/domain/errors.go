package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/carefront/platform/internal/shared/errors"
)

// CodeResourceConflict identifies a commit that lost a resource race
const CodeResourceConflict = "RESOURCE_CONFLICT"

// SlotConflict is one slot that failed re-validation at commit time
type SlotConflict struct {
	Slot       Slot
	ResourceID string
	Reason     string
}

// ResourceConflict builds the error returned when slots fail re-validation
func ResourceConflict(conflicts ...SlotConflict) *errors.AppError {
	details := make(map[string]string, len(conflicts))
	parts := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		details[string(c.Slot)] = c.ResourceID
		parts = append(parts, fmt.Sprintf("%s %s %s", c.Slot, c.ResourceID, c.Reason))
	}
	sort.Strings(parts)
	return errors.ConflictWithDetails(
		CodeResourceConflict,
		"resources no longer available: "+strings.Join(parts, "; "),
		details,
	)
}

// IsResourceConflict reports whether err is a resource conflict
func IsResourceConflict(err error) bool {
	appErr, ok := errors.As(err)
	return ok && appErr.Code == CodeResourceConflict
}
