package audit

import (
	"context"

	"github.com/carefront/platform/internal/shared/types"
)

// AuditRepository defines the interface for audit storage operations.
// The memory, PostgreSQL and KurrentDB implementations are selected by the
// audit backend setting.
type AuditRepository interface {
	// Initialize loads initial state (last hash, sequence)
	Initialize(ctx context.Context) error

	// Append links entry to the chain and stores it
	Append(ctx context.Context, entry *AuditEntry) error

	FindByID(ctx context.Context, id types.ID) (*AuditEntry, error)

	// List returns matching entries and the total before paging
	List(ctx context.Context, filter ListEntriesFilter) ([]*AuditEntry, int, error)

	// GetByResource gets audit entries for a specific resource, oldest first
	GetByResource(ctx context.Context, resourceType string, resourceID types.ID, limit int) ([]*AuditEntry, error)

	// VerifyChain verifies the newest limit entries of the chain
	VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error)

	GetLastHash() string
	GetSequence() int64

	Count(ctx context.Context) (int, error)
}

// Ensure implementations satisfy the interface
var (
	_ AuditRepository = (*MemoryRepository)(nil)
	_ AuditRepository = (*Repository)(nil)
	_ AuditRepository = (*KurrentDBRepository)(nil)
)
