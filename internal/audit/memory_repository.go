package audit

import (
	"context"
	"sync"

	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/types"
)

// MemoryRepository keeps the audit chain in process memory for mock mode
type MemoryRepository struct {
	mu       sync.RWMutex
	entries  []*AuditEntry
	lastHash string
}

// NewMemoryRepository creates an empty in-memory audit log
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Initialize is a no-op; the chain starts empty
func (r *MemoryRepository) Initialize(ctx context.Context) error {
	return nil
}

// Append links and stores a copy of entry
func (r *MemoryRepository) Append(ctx context.Context, entry *AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.Sequence = int64(len(r.entries)) + 1
	entry.PrevHash = r.lastHash
	entry.Hash = entry.calculateHash()

	stored := *entry
	r.entries = append(r.entries, &stored)
	r.lastHash = entry.Hash
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id types.ID) (*AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, errors.NotFound("audit entry", id.String())
}

func (r *MemoryRepository) List(ctx context.Context, filter ListEntriesFilter) ([]*AuditEntry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*AuditEntry
	for i := range r.entries {
		e := r.entries[i]
		if !filter.Ascending {
			e = r.entries[len(r.entries)-1-i]
		}
		if filter.matches(e) {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	return page(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (r *MemoryRepository) GetByResource(ctx context.Context, resourceType string, resourceID types.ID, limit int) ([]*AuditEntry, error) {
	entries, _, err := r.List(ctx, ListEntriesFilter{
		ResourceType: resourceType,
		ResourceID:   &resourceID,
		Limit:        limit,
		Ascending:    true,
	})
	return entries, err
}

func (r *MemoryRepository) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error) {
	entries, _, err := r.List(ctx, ListEntriesFilter{Limit: clampVerifyLimit(limit)})
	if err != nil {
		return nil, err
	}
	return verifyEntries(entries, includeDetails), nil
}

func (r *MemoryRepository) GetLastHash() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastHash
}

func (r *MemoryRepository) GetSequence() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.entries))
}

func (r *MemoryRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries), nil
}

// page applies offset and limit; a limit <= 0 means no limit
func page(entries []*AuditEntry, offset, limit int) []*AuditEntry {
	if offset > 0 {
		if offset >= len(entries) {
			return []*AuditEntry{}
		}
		entries = entries[offset:]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func clampVerifyLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
