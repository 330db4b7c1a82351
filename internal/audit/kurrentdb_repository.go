package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/types"
)

const (
	// AuditStreamName is the stream where all audit entries are stored
	AuditStreamName = "carefront-audit"
	// AuditEventType is the event type for audit entries
	AuditEventType = "AuditEntry"

	maxStreamRead = 100000
)

// KurrentDBRepository provides append-only audit log operations using KurrentDB.
// KurrentDB is inherently append-only - events cannot be modified or deleted.
type KurrentDBRepository struct {
	client   *esdb.Client
	mu       sync.Mutex
	lastHash string
	sequence int64
}

// NewKurrentDBRepository creates a new KurrentDB-based audit repository
func NewKurrentDBRepository(client *esdb.Client) *KurrentDBRepository {
	return &KurrentDBRepository{client: client}
}

// isStreamNotFound reports a read of a stream nothing was appended to yet.
// esdb.FromError reports ok only for a nil error.
func isStreamNotFound(err error) bool {
	esdbErr, ok := esdb.FromError(err)
	return !ok && esdbErr.Code() == esdb.ErrorCodeResourceNotFound
}

// Initialize loads the last hash and sequence from KurrentDB
func (r *KurrentDBRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.read(ctx, esdb.Backwards, 1)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		r.lastHash = ""
		r.sequence = 0
		return nil
	}

	r.lastHash = entries[0].Hash
	r.sequence = entries[0].Sequence
	return nil
}

// read returns up to max audit entries in the given direction. A missing
// stream reads as empty.
func (r *KurrentDBRepository) read(ctx context.Context, dir esdb.Direction, max uint64) ([]*AuditEntry, error) {
	opts := esdb.ReadStreamOptions{Direction: dir, From: esdb.Start{}}
	if dir == esdb.Backwards {
		opts.From = esdb.End{}
	}

	stream, err := r.client.ReadStream(ctx, AuditStreamName, opts, max)
	if err != nil {
		if isStreamNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	var entries []*AuditEntry
	for {
		event, err := stream.Recv()
		if err != nil {
			if isStreamNotFound(err) {
				return nil, nil
			}
			// io.EOF or a cancelled context ends the read
			break
		}

		if event.Event == nil || event.Event.EventType != AuditEventType {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal(event.Event.Data, &entry); err == nil {
			entries = append(entries, &entry)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Append appends a new audit entry (thread-safe)
func (r *KurrentDBRepository) Append(ctx context.Context, entry *AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.Sequence = r.sequence + 1
	entry.PrevHash = r.lastHash
	entry.Hash = entry.ComputeHash()

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit entry")
	}

	eventData := esdb.EventData{
		EventID:     uuid.New(),
		EventType:   AuditEventType,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		Metadata: []byte(fmt.Sprintf(`{"sequence":%d,"hash":"%s"}`,
			entry.Sequence, entry.Hash)),
	}

	_, err = r.client.AppendToStream(ctx, AuditStreamName, esdb.AppendToStreamOptions{}, eventData)
	if err != nil {
		return errors.Wrap(err, "failed to append audit entry")
	}

	r.sequence = entry.Sequence
	r.lastHash = entry.Hash
	return nil
}

// FindByID scans the stream for an entry. Fine for the volumes a single
// ward produces; a projection would be needed beyond that.
func (r *KurrentDBRepository) FindByID(ctx context.Context, id types.ID) (*AuditEntry, error) {
	entries, err := r.read(ctx, esdb.Forwards, maxStreamRead)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, errors.NotFound("audit entry", id.String())
}

// List lists audit entries with filters
func (r *KurrentDBRepository) List(ctx context.Context, filter ListEntriesFilter) ([]*AuditEntry, int, error) {
	dir := esdb.Backwards
	if filter.Ascending {
		dir = esdb.Forwards
	}

	entries, err := r.read(ctx, dir, maxStreamRead)
	if err != nil {
		return nil, 0, err
	}

	matched := make([]*AuditEntry, 0, len(entries))
	for _, e := range entries {
		if filter.matches(e) {
			matched = append(matched, e)
		}
	}
	return page(matched, filter.Offset, filter.Limit), len(matched), nil
}

// GetByResource gets audit entries for a specific resource, oldest first
func (r *KurrentDBRepository) GetByResource(ctx context.Context, resourceType string, resourceID types.ID, limit int) ([]*AuditEntry, error) {
	entries, _, err := r.List(ctx, ListEntriesFilter{
		ResourceType: resourceType,
		ResourceID:   &resourceID,
		Limit:        limit,
		Ascending:    true,
	})
	return entries, err
}

// VerifyChain verifies the integrity of the newest part of the chain
func (r *KurrentDBRepository) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error) {
	entries, err := r.read(ctx, esdb.Backwards, uint64(clampVerifyLimit(limit)))
	if err != nil {
		return nil, err
	}
	return verifyEntries(entries, includeDetails), nil
}

// GetLastHash returns the last hash in the chain
func (r *KurrentDBRepository) GetLastHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHash
}

// GetSequence returns the current sequence number
func (r *KurrentDBRepository) GetSequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence
}

// Count returns the total number of audit entries
func (r *KurrentDBRepository) Count(ctx context.Context) (int, error) {
	entries, err := r.read(ctx, esdb.Forwards, maxStreamRead)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
