// Package pool serves consistent views of the staff and bed roster.
package pool

import (
	"context"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/shared/lock"
)

// Snapshotter is the part of the record store the provider reads
type Snapshotter interface {
	Snapshot(ctx context.Context) (domain.Pool, error)
}

// Provider reads the resource pool under the single-writer lock so a
// snapshot never observes a half-applied commit.
type Provider struct {
	store  Snapshotter
	locker lock.Locker
}

// NewProvider creates a provider. A nil locker reads without locking.
func NewProvider(store Snapshotter, locker lock.Locker) *Provider {
	return &Provider{store: store, locker: locker}
}

// Snapshot returns every resource with its current availability
func (p *Provider) Snapshot(ctx context.Context) (domain.Pool, error) {
	if p.locker != nil {
		release, err := p.locker.Acquire(ctx)
		if err != nil {
			return domain.Pool{}, err
		}
		defer release()
	}
	return p.store.Snapshot(ctx)
}

// Available returns only the resources that can be assigned right now
func (p *Provider) Available(ctx context.Context) (domain.Pool, error) {
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return domain.Pool{}, err
	}
	return snap.OnlyAvailable(), nil
}
