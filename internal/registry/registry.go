// Package registry maps connection ids to the metadata needed to reach them.
//
// Every backend is safe for concurrent use. Register is last-write-wins and
// Unregister of an unknown id is a no-op, so a late disconnect never fails.
package registry

import (
	"context"
	"errors"

	"recipes/internal/domain"
)

// ErrInvalidID is returned for an empty connection id.
var ErrInvalidID = errors.New("registry: connection id is required")

// Registry is the shared lookup used by gateways to publish live connections
// and by the relay to find them at delivery time.
type Registry interface {
	Register(ctx context.Context, id string, meta domain.Metadata) error
	Unregister(ctx context.Context, id string) error
	Lookup(ctx context.Context, id string) (domain.Metadata, bool, error)
}

// Refresher is implemented by registries whose entries expire. Refresh
// restarts the entry's lifetime and reports false when it no longer exists.
type Refresher interface {
	Refresh(ctx context.Context, id string) (bool, error)
}
