// Package cache defines the persistent work-unit index that decides whether a unit of work
// must be redone, and the auto-cache gate built on it.
//
// A missing record means "never processed". A record whose key equals the expected
// composite key and whose Succeeded flag is true means "reusable, skip". Any other record
// (different key, or Succeeded=false) means the unit must be processed again.
package cache

import (
	"context"

	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
)

// Store is the cache table of one service instance.
type Store interface {
	// Lookup returns the record of unitID, or found=false.
	Lookup(ctx context.Context, unitID string) (status model.ProcessStatus, found bool, err error)
	// Commit writes the record of unitID, replacing any previous one.
	Commit(ctx context.Context, unitID, key string, succeeded bool) error
	// Delete removes the record of unitID. Deleting a missing record is not an error.
	Delete(ctx context.Context, unitID string) error
	// Clear removes every record of the table.
	Clear(ctx context.Context) error
	// Count returns the number of records.
	Count(ctx context.Context) (int, error)
	// All returns every record keyed by unit id.
	All(ctx context.Context) (map[string]model.ProcessStatus, error)
}

// Backend hands out one Store per namespace. Namespaces are isolated from each other.
type Backend interface {
	Namespace(name string) Store
	Close() error
}
