// Package store persists versioned records. Every successful update increments the
// record version; an update based on an older version is rejected as a conflict.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one stored entity.
type Record struct {
	Kind      string
	Name      string
	Version   int64
	CreatedAt time.Time
	Data      json.RawMessage
}

// Store is a versioned record store.
type Store interface {
	// Get returns the record kind/name or a not found failure.
	Get(ctx context.Context, kind, name string) (Record, error)
	// List returns every record of kind ordered by name.
	List(ctx context.Context, kind string) ([]Record, error)
	// Create stores a new record at version 1 or fails with an already exists failure.
	Create(ctx context.Context, rec Record) (Record, error)
	// Update replaces the data of a record whose stored version equals rec.Version and
	// returns the record at its new version. A mismatch is a conflict failure.
	Update(ctx context.Context, rec Record) (Record, error)
}
