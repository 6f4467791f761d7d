package recorder

import (
	"context"

	"github.com/openventio/ventcore/internal/engine"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, snapshot *engine.Snapshot) error
	Close() error
}

// Repository defines the interface for snapshot storage
type Repository interface {
	Record(snapshot *engine.Snapshot) error
	Close() error
}
