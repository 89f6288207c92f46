package store

import "github.com/cuemby/fetch/pkg/types"

// Store defines the interface for the engine's persisted state: tasks,
// resources, sources, and destinations. SQLiteStore is the sqlite-backed
// implementation.
type Store interface {
	// NewTask inserts a task row stamped with the current time and
	// returns its id.
	NewTask() (string, error)

	// FindResourceByGlob glob-matches res.name, for update/remove.
	FindResourceByGlob(pattern string) ([]*types.Resource, error)

	// FindResource looks up res by exact name, for create.
	FindResource(name string) (*types.Resource, error)

	// GetResource looks up res by id.
	GetResource(id string) (*types.Resource, error)

	// UpsertResource inserts a new res row, or — when ref is non-nil —
	// updates only the columns whose new value is non-empty and differs
	// from ref. Returns the resulting resource id.
	UpsertResource(taskID, resourceID string, name string, action types.Action, arguments string, ref *types.Resource) (string, error)

	// DeleteResource deletes the res row. Callers are responsible for
	// deleting destinations/sources from disk first; the row cascade
	// only covers the store side.
	DeleteResource(id string) error

	// UpsertSource inserts a new src row, or — when ref is non-nil —
	// updates only the columns whose new value is non-empty/non-zero and
	// differs from ref. Returns the resulting source id.
	UpsertSource(taskID, resourceID, sourceID, name, revision string, size int64, ref *types.Source) (string, error)

	// FindSource looks up a src row by (res_id, name), the front-guard
	// lookup used to decide whether an update can be skipped.
	FindSource(resourceID, name string) (*types.Source, error)

	// DeleteSource deletes the src row. Cascades to its dst rows.
	DeleteSource(id string) error

	// SourcesByResource lists every src row for a resource.
	SourcesByResource(resourceID string) ([]*types.Source, error)

	// UpsertDestination inserts a new dst row, or — when ref is non-nil —
	// updates only the columns whose new value differs from ref. Returns
	// the resulting destination id.
	UpsertDestination(taskID, resourceID, sourceID string, d *types.Destination, ref *types.Destination) (string, error)

	// DeleteDestination deletes the dst row (does not touch the
	// filesystem).
	DeleteDestination(id string) error

	// DestinationsByPath looks up the dst row(s) claiming a path. At most
	// one should ever exist per the path-uniqueness invariant.
	DestinationsByPath(path string) ([]*types.Destination, error)

	// DestinationsBySource lists every dst row for a source.
	DestinationsBySource(sourceID string) ([]*types.Destination, error)

	Close() error
}
