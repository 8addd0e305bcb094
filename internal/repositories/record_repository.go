package repositories

import (
	"context"
	"errors"

	"github.com/asakaida/chronicle/internal/entities"
)

var (
	// ErrNotFound is returned when no row matches
	ErrNotFound = errors.New("record not found")

	// ErrUniqueViolation is returned when an insert collides with a unique constraint,
	// most importantly the (lineage_id, version) index
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// Column names accepted by UpdateColumns
const (
	ColumnLineageID   = "lineage_id"
	ColumnVersionType = "version_type"
	ColumnAttributes  = "attributes"
)

// RecordRepository defines the backing store collaborator of the versioning engine
type RecordRepository interface {
	// Insert persists a new row together with its refs and returns the assigned ID
	Insert(ctx context.Context, record *entities.Record) (int64, error)

	// UpdateColumns updates the given columns of an existing row in place
	// Only ColumnLineageID, ColumnVersionType and ColumnAttributes are accepted
	UpdateColumns(ctx context.Context, id int64, columns map[string]interface{}) error

	// UpdateRef sets (targetID > 0) or clears (targetID == 0) one ref of an existing row
	UpdateRef(ctx context.Context, id int64, name string, targetID int64) error

	// Find retrieves one row by ID
	Find(ctx context.Context, id int64) (*entities.Record, error)

	// Query retrieves the rows matching the query
	Query(ctx context.Context, q Query) ([]*entities.Record, error)

	// Count returns the number of rows matching the query
	Count(ctx context.Context, q Query) (int, error)

	// WithTransaction runs fn inside one all-or-nothing transaction
	// fn receives a repository bound to the transaction. Nested calls join the outer transaction.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, repo RecordRepository) error) error
}
