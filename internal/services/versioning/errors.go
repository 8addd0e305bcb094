package versioning

import (
	"errors"
	"fmt"

	"github.com/asakaida/chronicle/internal/entities"
	"github.com/asakaida/chronicle/internal/repositories"
)

// Error kinds, carried as Error.Kind
var (
	ErrReadOnlyVersion           = errors.New("read-only version")
	ErrValidation                = errors.New("validation failed")
	ErrStore                     = errors.New("store error")
	ErrConcurrentVersionConflict = errors.New("concurrent version conflict")
	ErrNotVersioned              = errors.New("entity type is not versioned")
	ErrUnknownEntityType         = errors.New("unknown entity type")
	ErrUnknownRelationship       = errors.New("unknown relationship")
	ErrNotPersisted              = errors.New("record is not persisted")
)

// Error is the failure of one engine operation
type Error struct {
	Op     string // Engine operation (e.g., "new_version")
	Kind   error  // One of the Err* kinds above
	Record string // Record the operation was applied to, as Record.String
	Err    error  // Underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Record, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind error, r *entities.Record, err error) *Error {
	e := &Error{Op: op, Kind: kind, Err: err}
	if r != nil {
		e.Record = r.String()
	}
	return e
}

// storeError classifies a repository failure
func storeError(op string, r *entities.Record, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, repositories.ErrUniqueViolation) {
		return newError(op, ErrConcurrentVersionConflict, r, err)
	}
	return newError(op, ErrStore, r, err)
}

// KindName returns a short label of the error kind, used as a metrics label
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrReadOnlyVersion):
		return "read_only"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConcurrentVersionConflict):
		return "conflict"
	case errors.Is(err, ErrNotVersioned):
		return "not_versioned"
	case errors.Is(err, ErrUnknownEntityType), errors.Is(err, ErrUnknownRelationship):
		return "unknown"
	case errors.Is(err, ErrNotPersisted):
		return "not_persisted"
	default:
		return "store"
	}
}

// IsRetryable reports whether rebuilding from the lineage's current version may succeed
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentVersionConflict) || errors.Is(err, ErrReadOnlyVersion)
}
