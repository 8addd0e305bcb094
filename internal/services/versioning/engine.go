package versioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/asakaida/chronicle/internal/entities"
	"github.com/asakaida/chronicle/internal/repositories"
)

// DefaultConflictRetries is the number of attempts made by UpdateWithRetry
const DefaultConflictRetries = 3

// Validator checks a row before it is inserted
type Validator interface {
	Validate(ctx context.Context, record *entities.Record) error
}

// Observer is notified of commit outcomes
type Observer interface {
	CommitSucceeded(entityType string, rows int)
	CommitFailed(entityType, kind string)
}

type nopObserver struct{}

func (nopObserver) CommitSucceeded(string, int) {}
func (nopObserver) CommitFailed(string, string) {}

// Engine builds, commits and navigates record versions over a RecordRepository.
// It is safe for concurrent use; coordination between writers is left to the
// store's transactions and the (lineage_id, version) unique index.
type Engine struct {
	repo       repositories.RecordRepository
	classifier *Classifier
	validator  Validator
	observer   Observer
	logger     zerolog.Logger
	retries    int
}

type options struct {
	validator  Validator
	observer   Observer
	logger     zerolog.Logger
	retries    int
	cacheBytes int64
}

// Option configures an Engine
type Option func(*options)

// WithValidator sets the validator run on every inserted row
func WithValidator(v Validator) Option {
	return func(o *options) { o.validator = v }
}

// WithObserver sets the commit observer
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger sets the engine logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithConflictRetries sets the attempts made by UpdateWithRetry
func WithConflictRetries(n int) Option {
	return func(o *options) { o.retries = n }
}

// WithPlanCacheBytes bounds the classifier plan cache
func WithPlanCacheBytes(n int64) Option {
	return func(o *options) { o.cacheBytes = n }
}

// NewEngine creates an engine over schema and repo
func NewEngine(schema *entities.Schema, repo repositories.RecordRepository, opts ...Option) *Engine {
	o := &options{
		observer: nopObserver{},
		logger:   zerolog.Nop(),
		retries:  DefaultConflictRetries,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retries < 1 {
		o.retries = 1
	}

	return &Engine{
		repo:       repo,
		classifier: NewClassifier(schema, o.cacheBytes),
		validator:  o.validator,
		observer:   o.observer,
		logger:     o.logger,
		retries:    o.retries,
	}
}

// Classifier returns the relationship classifier of the engine
func (e *Engine) Classifier() *Classifier {
	return e.classifier
}

// Schema returns the schema the engine works on
func (e *Engine) Schema() *entities.Schema {
	return e.classifier.Schema()
}

// versionedPlan returns the plan of r's entity type, which must be versioned
func (e *Engine) versionedPlan(op string, r *entities.Record) (*Plan, error) {
	p, err := e.classifier.Plan(r.EntityType)
	if err != nil {
		return nil, newError(op, ErrUnknownEntityType, r, nil)
	}
	if !p.EntityType.Versioned {
		return nil, newError(op, ErrNotVersioned, r, nil)
	}
	return p, nil
}

// Find retrieves one row by ID
func (e *Engine) Find(ctx context.Context, id int64) (*entities.Record, error) {
	r, err := e.repo.Find(ctx, id)
	if err != nil {
		return nil, storeError("find", nil, err)
	}
	return r, nil
}

// Query retrieves the rows matching q
func (e *Engine) Query(ctx context.Context, q repositories.Query) ([]*entities.Record, error) {
	records, err := e.repo.Query(ctx, q)
	if err != nil {
		return nil, storeError("query", nil, err)
	}
	return records, nil
}

// IsLatest reports whether r is the current version of its lineage.
// Never saved records are not; rows of unversioned types always are.
func (e *Engine) IsLatest(ctx context.Context, r *entities.Record) (bool, error) {
	ok, err := isLatest(ctx, e.repo, r)
	if err != nil {
		return false, storeError("is_latest", r, err)
	}
	return ok, nil
}

// Snapshot returns a detached copy of the in-memory state of r
func (e *Engine) Snapshot(r *entities.Record) *entities.Record {
	return r.Clone()
}

// NewVersion builds and commits the next version of record.
// record itself is left untouched and keeps pointing at its own row.
func (e *Engine) NewVersion(ctx context.Context, record *entities.Record, overrides *Overrides) (*entities.Record, error) {
	b := e.newBuilder("new_version")
	cand, err := b.version(ctx, record, overrides, 0, false)
	if err != nil {
		return nil, err
	}
	return e.commit(ctx, "new_version", cand)
}

// Create saves a new record of entityType with the given attributes
func (e *Engine) Create(ctx context.Context, entityType string, attributes map[string]interface{}) (*entities.Record, error) {
	r := entities.NewRecord(entityType, attributes)
	if _, err := e.Save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Save persists the in-memory state of record and rebinds it to the persisted row.
// Versioned types get a new version, unversioned types are updated in place.
// On failure record is left unchanged.
func (e *Engine) Save(ctx context.Context, record *entities.Record) (*entities.Record, error) {
	t := e.classifier.Schema().GetEntityType(record.EntityType)
	if t == nil {
		return nil, newError("save", ErrUnknownEntityType, record, nil)
	}

	var persisted *entities.Record
	var err error
	if t.Versioned {
		persisted, err = e.saveVersion(ctx, "save", record, nil)
	} else {
		persisted, err = e.saveInPlace(ctx, record)
	}
	if err != nil {
		return nil, err
	}

	*record = *persisted
	return record, nil
}

func (e *Engine) saveVersion(ctx context.Context, op string, record *entities.Record, o *Overrides) (*entities.Record, error) {
	cand, err := e.newBuilder(op).version(ctx, record, o, 0, false)
	if err != nil {
		return nil, err
	}
	return e.commit(ctx, op, cand)
}

func (e *Engine) saveInPlace(ctx context.Context, record *entities.Record) (*entities.Record, error) {
	if record.IsNew() {
		return e.commit(ctx, "save", &Candidate{Record: record.Clone()})
	}

	var persisted *entities.Record
	err := e.repo.WithTransaction(ctx, func(ctx context.Context, tx repositories.RecordRepository) error {
		if e.validator != nil {
			if err := e.validator.Validate(ctx, record); err != nil {
				return newError("save", ErrValidation, record, err)
			}
		}

		stored, err := tx.Find(ctx, record.ID)
		if err != nil {
			return storeError("save", record, err)
		}

		err = tx.UpdateColumns(ctx, record.ID, map[string]interface{}{
			repositories.ColumnAttributes:  record.Attributes,
			repositories.ColumnVersionType: record.VersionType,
		})
		if err != nil {
			return storeError("save", record, err)
		}

		names := append(stored.RefNames(), record.RefNames()...)
		for _, name := range names {
			want, _ := record.Ref(name)
			if have, _ := stored.Ref(name); have == want {
				continue
			}
			if err := tx.UpdateRef(ctx, record.ID, name, want); err != nil {
				return storeError("save", record, err)
			}
		}

		persisted, err = tx.Find(ctx, record.ID)
		if err != nil {
			return storeError("save", record, err)
		}
		return nil
	})
	if err != nil {
		var engineErr *Error
		if !errors.As(err, &engineErr) {
			err = newError("save", ErrStore, record, err)
		}
		e.observer.CommitFailed(record.EntityType, KindName(err))
		return nil, err
	}

	e.observer.CommitSucceeded(record.EntityType, 1)
	return persisted, nil
}

// BecomeCurrent rebinds record to the latest row of its lineage without creating a version
func (e *Engine) BecomeCurrent(ctx context.Context, record *entities.Record) (*entities.Record, error) {
	if record.IsNew() {
		return nil, newError("become_current", ErrNotPersisted, record, nil)
	}

	var current *entities.Record
	var err error
	if e.classifier.Schema().IsVersioned(record.EntityType) {
		current, err = currentOf(ctx, e.repo, record)
	} else {
		current, err = e.repo.Find(ctx, record.ID)
	}
	if err != nil {
		return nil, storeError("become_current", record, err)
	}
	if current == nil {
		return nil, newError("become_current", ErrStore, record, fmt.Errorf("lineage %d: %w", record.LineageID, repositories.ErrNotFound))
	}

	*record = *current
	return record, nil
}

// UpdateWithRetry applies mutate to a new version of record and saves it.
// When another writer advanced the lineage first, record is rebound to the
// new current version and the update is retried.
func (e *Engine) UpdateWithRetry(ctx context.Context, record *entities.Record, mutate func(*entities.Record) error) (*entities.Record, error) {
	for attempt := 1; ; attempt++ {
		persisted, err := e.saveVersion(ctx, "update", record, &Overrides{Mutate: mutate})
		if err == nil {
			*record = *persisted
			return record, nil
		}
		if !IsRetryable(err) || attempt >= e.retries {
			return nil, err
		}

		e.logger.Warn().Err(err).Str("record", record.String()).Int("attempt", attempt).Msg("retrying update on the current version")
		if _, err := e.BecomeCurrent(ctx, record); err != nil {
			return nil, err
		}
	}
}
