package versioning

import (
	"context"

	"github.com/asakaida/chronicle/internal/entities"
)

// Destroy records the soft deletion of record's lineage as a new version tagged
// destroy and rebinds record to it. Cascade-destroy relationships get destroy
// versions in the same transaction. Destroying a destroyed lineage is a no-op.
func (e *Engine) Destroy(ctx context.Context, record *entities.Record) error {
	destroy := entities.VersionTypeDestroy
	return e.transition(ctx, "destroy", record, func(current *entities.Record) bool {
		return !current.VersionType.IsDestroy()
	}, func(*entities.Record) *Overrides {
		return &Overrides{VersionType: &destroy}
	}, &Overrides{VersionType: &destroy})
}

// Restore undoes a soft deletion with a new normal version. Cascade-destroy
// relationships whose current version is destroyed are restored with it.
// Restoring a live lineage is a no-op.
func (e *Engine) Restore(ctx context.Context, record *entities.Record) error {
	normal := entities.VersionTypeNormal
	return e.transition(ctx, "restore", record, func(current *entities.Record) bool {
		return current.VersionType.IsDestroy()
	}, func(related *entities.Record) *Overrides {
		if !related.VersionType.IsDestroy() {
			return nil
		}
		return &Overrides{VersionType: &normal}
	}, &Overrides{VersionType: &normal})
}

func (e *Engine) transition(ctx context.Context, op string, record *entities.Record, applies func(*entities.Record) bool, cascade cascadeFunc, o *Overrides) error {
	if _, err := e.versionedPlan(op, record); err != nil {
		return err
	}
	if record.IsNew() {
		return newError(op, ErrNotPersisted, record, nil)
	}

	latest, err := isLatest(ctx, e.repo, record)
	if err != nil {
		return storeError(op, record, err)
	}
	if !latest {
		return newError(op, ErrReadOnlyVersion, record, nil)
	}

	stored, err := e.repo.Find(ctx, record.ID)
	if err != nil {
		return storeError(op, record, err)
	}
	if !applies(stored) {
		return nil
	}

	b := e.newBuilder(op)
	b.cascade = cascade
	cand, err := b.version(ctx, record, o, 0, true)
	if err != nil {
		return err
	}
	persisted, err := e.commit(ctx, op, cand)
	if err != nil {
		return err
	}

	*record = *persisted
	return nil
}

// IsDestroyed reports whether the current version of record's lineage is a soft deletion
func (e *Engine) IsDestroyed(ctx context.Context, record *entities.Record) (bool, error) {
	if _, err := e.versionedPlan("is_destroyed", record); err != nil {
		return false, err
	}
	if record.IsNew() {
		return false, nil
	}

	current, err := currentOf(ctx, e.repo, record)
	if err != nil {
		return false, storeError("is_destroyed", record, err)
	}
	return current != nil && current.VersionType.IsDestroy(), nil
}
