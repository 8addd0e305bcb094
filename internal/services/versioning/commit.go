package versioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/asakaida/chronicle/internal/entities"
	"github.com/asakaida/chronicle/internal/repositories"
)

// AttachLineage makes a persisted first row the head of its own lineage.
// It is a no-op when the lineage is already set.
func AttachLineage(ctx context.Context, repo repositories.RecordRepository, r *entities.Record) error {
	if r.LineageID != 0 {
		return nil
	}
	if r.IsNew() {
		return fmt.Errorf("failed to attach lineage: %w", ErrNotPersisted)
	}
	if err := repo.UpdateColumns(ctx, r.ID, map[string]interface{}{repositories.ColumnLineageID: r.ID}); err != nil {
		return fmt.Errorf("failed to attach lineage of %s: %w", r, err)
	}
	r.LineageID = r.ID
	return nil
}

// Commit persists a candidate and everything built with it in one transaction
// and returns the reloaded root row. On failure nothing is written and the
// candidate ids are cleared.
func (e *Engine) Commit(ctx context.Context, cand *Candidate) (*entities.Record, error) {
	return e.commit(ctx, "commit", cand)
}

func (e *Engine) commit(ctx context.Context, op string, cand *Candidate) (*entities.Record, error) {
	log := e.logger.With().
		Str("commit_id", uuid.NewString()).
		Str("op", op).
		Str("entity_type", cand.Record.EntityType).
		Logger()

	var persisted *entities.Record
	err := e.repo.WithTransaction(ctx, func(ctx context.Context, tx repositories.RecordRepository) error {
		if err := e.commitCandidate(ctx, tx, &log, op, cand, 0); err != nil {
			return err
		}

		var err error
		persisted, err = tx.Find(ctx, cand.Record.ID)
		if err != nil {
			return storeError(op, cand.Record, err)
		}
		return nil
	})
	if err != nil {
		var engineErr *Error
		if !errors.As(err, &engineErr) {
			err = newError(op, ErrStore, cand.Record, err)
		}
		cand.reset()
		e.observer.CommitFailed(cand.Record.EntityType, KindName(err))
		log.Debug().Err(err).Msg("commit rolled back")
		return nil, err
	}

	rows := cand.Rows()
	e.observer.CommitSucceeded(cand.Record.EntityType, rows)
	log.Debug().Str("record", persisted.String()).Int("rows", rows).Msg("version committed")
	return persisted, nil
}

func (e *Engine) commitCandidate(ctx context.Context, tx repositories.RecordRepository, log *zerolog.Logger, op string, c *Candidate, parentID int64) error {
	rec := c.Record
	if c.parentRef != "" {
		rec.SetRef(c.parentRef, parentID)
	}

	// The lineage may have moved since Build
	if c.basis != nil {
		latest, err := isLatest(ctx, tx, c.basis)
		if err != nil {
			return storeError(op, c.basis, err)
		}
		if !latest {
			return newError(op, ErrReadOnlyVersion, c.basis, nil)
		}
	}

	if e.validator != nil {
		if err := e.validator.Validate(ctx, rec); err != nil {
			return newError(op, ErrValidation, rec, err)
		}
	}

	id, err := tx.Insert(ctx, rec)
	if err != nil {
		return storeError(op, rec, err)
	}
	rec.ID = id

	if e.classifier.Schema().IsVersioned(rec.EntityType) {
		c.attached = rec.LineageID == 0
		if err := AttachLineage(ctx, tx, rec); err != nil {
			return storeError(op, rec, err)
		}
	}

	for _, rp := range c.repoints {
		if err := tx.UpdateRef(ctx, rp.id, rp.foreignKey, id); err != nil {
			return storeError(op, rec, err)
		}
	}

	log.Debug().Str("record", rec.String()).Int("depth", c.depth).Msg("row inserted")

	for _, child := range c.children {
		if err := e.commitCandidate(ctx, tx, log, op, child, id); err != nil {
			return err
		}
	}
	return nil
}
