package versioning

import (
	"context"

	"github.com/asakaida/chronicle/internal/entities"
	"github.com/asakaida/chronicle/internal/repositories"
)

// Versions returns every version of record's lineage in ascending version order
func (e *Engine) Versions(ctx context.Context, record *entities.Record) ([]*entities.Record, error) {
	if _, err := e.versionedPlan("versions", record); err != nil {
		return nil, err
	}
	if record.IsNew() {
		return nil, nil
	}
	return e.navigate(ctx, "versions", record, AllVersionsOf(record).OrderBy(repositories.OrderVersionAsc))
}

// Previous returns the nearest version strictly before record, or nil at the start of the chain
func (e *Engine) Previous(ctx context.Context, record *entities.Record) (*entities.Record, error) {
	return e.neighbor(ctx, "previous", record, func(q repositories.Query) repositories.Query {
		return q.Where(repositories.VersionBefore{Version: record.Version}).OrderBy(repositories.OrderVersionDesc)
	})
}

// Next returns the nearest version strictly after record, or nil at the end of the chain
func (e *Engine) Next(ctx context.Context, record *entities.Record) (*entities.Record, error) {
	return e.neighbor(ctx, "next", record, func(q repositories.Query) repositories.Query {
		return q.Where(repositories.VersionAfter{Version: record.Version}).OrderBy(repositories.OrderVersionAsc)
	})
}

// FirstVersion returns the head of record's lineage
func (e *Engine) FirstVersion(ctx context.Context, record *entities.Record) (*entities.Record, error) {
	return e.neighbor(ctx, "first_version", record, func(q repositories.Query) repositories.Query {
		return q.OrderBy(repositories.OrderVersionAsc)
	})
}

// LatestVersion returns the current version of record's lineage
func (e *Engine) LatestVersion(ctx context.Context, record *entities.Record) (*entities.Record, error) {
	return e.neighbor(ctx, "latest_version", record, func(q repositories.Query) repositories.Query {
		return Latest(q)
	})
}

func (e *Engine) neighbor(ctx context.Context, op string, record *entities.Record, narrow func(repositories.Query) repositories.Query) (*entities.Record, error) {
	if _, err := e.versionedPlan(op, record); err != nil {
		return nil, err
	}
	if record.IsNew() {
		return nil, nil
	}

	records, err := e.navigate(ctx, op, record, narrow(AllVersionsOf(record)).Take(1))
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

func (e *Engine) navigate(ctx context.Context, op string, record *entities.Record, q repositories.Query) ([]*entities.Record, error) {
	records, err := e.repo.Query(ctx, q)
	if err != nil {
		return nil, storeError(op, record, err)
	}
	return records, nil
}
