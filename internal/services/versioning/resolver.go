package versioning

import (
	"context"

	"github.com/asakaida/chronicle/internal/entities"
	"github.com/asakaida/chronicle/internal/repositories"
)

// Latest keeps the rows of q that are the highest version of their lineage in the whole table
func Latest(q repositories.Query) repositories.Query {
	return q.LatestVersions()
}

// LatestWithin keeps the rows of q that are the highest version of their lineage among universe.
// Used to resolve what a historical owner version saw, rather than what is current today.
func LatestWithin(q, universe repositories.Query) repositories.Query {
	return q.LatestWithin(universe)
}

// AllVersionsOf selects every row of the record's lineage
func AllVersionsOf(r *entities.Record) repositories.Query {
	return repositories.NewQuery(r.EntityType).Where(repositories.LineageIs{LineageID: r.LineageID})
}

// Destroyed keeps soft-deletion versions
func Destroyed(q repositories.Query) repositories.Query {
	return q.Where(repositories.VersionTypeIs{Type: entities.VersionTypeDestroy})
}

// NotDestroyed drops soft-deletion versions
func NotDestroyed(q repositories.Query) repositories.Query {
	return q.Where(repositories.VersionTypeIs{Type: entities.VersionTypeDestroy, Negate: true})
}

// isLatest reports whether the persisted row r survives the resolver over the whole table.
// Rows of unversioned types have no lineage and always survive.
func isLatest(ctx context.Context, repo repositories.RecordRepository, r *entities.Record) (bool, error) {
	if r.IsNew() {
		return false, nil
	}
	q := repositories.NewQuery(r.EntityType).Where(repositories.IDIn{IDs: []int64{r.ID}})
	n, err := repo.Count(ctx, Latest(q))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// currentOf returns the latest row of the record's lineage, or nil if it has none
func currentOf(ctx context.Context, repo repositories.RecordRepository, r *entities.Record) (*entities.Record, error) {
	records, err := repo.Query(ctx, Latest(AllVersionsOf(r)).Take(1))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}
