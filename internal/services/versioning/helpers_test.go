package versioning

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asakaida/chronicle/internal/entities"
	"github.com/asakaida/chronicle/internal/repositories"
	"github.com/asakaida/chronicle/internal/repositories/sqlstore"
)

// project
//
//	documents         -> document (cascade destroy)
//	milestones        -> milestone
//	notes             -> note (unversioned)
//	project_companies -> project_company (unversioned join)
//	companies         -> company through project_companies
//	drafts            -> document (ignored)
//
// document
//
//	summary  -> summary (to_one, cascade destroy)
//	comments -> comment (cascade destroy)
func testSchema(t *testing.T) *entities.Schema {
	t.Helper()

	schema, err := entities.NewSchema(
		&entities.EntityType{
			Name:      "project",
			Versioned: true,
			Relationships: []*entities.Relationship{
				{Name: "documents", Target: "document", Cardinality: entities.ToMany, Directness: entities.Direct, ForeignKey: "project", CascadeDestroy: true},
				{Name: "milestones", Target: "milestone", Cardinality: entities.ToMany, Directness: entities.Direct, ForeignKey: "project"},
				{Name: "notes", Target: "note", Cardinality: entities.ToMany, Directness: entities.Direct, ForeignKey: "project"},
				{Name: "project_companies", Target: "project_company", Cardinality: entities.ToMany, Directness: entities.Direct, ForeignKey: "project"},
				{Name: "companies", Target: "company", Cardinality: entities.ToMany, Directness: entities.Through, Through: "project_companies", Source: "company"},
				{Name: "drafts", Target: "document", Cardinality: entities.ToMany, Directness: entities.Direct, ForeignKey: "project", Policy: entities.PolicyIgnored},
			},
		},
		&entities.EntityType{
			Name:      "document",
			Versioned: true,
			Relationships: []*entities.Relationship{
				{Name: "summary", Target: "summary", Cardinality: entities.ToOne, Directness: entities.Direct, ForeignKey: "document", CascadeDestroy: true},
				{Name: "comments", Target: "comment", Cardinality: entities.ToMany, Directness: entities.Direct, ForeignKey: "document", CascadeDestroy: true},
			},
		},
		&entities.EntityType{Name: "summary", Versioned: true},
		&entities.EntityType{Name: "comment", Versioned: true},
		&entities.EntityType{Name: "milestone", Versioned: true},
		&entities.EntityType{Name: "company", Versioned: true},
		&entities.EntityType{Name: "note"},
		&entities.EntityType{Name: "project_company"},
	)
	require.NoError(t, err)
	return schema
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, repositories.RecordRepository) {
	t.Helper()
	repo := sqlstore.SetupTestStore(t)
	return NewEngine(testSchema(t), repo, opts...), repo
}

func create(t *testing.T, e *Engine, entityType string, attrs map[string]interface{}) *entities.Record {
	t.Helper()
	r, err := e.Create(context.Background(), entityType, attrs)
	require.NoError(t, err)
	return r
}

func link(t *testing.T, e *Engine, owner *entities.Record, name string, target *entities.Record) *entities.Record {
	t.Helper()
	a, err := e.Association(owner, name)
	require.NoError(t, err)
	require.NoError(t, a.Link(context.Background(), target))
	return target
}

func related(t *testing.T, e *Engine, owner *entities.Record, name string) []*entities.Record {
	t.Helper()
	a, err := e.Association(owner, name)
	require.NoError(t, err)
	records, err := a.All(context.Background())
	require.NoError(t, err)
	return records
}

func countRows(t *testing.T, repo repositories.RecordRepository, entityType string) int {
	t.Helper()
	n, err := repo.Count(context.Background(), repositories.NewQuery(entityType))
	require.NoError(t, err)
	return n
}

func recordIDs(records []*entities.Record) []int64 {
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

// countingRepo counts UpdateColumns calls
type countingRepo struct {
	repositories.RecordRepository
	updates int
}

func (r *countingRepo) UpdateColumns(ctx context.Context, id int64, columns map[string]interface{}) error {
	r.updates++
	return r.RecordRepository.UpdateColumns(ctx, id, columns)
}

// conflictRepo fails the next *failures inserts with a unique violation
type conflictRepo struct {
	repositories.RecordRepository
	failures *int
}

func newConflictRepo(repo repositories.RecordRepository, failures int) *conflictRepo {
	return &conflictRepo{RecordRepository: repo, failures: &failures}
}

func (r *conflictRepo) Insert(ctx context.Context, record *entities.Record) (int64, error) {
	if *r.failures > 0 {
		*r.failures--
		return 0, fmt.Errorf("failed to insert record: %w", repositories.ErrUniqueViolation)
	}
	return r.RecordRepository.Insert(ctx, record)
}

func (r *conflictRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, repo repositories.RecordRepository) error) error {
	return r.RecordRepository.WithTransaction(ctx, func(ctx context.Context, tx repositories.RecordRepository) error {
		return fn(ctx, &conflictRepo{RecordRepository: tx, failures: r.failures})
	})
}

// rejectValidator fails rows of one entity type
type rejectValidator struct {
	entityType string
}

func (v rejectValidator) Validate(_ context.Context, r *entities.Record) error {
	if r.EntityType == v.entityType {
		return &entities.ValidationError{EntityType: r.EntityType, Rule: "reject", Message: "rejected"}
	}
	return nil
}
