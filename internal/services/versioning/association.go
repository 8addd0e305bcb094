package versioning

import (
	"context"
	"fmt"

	"github.com/asakaida/chronicle/internal/entities"
	"github.com/asakaida/chronicle/internal/repositories"
)

// Association is a lazily evaluated view of the records related to one owner row
type Association struct {
	engine *Engine
	owner  *entities.Record
	plan   *Plan
	cl     *Classification
	conds  []repositories.Condition
}

// Association returns the view of relationship name of owner.
// Shadow "<name>_versions" relationships are accepted and read every related version.
func (e *Engine) Association(owner *entities.Record, name string) (*Association, error) {
	p, err := e.classifier.Plan(owner.EntityType)
	if err != nil {
		return nil, newError("association", ErrUnknownEntityType, owner, nil)
	}
	cl, ok := p.Get(name)
	if !ok {
		return nil, newError("association", ErrUnknownRelationship, owner, fmt.Errorf("relationship %q", name))
	}
	return &Association{engine: e, owner: owner, plan: p, cl: cl}, nil
}

// Classification returns the classification of the underlying relationship
func (a *Association) Classification() *Classification {
	return a.cl
}

// Where returns a copy of the view narrowed by conds
func (a *Association) Where(conds ...repositories.Condition) *Association {
	c := *a
	c.conds = make([]repositories.Condition, 0, len(a.conds)+len(conds))
	c.conds = append(c.conds, a.conds...)
	c.conds = append(c.conds, conds...)
	return &c
}

// raw selects every target row linked to this owner row, ignoring versions
func (a *Association) raw() repositories.Query {
	rel := a.cl.Relationship
	if a.owner.IsNew() {
		return repositories.NewQuery(rel.Target).Where(repositories.IDIn{})
	}
	if rel.IsThrough() {
		join := a.plan.EntityType.GetRelationship(rel.Through)
		return repositories.NewQuery(rel.Target).Where(repositories.ReferencedBy{
			Ref:  rel.Source,
			From: directQuery(a.owner, join),
		})
	}
	return directQuery(a.owner, rel)
}

// Query compiles the read. For versioned relationships a current owner sees the
// latest version of each related lineage, a historical owner sees the versions
// linked to that owner row.
func (a *Association) Query(ctx context.Context) (repositories.Query, error) {
	rel := a.cl.Relationship
	raw := a.raw()
	if a.cl.Class != Versioned || !a.engine.classifier.Schema().IsVersioned(rel.Target) {
		return raw.Where(a.conds...), nil
	}

	current := true
	if a.plan.EntityType.Versioned {
		var err error
		current, err = isLatest(ctx, a.engine.repo, a.owner)
		if err != nil {
			return repositories.Query{}, storeError("association", a.owner, err)
		}
	}

	switch {
	case a.owner.IsNew():
		return raw, nil
	case !current:
		return LatestWithin(raw.Where(a.conds...), raw), nil
	case rel.IsThrough():
		q := repositories.NewQuery(rel.Target).Where(repositories.SameLineageAs{From: raw})
		return Latest(q.Where(a.conds...)), nil
	default:
		return Latest(raw.Where(a.conds...)), nil
	}
}

// All returns the related records
func (a *Association) All(ctx context.Context) ([]*entities.Record, error) {
	q, err := a.Query(ctx)
	if err != nil {
		return nil, err
	}
	records, err := a.engine.repo.Query(ctx, q)
	if err != nil {
		return nil, storeError("association", a.owner, err)
	}
	return records, nil
}

// First returns the first related record, or nil if there is none
func (a *Association) First(ctx context.Context) (*entities.Record, error) {
	q, err := a.Query(ctx)
	if err != nil {
		return nil, err
	}
	records, err := a.engine.repo.Query(ctx, q.Take(1))
	if err != nil {
		return nil, storeError("association", a.owner, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Count returns the number of related records
func (a *Association) Count(ctx context.Context) (int, error) {
	q, err := a.Query(ctx)
	if err != nil {
		return 0, err
	}
	n, err := a.engine.repo.Count(ctx, q)
	if err != nil {
		return 0, storeError("association", a.owner, err)
	}
	return n, nil
}

// AllVersions returns every target row ever linked to this owner row
func (a *Association) AllVersions(ctx context.Context) ([]*entities.Record, error) {
	records, err := a.engine.repo.Query(ctx, a.raw().Where(a.conds...).OrderBy(repositories.OrderVersionAsc))
	if err != nil {
		return nil, storeError("association", a.owner, err)
	}
	return records, nil
}

// Link attaches target to the owner without creating a new owner version.
// A versioned target gets a new version pointing at the owner; target is rebound to the persisted row.
func (a *Association) Link(ctx context.Context, target *entities.Record) error {
	const op = "link"
	e := a.engine
	rel := a.cl.Relationship

	if a.owner.IsNew() {
		return newError(op, ErrNotPersisted, a.owner, nil)
	}
	if a.plan.EntityType.Versioned {
		latest, err := isLatest(ctx, e.repo, a.owner)
		if err != nil {
			return storeError(op, a.owner, err)
		}
		if !latest {
			return newError(op, ErrReadOnlyVersion, a.owner, nil)
		}
	}
	if a.cl.Class == ThroughTarget || rel.IsShadow() {
		return newError(op, ErrValidation, a.owner, fmt.Errorf("relationship %q cannot be linked", rel.Name))
	}
	if target == nil || target.EntityType != rel.Target {
		return newError(op, ErrValidation, a.owner, fmt.Errorf("relationship %q expects %s records", rel.Name, rel.Target))
	}

	if rel.IsThrough() {
		if target.IsNew() {
			return newError(op, ErrNotPersisted, target, nil)
		}
		join := a.plan.EntityType.GetRelationship(rel.Through)
		row := entities.NewRecord(join.Target, nil)
		row.SetRef(join.ForeignKey, a.owner.ID)
		row.SetRef(rel.Source, target.ID)
		_, err := e.commit(ctx, op, &Candidate{Record: row})
		return err
	}

	var persisted *entities.Record
	var err error
	switch {
	case e.classifier.Schema().IsVersioned(rel.Target):
		persisted, err = e.saveVersion(ctx, op, target, &Overrides{Refs: map[string]int64{rel.ForeignKey: a.owner.ID}})
	case target.IsNew():
		row := target.Clone()
		row.SetRef(rel.ForeignKey, a.owner.ID)
		persisted, err = e.commit(ctx, op, &Candidate{Record: row})
	default:
		if err := e.repo.UpdateRef(ctx, target.ID, rel.ForeignKey, a.owner.ID); err != nil {
			return storeError(op, target, err)
		}
		persisted, err = e.repo.Find(ctx, target.ID)
		if err != nil {
			return storeError(op, target, err)
		}
	}
	if err != nil {
		return err
	}

	*target = *persisted
	return nil
}
