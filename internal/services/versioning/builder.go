package versioning

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/asakaida/chronicle/internal/entities"
	"github.com/asakaida/chronicle/internal/repositories"
)

// Overrides are applied onto a new version after the related records are copied
type Overrides struct {
	Attributes  map[string]interface{}
	Refs        map[string]int64 // A zero target clears the ref
	VersionType *entities.VersionType

	// Relationships replaces the related set of the named relationships.
	// Assigned relationships are not copied from the current version.
	Relationships map[string][]*entities.Record

	// Mutate runs last, on the candidate record. An error fails the build with ErrValidation.
	Mutate func(*entities.Record) error
}

type repoint struct {
	id         int64  // Existing row that moves to the new owner
	foreignKey string // Ref of that row pointing at the owner
}

// Candidate is an unpersisted version together with the rows committed with it
type Candidate struct {
	Record *entities.Record

	basis     *entities.Record // Version the candidate was built from, nil for new rows
	parentRef string           // Ref pointing at the parent candidate, set at commit
	children  []*Candidate
	repoints  []repoint
	depth     int
	cascading bool // Reached from the root through cascade-destroy relationships only
	attached  bool
}

// Basis returns the version the candidate was built from, or nil
func (c *Candidate) Basis() *entities.Record {
	return c.basis
}

// Children returns the candidates committed after this one and linked to it
func (c *Candidate) Children() []*Candidate {
	return c.children
}

// Rows returns the number of rows the candidate inserts
func (c *Candidate) Rows() int {
	n := 1
	for _, child := range c.children {
		n += child.Rows()
	}
	return n
}

func (c *Candidate) reset() {
	c.Record.ID = 0
	c.Record.CreatedAt = time.Time{}
	if c.attached {
		c.Record.LineageID = 0
		c.attached = false
	}
	for _, child := range c.children {
		child.reset()
	}
}

// cascadeFunc returns the overrides of a record reached through a cascade-destroy relationship, or nil
type cascadeFunc func(related *entities.Record) *Overrides

type builder struct {
	engine  *Engine
	repo    repositories.RecordRepository
	op      string
	seen    map[int64]bool
	cascade cascadeFunc
}

func (e *Engine) newBuilder(op string) *builder {
	return &builder{engine: e, repo: e.repo, op: op, seen: make(map[int64]bool)}
}

// Build constructs the next version of current without persisting anything.
// current must be new or the latest version of its lineage, and is left untouched.
func (e *Engine) Build(ctx context.Context, current *entities.Record, overrides *Overrides) (*Candidate, error) {
	return e.newBuilder("build").version(ctx, current, overrides, 0, false)
}

func (b *builder) version(ctx context.Context, current *entities.Record, o *Overrides, depth int, cascading bool) (*Candidate, error) {
	plan, err := b.engine.versionedPlan(b.op, current)
	if err != nil {
		return nil, err
	}

	if !current.IsNew() {
		if b.seen[current.ID] {
			return nil, nil
		}
		b.seen[current.ID] = true

		latest, err := isLatest(ctx, b.repo, current)
		if err != nil {
			return nil, storeError(b.op, current, err)
		}
		if !latest {
			return nil, newError(b.op, ErrReadOnlyVersion, current, nil)
		}
	}

	rec := current.Clone()
	rec.ID = 0
	rec.CreatedAt = time.Time{}
	rec.Version = current.Version + 1

	cand := &Candidate{Record: rec, depth: depth, cascading: cascading && b.cascade != nil}
	if !current.IsNew() {
		cand.basis = current
	}

	assigned := make(map[string]bool)
	if o != nil {
		for name := range o.Relationships {
			assigned[name] = true
		}
	}

	if !current.IsNew() {
		for _, cl := range plan.Copy {
			if assigned[cl.Relationship.Name] {
				continue
			}
			if err := b.copyRelationship(ctx, plan, cand, current, cl); err != nil {
				return nil, err
			}
		}
		if cand.cascading {
			if err := b.cascadeUncopied(ctx, cand, current, plan, assigned); err != nil {
				return nil, err
			}
		}
	}

	if err := b.apply(ctx, plan, cand, current, o); err != nil {
		return nil, err
	}

	b.engine.logger.Debug().
		Str("op", b.op).
		Str("record", current.String()).
		Int("version", rec.Version).
		Int("depth", depth).
		Int("children", len(cand.children)).
		Int("repoints", len(cand.repoints)).
		Msg("built version")

	return cand, nil
}

func (b *builder) copyRelationship(ctx context.Context, plan *Plan, cand *Candidate, current *entities.Record, cl *Classification) error {
	rel := cl.Relationship

	switch {
	case cl.CascadeOnCopy:
		related, err := b.repo.Query(ctx, directQuery(current, rel).LatestVersions())
		if err != nil {
			return storeError(b.op, current, err)
		}
		for _, r := range related {
			o, cascading := b.cascadeFor(cand, rel, r)
			if err := b.addChild(ctx, cand, r, rel, o, cascading); err != nil {
				return err
			}
		}

	case rel.IsThrough():
		return b.copyJoinRows(ctx, plan, cand, current, rel)

	default:
		related, err := b.repo.Query(ctx, directQuery(current, rel))
		if err != nil {
			return storeError(b.op, current, err)
		}
		for _, r := range related {
			cand.repoints = append(cand.repoints, repoint{id: r.ID, foreignKey: rel.ForeignKey})
		}
	}

	return nil
}

// cascadeUncopied applies the cascade to cascade-destroy relationships left out of the copy list
func (b *builder) cascadeUncopied(ctx context.Context, cand *Candidate, current *entities.Record, plan *Plan, assigned map[string]bool) error {
	for _, cl := range plan.CascadeDestroy {
		if assigned[cl.Relationship.Name] || (cl.CascadeOnCopy && cl.Relationship.Cardinality == entities.ToMany) {
			continue
		}
		related, err := b.repo.Query(ctx, directQuery(current, cl.Relationship).LatestVersions())
		if err != nil {
			return storeError(b.op, current, err)
		}
		for _, r := range related {
			if o := b.cascade(r); o != nil {
				if err := b.addChild(ctx, cand, r, cl.Relationship, o, true); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// cascadeFor returns the overrides of a related record copied into cand and whether the cascade continues below it
func (b *builder) cascadeFor(cand *Candidate, rel *entities.Relationship, related *entities.Record) (*Overrides, bool) {
	if !cand.cascading || !rel.CascadeDestroy {
		return nil, false
	}
	return b.cascade(related), true
}

func (b *builder) addChild(ctx context.Context, cand *Candidate, related *entities.Record, rel *entities.Relationship, o *Overrides, cascading bool) error {
	child, err := b.version(ctx, related, o, cand.depth+1, cascading)
	if err != nil {
		return err
	}
	if child == nil {
		return nil
	}
	child.parentRef = rel.ForeignKey
	cand.children = append(cand.children, child)
	return nil
}

// copyJoinRows duplicates the join rows of current for the new owner.
// Versioned targets are re-pointed at the latest version of their lineage.
func (b *builder) copyJoinRows(ctx context.Context, plan *Plan, cand *Candidate, current *entities.Record, rel *entities.Relationship) error {
	join := plan.EntityType.GetRelationship(rel.Through)
	rows, err := b.repo.Query(ctx, directQuery(current, join))
	if err != nil {
		return storeError(b.op, current, err)
	}
	if len(rows) == 0 {
		return nil
	}

	latest := make(map[int64]int64)
	if b.engine.classifier.Schema().IsVersioned(rel.Target) {
		latest, err = b.latestTargets(ctx, rel, rows)
		if err != nil {
			return storeError(b.op, current, err)
		}
	}

	for _, row := range rows {
		dup := row.Clone()
		dup.ID = 0
		dup.CreatedAt = time.Time{}
		if target, ok := dup.Ref(rel.Source); ok {
			if id, found := latest[target]; found {
				dup.SetRef(rel.Source, id)
			}
		}
		cand.children = append(cand.children, &Candidate{Record: dup, parentRef: join.ForeignKey, depth: cand.depth + 1})
	}
	return nil
}

// latestTargets maps each target row referenced by the join rows to the latest row of its lineage
func (b *builder) latestTargets(ctx context.Context, rel *entities.Relationship, rows []*entities.Record) (map[int64]int64, error) {
	var ids []int64
	for _, row := range rows {
		if id, ok := row.Ref(rel.Source); ok {
			ids = append(ids, id)
		}
	}

	referenced := repositories.NewQuery(rel.Target).Where(repositories.IDIn{IDs: ids})
	targets, err := b.repo.Query(ctx, referenced)
	if err != nil {
		return nil, err
	}
	current, err := b.repo.Query(ctx, repositories.NewQuery(rel.Target).
		Where(repositories.SameLineageAs{From: referenced}).
		LatestVersions())
	if err != nil {
		return nil, err
	}

	byLineage := make(map[int64]int64, len(current))
	for _, r := range current {
		byLineage[r.LineageID] = r.ID
	}
	latest := make(map[int64]int64, len(targets))
	for _, t := range targets {
		if id, ok := byLineage[t.LineageID]; ok {
			latest[t.ID] = id
		}
	}
	return latest, nil
}

func (b *builder) apply(ctx context.Context, plan *Plan, cand *Candidate, current *entities.Record, o *Overrides) error {
	if o == nil {
		return nil
	}
	rec := cand.Record

	for k, v := range o.Attributes {
		rec.Set(k, v)
	}
	for k, v := range o.Refs {
		rec.SetRef(k, v)
	}
	if o.VersionType != nil {
		rec.VersionType = *o.VersionType
	}

	names := make([]string, 0, len(o.Relationships))
	for name := range o.Relationships {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := b.assign(ctx, plan, cand, current, name, o.Relationships[name]); err != nil {
			return err
		}
	}

	if o.Mutate != nil {
		if err := o.Mutate(rec); err != nil {
			return newError(b.op, ErrValidation, current, err)
		}
	}
	return nil
}

func (b *builder) assign(ctx context.Context, plan *Plan, cand *Candidate, current *entities.Record, name string, records []*entities.Record) error {
	cl, ok := plan.Get(name)
	if !ok {
		return newError(b.op, ErrUnknownRelationship, current, fmt.Errorf("relationship %q", name))
	}
	rel := cl.Relationship
	if cl.Class == ThroughTarget || rel.IsShadow() {
		return newError(b.op, ErrValidation, current, fmt.Errorf("relationship %q cannot be assigned", name))
	}
	if rel.Cardinality == entities.ToOne && len(records) > 1 {
		return newError(b.op, ErrValidation, current, fmt.Errorf("relationship %q holds at most one record, got %d", name, len(records)))
	}

	targetVersioned := b.engine.classifier.Schema().IsVersioned(rel.Target)
	for _, r := range records {
		if r == nil || r.EntityType != rel.Target {
			return newError(b.op, ErrValidation, current, fmt.Errorf("relationship %q expects %s records", name, rel.Target))
		}

		switch {
		case rel.IsThrough():
			if r.IsNew() {
				return newError(b.op, ErrValidation, current, fmt.Errorf("relationship %q: %w", name, ErrNotPersisted))
			}
			join := plan.EntityType.GetRelationship(rel.Through)
			row := entities.NewRecord(join.Target, nil)
			row.SetRef(rel.Source, r.ID)
			cand.children = append(cand.children, &Candidate{Record: row, parentRef: join.ForeignKey, depth: cand.depth + 1})

		case targetVersioned:
			if err := b.addChild(ctx, cand, r, rel, nil, false); err != nil {
				return err
			}

		case r.IsNew():
			cand.children = append(cand.children, &Candidate{Record: r.Clone(), parentRef: rel.ForeignKey, depth: cand.depth + 1})

		default:
			cand.repoints = append(cand.repoints, repoint{id: r.ID, foreignKey: rel.ForeignKey})
		}
	}
	return nil
}

// directQuery selects the rows holding a ref to owner through a direct relationship
func directQuery(owner *entities.Record, rel *entities.Relationship) repositories.Query {
	return repositories.NewQuery(rel.Target).Where(repositories.RefIs{Name: rel.ForeignKey, TargetID: owner.ID})
}
