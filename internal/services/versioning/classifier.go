package versioning

import (
	"fmt"
	"sync"

	"github.com/asakaida/chronicle/internal/entities"
	"github.com/asakaida/chronicle/pkg/cache/memorycache"
)

// Class is the versioning classification of a relationship
type Class int

const (
	Unversioned Class = iota
	Versioned
	Ignored
	ThroughTarget
)

func (c Class) String() string {
	switch c {
	case Versioned:
		return "versioned"
	case Ignored:
		return "ignored"
	case ThroughTarget:
		return "through_target"
	default:
		return "unversioned"
	}
}

// Classification is the outcome of classifying one relationship
type Classification struct {
	Relationship *entities.Relationship
	Class        Class

	// CascadeOnCopy: a new owner version builds new versions of the related records
	CascadeOnCopy bool
	// UnversionedHistory: the join rows of a through relationship are not versioned, only the target is
	UnversionedHistory bool
}

// Plan is the classification of every relationship of one entity type,
// shadows included, plus the relationships the builder copies.
type Plan struct {
	EntityType *entities.EntityType

	classifications map[string]*Classification
	names           []string

	// Copy lists the relationships copied into a new version, in declaration order
	Copy []*Classification
	// CascadeDestroy lists the relationships a soft deletion propagates through
	CascadeDestroy []*Classification
}

// Get returns the classification of a relationship, shadows included
func (p *Plan) Get(name string) (*Classification, bool) {
	c, ok := p.classifications[name]
	return c, ok
}

// Names returns every classified relationship name, declared ones first
func (p *Plan) Names() []string {
	names := make([]string, len(p.names))
	copy(names, p.names)
	return names
}

// Classifier builds and caches the Plan of each entity type
type Classifier struct {
	mu     sync.RWMutex
	schema *entities.Schema
	plans  *memorycache.Cache[*Plan]
}

// NewClassifier creates a classifier over schema. cacheBytes bounds the plan cache, 0 disables the bound.
func NewClassifier(schema *entities.Schema, cacheBytes int64) *Classifier {
	return &Classifier{
		schema: schema,
		plans: memorycache.New(memorycache.Config[*Plan]{
			MaxSizeBytes: cacheBytes,
			Sizer:        planSize,
		}),
	}
}

func planSize(key string, p *Plan) int64 {
	return int64(memorycache.DefaultEntrySize*(len(p.classifications)+1) + len(key))
}

// Schema returns the schema the classifier currently works on
func (c *Classifier) Schema() *entities.Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schema
}

// Cache returns the plan cache, exposed for metrics
func (c *Classifier) Cache() *memorycache.Cache[*Plan] {
	return c.plans
}

// Reset swaps the schema and drops every cached plan
func (c *Classifier) Reset(schema *entities.Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schema = schema
	c.plans.Clear()
}

// Plan returns the plan of an entity type, building it on first use
func (c *Classifier) Plan(entityType string) (*Plan, error) {
	if p, ok := c.plans.Get(entityType); ok {
		return p, nil
	}

	c.mu.RLock()
	schema := c.schema
	c.mu.RUnlock()

	t := schema.GetEntityType(entityType)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}

	p := buildPlan(schema, t)
	c.plans.Set(entityType, p)
	return p, nil
}

// Classify returns the classification of one relationship of an entity type
func (c *Classifier) Classify(entityType, relationship string) (*Classification, error) {
	p, err := c.Plan(entityType)
	if err != nil {
		return nil, err
	}
	cl, ok := p.Get(relationship)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownRelationship, entityType, relationship)
	}
	return cl, nil
}

func buildPlan(schema *entities.Schema, t *entities.EntityType) *Plan {
	p := &Plan{
		EntityType:      t,
		classifications: make(map[string]*Classification, len(t.Relationships)*2),
	}

	joins := make(map[string]bool)
	for _, rel := range t.Relationships {
		if rel.IsThrough() {
			joins[rel.Through] = true
		}
	}

	var shadows []*Classification
	for _, rel := range t.Relationships {
		cl := classify(schema, rel, joins)
		p.classifications[rel.Name] = cl
		p.names = append(p.names, rel.Name)

		if cl.Class == Versioned {
			shadows = append(shadows, &Classification{Relationship: rel.Shadow(), Class: Ignored})
		}
		if rel.Cardinality == entities.ToMany && cl.Class != Ignored && cl.Class != ThroughTarget {
			p.Copy = append(p.Copy, cl)
		}
		if rel.CascadeDestroy {
			p.CascadeDestroy = append(p.CascadeDestroy, cl)
		}
	}

	for _, s := range shadows {
		p.classifications[s.Relationship.Name] = s
		p.names = append(p.names, s.Relationship.Name)
	}

	return p
}

func classify(schema *entities.Schema, rel *entities.Relationship, joins map[string]bool) *Classification {
	cl := &Classification{Relationship: rel}
	targetVersioned := schema.IsVersioned(rel.Target)

	switch {
	case rel.Policy == entities.PolicyIgnored || rel.IsShadow():
		cl.Class = Ignored
	case joins[rel.Name]:
		cl.Class = ThroughTarget
	case rel.Policy == entities.PolicyVersioned:
		cl.Class = Versioned
	case rel.Cardinality == entities.ToMany && targetVersioned:
		cl.Class = Versioned
	default:
		cl.Class = Unversioned
	}

	if cl.Class == Versioned {
		cl.CascadeOnCopy = !rel.IsThrough() && targetVersioned
		cl.UnversionedHistory = rel.IsThrough()
	}
	return cl
}
