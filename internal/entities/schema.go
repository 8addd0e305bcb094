package entities

import (
	"fmt"
	"sort"
)

// Rule represents a validation rule attached to an entity type
// Example: name "title_present", expression "has(record.title)"
type Rule struct {
	Name       string
	Expression string // CEL expression, must evaluate to bool
	Message    string // Reported when the expression evaluates to false
}

// EntityType represents one declared entity type
type EntityType struct {
	Name          string          // Entity type name (e.g., "document")
	Versioned     bool            // Rows of this type form version lineages
	Relationships []*Relationship // Declared relationships, in declaration order
	Rules         []*Rule         // Validation rules
}

// GetRelationship returns the relationship by name
func (e *EntityType) GetRelationship(name string) *Relationship {
	for _, r := range e.Relationships {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Schema is the immutable table of entity types, built once at startup
type Schema struct {
	types map[string]*EntityType
	names []string
}

// NewSchema validates the entity types and builds a schema.
// The descriptors are copied, later changes to the arguments are not observed.
func NewSchema(types ...*EntityType) (*Schema, error) {
	s := &Schema{types: make(map[string]*EntityType, len(types))}

	for _, t := range types {
		if t == nil || t.Name == "" {
			return nil, fmt.Errorf("entity type name is required")
		}
		if _, exists := s.types[t.Name]; exists {
			return nil, fmt.Errorf("duplicate entity type %q", t.Name)
		}
		s.types[t.Name] = copyEntityType(t)
		s.names = append(s.names, t.Name)
	}
	sort.Strings(s.names)

	for _, name := range s.names {
		if err := s.validateType(s.types[name]); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func copyEntityType(t *EntityType) *EntityType {
	c := &EntityType{Name: t.Name, Versioned: t.Versioned}
	for _, r := range t.Relationships {
		rel := *r
		c.Relationships = append(c.Relationships, &rel)
	}
	for _, r := range t.Rules {
		rule := *r
		c.Rules = append(c.Rules, &rule)
	}
	return c
}

func (s *Schema) validateType(t *EntityType) error {
	seen := make(map[string]bool, len(t.Relationships))
	for _, rel := range t.Relationships {
		if err := rel.Validate(); err != nil {
			return fmt.Errorf("entity type %q: %w", t.Name, err)
		}
		if seen[rel.Name] {
			return fmt.Errorf("entity type %q: duplicate relationship %q", t.Name, rel.Name)
		}
		seen[rel.Name] = true

		if s.types[rel.Target] == nil {
			return fmt.Errorf("entity type %q: relationship %q targets unknown entity type %q", t.Name, rel.Name, rel.Target)
		}
		if rel.CascadeDestroy && !s.types[rel.Target].Versioned {
			return fmt.Errorf("entity type %q: relationship %q cascades destroy to unversioned type %q", t.Name, rel.Name, rel.Target)
		}
	}

	joins := make(map[string]string)
	for _, rel := range t.Relationships {
		if !rel.IsThrough() {
			continue
		}
		if other, taken := joins[rel.Through]; taken {
			return fmt.Errorf("entity type %q: relationships %q and %q go through the same relationship %q", t.Name, other, rel.Name, rel.Through)
		}
		joins[rel.Through] = rel.Name

		join := t.GetRelationship(rel.Through)
		if join == nil {
			return fmt.Errorf("entity type %q: relationship %q goes through undeclared relationship %q", t.Name, rel.Name, rel.Through)
		}
		if join.IsThrough() || join.Cardinality != ToMany {
			return fmt.Errorf("entity type %q: relationship %q must go through a direct to_many relationship", t.Name, rel.Name)
		}
		if s.types[join.Target].Versioned {
			return fmt.Errorf("entity type %q: join entity type %q of %q must not be versioned", t.Name, join.Target, rel.Name)
		}
	}

	for _, rule := range t.Rules {
		if rule.Name == "" || rule.Expression == "" {
			return fmt.Errorf("entity type %q: rule name and expression are required", t.Name)
		}
	}

	return nil
}

// GetEntityType returns the entity type by name
func (s *Schema) GetEntityType(name string) *EntityType {
	return s.types[name]
}

// IsVersioned reports whether the named entity type participates in versioning
func (s *Schema) IsVersioned(name string) bool {
	t := s.types[name]
	return t != nil && t.Versioned
}

// EntityTypeNames returns all entity type names in sorted order
func (s *Schema) EntityTypeNames() []string {
	names := make([]string, len(s.names))
	copy(names, s.names)
	return names
}
