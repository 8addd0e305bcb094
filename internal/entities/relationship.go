package entities

import (
	"fmt"
	"strings"
)

// ShadowSuffix names the all-versions relationship registered next to every versioned one
// Example: "documents" -> "documents_versions"
const ShadowSuffix = "_versions"

// Cardinality is the number of target rows a relationship may hold
type Cardinality string

const (
	ToOne  Cardinality = "to_one"
	ToMany Cardinality = "to_many"
)

// Directness tells whether a relationship is stored on the target rows or through join rows
type Directness string

const (
	Direct  Directness = "direct"
	Through Directness = "through"
)

// Policy overrides the default versioning classification of a relationship
type Policy string

const (
	PolicyAuto      Policy = ""
	PolicyVersioned Policy = "versioned"
	PolicyIgnored   Policy = "ignored"
)

// Relationship represents one declared relationship of an entity type
// Direct example: project.documents, target document rows hold ref "project" -> project row
// Through example: project.companies through project.project_companies, join rows hold ref "company"
type Relationship struct {
	Name           string      // Relationship name (e.g., "documents")
	Target         string      // Target entity type (e.g., "document")
	Cardinality    Cardinality // to_one or to_many
	Directness     Directness  // direct or through
	ForeignKey     string      // Direct: ref on target rows pointing at the owner row
	Through        string      // Through: owner's direct relationship to the join entity type
	Source         string      // Through: ref on join rows pointing at the target row
	Policy         Policy      // Classification override
	CascadeDestroy bool        // Direct only: soft deletion propagates to related lineages
}

// IsThrough reports whether the relationship is mediated by join rows
func (r *Relationship) IsThrough() bool {
	return r.Directness == Through
}

// IsShadow reports whether the relationship is an all-versions shadow
func (r *Relationship) IsShadow() bool {
	return strings.HasSuffix(r.Name, ShadowSuffix)
}

// ShadowName returns the name of the all-versions shadow for this relationship
func (r *Relationship) ShadowName() string {
	return r.Name + ShadowSuffix
}

// Shadow returns the all-versions copy of the relationship
func (r *Relationship) Shadow() *Relationship {
	s := *r
	s.Name = r.ShadowName()
	s.Policy = PolicyIgnored
	s.CascadeDestroy = false
	return &s
}

// Validate checks the descriptor in isolation. Cross references are checked by NewSchema.
func (r *Relationship) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("relationship name is required")
	}
	if r.IsShadow() {
		return fmt.Errorf("relationship name %q uses the reserved suffix %q", r.Name, ShadowSuffix)
	}
	if r.Target == "" {
		return fmt.Errorf("relationship %q: target entity type is required", r.Name)
	}
	switch r.Cardinality {
	case ToOne, ToMany:
	default:
		return fmt.Errorf("relationship %q: invalid cardinality %q", r.Name, r.Cardinality)
	}
	switch r.Policy {
	case PolicyAuto, PolicyVersioned, PolicyIgnored:
	default:
		return fmt.Errorf("relationship %q: invalid policy %q", r.Name, r.Policy)
	}
	switch r.Directness {
	case Direct:
		if r.ForeignKey == "" {
			return fmt.Errorf("relationship %q: foreign key is required for direct relationships", r.Name)
		}
	case Through:
		if r.Through == "" || r.Source == "" {
			return fmt.Errorf("relationship %q: through and source are required for through relationships", r.Name)
		}
		if r.Cardinality != ToMany {
			return fmt.Errorf("relationship %q: through relationships must be to_many", r.Name)
		}
		if r.CascadeDestroy {
			return fmt.Errorf("relationship %q: cascade_destroy is only supported on direct relationships", r.Name)
		}
	default:
		return fmt.Errorf("relationship %q: invalid directness %q", r.Name, r.Directness)
	}
	return nil
}
