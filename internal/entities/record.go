package entities

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// VersionType tags a version row. The empty tag marks an ordinary version.
type VersionType string

const (
	VersionTypeNormal  VersionType = ""
	VersionTypeDestroy VersionType = "destroy"
)

// IsDestroy reports whether the tag marks a soft deletion
func (vt VersionType) IsDestroy() bool {
	return vt == VersionTypeDestroy
}

// Record represents one version of one logical entity
// Example: document#12 (lineage 10, version 3)
// Rows of unversioned entity types use the same shape with LineageID 0 and Version 0.
type Record struct {
	ID          int64                  // Row primary key, 0 until persisted
	EntityType  string                 // Declared entity type (e.g., "document")
	LineageID   int64                  // ID of the first version of the lineage, 0 until attached
	Version     int                    // 0 for a never saved record, 1 for the first persisted version
	VersionType VersionType            // Ordinary or soft-deletion version
	Attributes  map[string]interface{} // Business attributes
	Refs        map[string]int64       // Outgoing references held by this row (e.g., "project" -> 4)
	CreatedAt   time.Time
}

// NewRecord creates an unsaved record of the given entity type
func NewRecord(entityType string, attributes map[string]interface{}) *Record {
	r := &Record{
		EntityType: entityType,
		Attributes: make(map[string]interface{}, len(attributes)),
		Refs:       make(map[string]int64),
	}
	for k, v := range attributes {
		r.Attributes[k] = v
	}
	return r
}

// IsNew reports whether the record has never been persisted
func (r *Record) IsNew() bool {
	return r.ID == 0
}

// Get returns the value of a business attribute, or nil if unset
func (r *Record) Get(name string) interface{} {
	if r.Attributes == nil {
		return nil
	}
	return r.Attributes[name]
}

// Set assigns a business attribute in memory
func (r *Record) Set(name string, value interface{}) {
	if r.Attributes == nil {
		r.Attributes = make(map[string]interface{})
	}
	r.Attributes[name] = value
}

// Ref returns the target row ID of a reference and whether it is set
func (r *Record) Ref(name string) (int64, bool) {
	if r.Refs == nil {
		return 0, false
	}
	id, ok := r.Refs[name]
	return id, ok
}

// SetRef assigns a reference in memory. A zero target clears it.
func (r *Record) SetRef(name string, targetID int64) {
	if targetID == 0 {
		delete(r.Refs, name)
		return
	}
	if r.Refs == nil {
		r.Refs = make(map[string]int64)
	}
	r.Refs[name] = targetID
}

// Clone returns a detached deep copy of the record's in-memory state.
// Nested maps and slices inside attribute values are copied as well.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Attributes = make(map[string]interface{}, len(r.Attributes))
	for k, v := range r.Attributes {
		c.Attributes[k] = cloneValue(v)
	}
	c.Refs = make(map[string]int64, len(r.Refs))
	for k, v := range r.Refs {
		c.Refs[k] = v
	}
	return &c
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[k] = cloneValue(item)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(val))
		for i, item := range val {
			s[i] = cloneValue(item)
		}
		return s
	default:
		return v
	}
}

// String returns a string representation of the record
// Format: entity_type#id (lineage N v M[, destroy])
func (r *Record) String() string {
	if r.IsNew() {
		return fmt.Sprintf("%s#new (v%d)", r.EntityType, r.Version)
	}
	if r.VersionType != VersionTypeNormal {
		return fmt.Sprintf("%s#%d (lineage %d v%d, %s)", r.EntityType, r.ID, r.LineageID, r.Version, r.VersionType)
	}
	return fmt.Sprintf("%s#%d (lineage %d v%d)", r.EntityType, r.ID, r.LineageID, r.Version)
}

// RefNames returns the names of the set references in sorted order
func (r *Record) RefNames() []string {
	names := make([]string, 0, len(r.Refs))
	for name := range r.Refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks if the record is structurally valid
func (r *Record) Validate() error {
	if r.EntityType == "" {
		return fmt.Errorf("entity type is required")
	}
	if r.Version < 0 {
		return fmt.Errorf("version must not be negative, got %d", r.Version)
	}
	if r.LineageID < 0 || r.ID < 0 {
		return fmt.Errorf("ids must not be negative")
	}
	for name, target := range r.Refs {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("reference name is required")
		}
		if target <= 0 {
			return fmt.Errorf("reference %q must point at a persisted row", name)
		}
	}
	return nil
}
