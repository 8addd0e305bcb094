package repositories

import "github.com/asakaida/chronicle/internal/entities"

// Order defines the order of query results
type Order int

const (
	OrderIDAsc Order = iota
	OrderVersionAsc
	OrderVersionDesc
)

// Condition is a filter term of a Query. The concrete types below are the supported terms.
type Condition interface {
	condition()
}

// IDIn matches rows whose ID is one of IDs. An empty list matches nothing.
type IDIn struct {
	IDs []int64
}

// LineageIs matches the rows of one lineage
type LineageIs struct {
	LineageID int64
}

// VersionTypeIs matches rows by version type, or excludes them when Negate is set
type VersionTypeIs struct {
	Type   entities.VersionType
	Negate bool
}

// VersionBefore matches rows whose version is strictly less than Version
type VersionBefore struct {
	Version int
}

// VersionAfter matches rows whose version is strictly greater than Version
type VersionAfter struct {
	Version int
}

// RefIs matches rows holding ref Name pointing at TargetID
type RefIs struct {
	Name     string
	TargetID int64
}

// AttrIs matches rows whose attribute Name renders as the text Value
type AttrIs struct {
	Name  string
	Value string
}

// ReferencedBy matches rows pointed at by ref Ref of the rows selected by From
// Example: companies referenced by "company" of the join rows of project 4
type ReferencedBy struct {
	Ref  string
	From Query
}

// SameLineageAs matches rows sharing a lineage with any row selected by From
type SameLineageAs struct {
	From Query
}

func (IDIn) condition()          {}
func (LineageIs) condition()     {}
func (VersionTypeIs) condition() {}
func (VersionBefore) condition() {}
func (VersionAfter) condition()  {}
func (RefIs) condition()         {}
func (AttrIs) condition()        {}
func (ReferencedBy) condition()  {}
func (SameLineageAs) condition() {}

// Query selects rows of one entity type.
// Query is a value: every builder method returns a modified copy and never shares
// condition storage with the receiver.
type Query struct {
	EntityType string
	Conditions []Condition

	// Latest keeps only rows with no higher version of the same lineage in Universe
	Latest bool
	// Universe scopes the latest-version comparison, nil means the entire table
	Universe *Query

	Order Order
	Limit int // 0 means no limit
}

// NewQuery creates a query over all rows of an entity type
func NewQuery(entityType string) Query {
	return Query{EntityType: entityType}
}

// Where returns a copy of the query narrowed by the conditions
func (q Query) Where(conds ...Condition) Query {
	merged := make([]Condition, 0, len(q.Conditions)+len(conds))
	merged = append(merged, q.Conditions...)
	merged = append(merged, conds...)
	q.Conditions = merged
	return q
}

// LatestVersions returns a copy resolved against the entire table
func (q Query) LatestVersions() Query {
	q.Latest = true
	q.Universe = nil
	return q
}

// LatestWithin returns a copy resolved against the given universe of versions
func (q Query) LatestWithin(universe Query) Query {
	q.Latest = true
	q.Universe = &universe
	return q
}

// OrderBy returns a copy with the given result order
func (q Query) OrderBy(o Order) Query {
	q.Order = o
	return q
}

// Take returns a copy limited to n rows
func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}
