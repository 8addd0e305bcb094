package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/asakaida/chronicle/internal/repositories"
)

type projection int

const (
	projectRows projection = iota
	projectIDs
	projectVersions
	projectLineages
	projectCount
)

// compiler turns a repositories.Query into SQL.
// Arguments are bound in textual order so positional "?" markers line up with args.
type compiler struct {
	dialect Dialect
	args    []interface{}
	aliases int
	err     error
}

func newCompiler(dialect Dialect) *compiler {
	return &compiler{dialect: dialect}
}

// compileQuery compiles q as a top level statement
func compileQuery(dialect Dialect, q repositories.Query, p projection) (string, []interface{}, error) {
	c := newCompiler(dialect)
	query := c.compile(q, p, true)
	if c.err != nil {
		return "", nil, c.err
	}
	return query, c.args, nil
}

func (c *compiler) bind(v interface{}) string {
	c.args = append(c.args, v)
	return c.dialect.Placeholder(len(c.args))
}

func (c *compiler) alias(prefix string) string {
	a := prefix + strconv.Itoa(c.aliases)
	c.aliases++
	return a
}

func columns(a string, p projection) string {
	switch p {
	case projectIDs:
		return a + ".id"
	case projectVersions:
		return fmt.Sprintf("%s.id, %s.lineage_id, %s.version", a, a, a)
	case projectLineages:
		return a + ".lineage_id"
	case projectCount:
		return "COUNT(*)"
	default:
		return fmt.Sprintf("%s.id, %s.entity_type, %s.lineage_id, %s.version, %s.version_type, %s.attributes, %s.created_at",
			a, a, a, a, a, a, a)
	}
}

// compile renders the latest-version filter as a self anti-join:
// a row survives when no row of the universe shares its lineage with a higher version.
func (c *compiler) compile(q repositories.Query, p projection, top bool) string {
	if q.EntityType == "" {
		c.fail(fmt.Errorf("query entity type is required"))
	}

	a := c.alias("r")
	parts := []string{"SELECT", columns(a, p), "FROM records", a}

	var versions string
	if q.Latest {
		versions = c.alias("v")
		universe := "records"
		if q.Universe != nil {
			universe = "(" + c.compile(*q.Universe, projectVersions, false) + ")"
		}
		parts = append(parts, "LEFT JOIN", universe, versions, "ON",
			fmt.Sprintf("%s.lineage_id = %s.lineage_id AND %s.version < %s.version", versions, a, a, versions))
	}

	where := []string{a + ".entity_type = " + c.bind(q.EntityType)}
	for _, cond := range q.Conditions {
		where = append(where, c.condition(a, cond))
	}
	if q.Latest {
		where = append(where, versions+".id IS NULL")
	}
	parts = append(parts, "WHERE", strings.Join(where, " AND "))

	if top && p != projectCount {
		parts = append(parts, "ORDER BY", orderBy(a, q.Order))
	}
	if q.Limit > 0 {
		parts = append(parts, "LIMIT", strconv.Itoa(q.Limit))
	}

	return strings.Join(parts, " ")
}

func (c *compiler) condition(a string, cond repositories.Condition) string {
	switch cd := cond.(type) {
	case repositories.IDIn:
		if len(cd.IDs) == 0 {
			return "1 = 0"
		}
		marks := make([]string, len(cd.IDs))
		for i, id := range cd.IDs {
			marks[i] = c.bind(id)
		}
		return fmt.Sprintf("%s.id IN (%s)", a, strings.Join(marks, ", "))

	case repositories.LineageIs:
		return a + ".lineage_id = " + c.bind(cd.LineageID)

	case repositories.VersionTypeIs:
		op := "="
		if cd.Negate {
			op = "<>"
		}
		return fmt.Sprintf("%s.version_type %s %s", a, op, c.bind(string(cd.Type)))

	case repositories.VersionBefore:
		return a + ".version < " + c.bind(cd.Version)

	case repositories.VersionAfter:
		return a + ".version > " + c.bind(cd.Version)

	case repositories.RefIs:
		f := c.alias("f")
		name := c.bind(cd.Name)
		target := c.bind(cd.TargetID)
		return fmt.Sprintf("EXISTS (SELECT 1 FROM record_refs %s WHERE %s.record_id = %s.id AND %s.name = %s AND %s.target_id = %s)",
			f, f, a, f, name, f, target)

	case repositories.AttrIs:
		key := c.bind(cd.Name)
		value := c.bind(cd.Value)
		return c.dialect.AttributeText(a+".attributes", key) + " = " + value

	case repositories.ReferencedBy:
		f := c.alias("f")
		name := c.bind(cd.Ref)
		from := c.compile(cd.From, projectIDs, false)
		return fmt.Sprintf("%s.id IN (SELECT %s.target_id FROM record_refs %s WHERE %s.name = %s AND %s.record_id IN (%s))",
			a, f, f, f, name, f, from)

	case repositories.SameLineageAs:
		from := c.compile(cd.From, projectLineages, false)
		return fmt.Sprintf("%s.lineage_id IN (%s)", a, from)

	default:
		c.fail(fmt.Errorf("unsupported query condition %T", cond))
		return "1 = 0"
	}
}

func (c *compiler) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func orderBy(a string, o repositories.Order) string {
	switch o {
	case repositories.OrderVersionAsc:
		return fmt.Sprintf("%s.version ASC, %s.id ASC", a, a)
	case repositories.OrderVersionDesc:
		return fmt.Sprintf("%s.version DESC, %s.id DESC", a, a)
	default:
		return a + ".id ASC"
	}
}
