package store

import (
	"fmt"
	"strconv"
	"strings"

	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/query"
)

// sqlBuilder accumulates WHERE conditions and their positional arguments.
type sqlBuilder struct {
	conds []string
	args  []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *sqlBuilder) where() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// documentFilter translates scope, search text and clauses into SQL with the
// same semantics the in-memory engine applies: case-insensitive text,
// "null" matching an absent reference and date-only values matching the UTC
// calendar day.
func documentFilter(spec query.Spec, scope Scope) (*sqlBuilder, error) {
	b := &sqlBuilder{}
	if !scope.All {
		if len(scope.Departments) == 0 {
			b.conds = append(b.conds, "d.department_id IS NULL")
		} else {
			b.conds = append(b.conds, fmt.Sprintf("(d.department_id IS NULL OR d.department_id = ANY(%s))", b.arg(scope.Departments)))
		}
	}
	if search := strings.ToLower(strings.TrimSpace(spec.Search)); search != "" {
		p := b.arg(search)
		b.conds = append(b.conds, fmt.Sprintf("(strpos(lower(d.title), %s) > 0 OR strpos(lower(d.description), %s) > 0)", p, p))
	}
	for _, c := range spec.Filters {
		cond, err := clauseSQL(b, c)
		if err != nil {
			return nil, err
		}
		b.conds = append(b.conds, cond)
	}
	return b, nil
}

func clauseSQL(b *sqlBuilder, c query.Clause) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	field, _ := query.Lookup(c.Key)
	col := field.Column
	value := strings.TrimSpace(c.Value)

	switch field.Kind {
	case query.KindString:
		p := b.arg(strings.ToLower(value))
		switch c.Op {
		case query.OpContains:
			return fmt.Sprintf("strpos(lower(%s), %s) > 0", col, p), nil
		case query.OpEq:
			return fmt.Sprintf("lower(%s) = %s", col, p), nil
		case query.OpGt:
			return fmt.Sprintf(`lower(%s) COLLATE "C" > %s`, col, p), nil
		case query.OpLt:
			return fmt.Sprintf(`lower(%s) COLLATE "C" < %s`, col, p), nil
		}
	case query.KindNumber:
		if c.Op == query.OpEq && value == query.NullValue {
			return col + " IS NULL", nil
		}
		if c.Op == query.OpContains {
			return fmt.Sprintf("strpos(%s::text, %s) > 0", col, b.arg(value)), nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return "", domain.ValidationFailed("filter value must be a number", map[string]any{"key": c.Key, "value": c.Value})
		}
		return fmt.Sprintf("%s %s %s", col, comparator(c.Op), b.arg(n)), nil
	case query.KindDate:
		if c.Op == query.OpContains {
			return fmt.Sprintf(`strpos(to_char(%s AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"'), %s) > 0`, col, b.arg(value)), nil
		}
		t, dateOnly, err := query.ParseDate(value)
		if err != nil {
			return "", domain.ValidationFailed("filter value must be a date", map[string]any{"key": c.Key, "value": c.Value})
		}
		if dateOnly && c.Op == query.OpEq {
			return fmt.Sprintf("(%s AT TIME ZONE 'UTC')::date = %s::date", col, b.arg(t.Format("2006-01-02"))), nil
		}
		return fmt.Sprintf("%s %s %s", col, comparator(c.Op), b.arg(t)), nil
	case query.KindTags:
		p := b.arg(strings.ToLower(value))
		match := "lower(t.tag) = " + p
		if c.Op == query.OpContains {
			match = fmt.Sprintf("strpos(lower(t.tag), %s) > 0", p)
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(%s) AS t(tag) WHERE %s)", col, match), nil
	}
	return "", domain.ValidationFailed("unsupported filter", map[string]any{"key": c.Key, "op": c.Op})
}

func comparator(op query.Op) string {
	switch op {
	case query.OpGt:
		return ">"
	case query.OpLt:
		return "<"
	default:
		return "="
	}
}

// documentOrder mirrors query.Sort: the chosen field, absent references
// first when ascending, then id ascending in both directions.
func documentOrder(spec query.Spec) string {
	field, ok := query.Lookup(spec.SortBy)
	if !ok {
		return " ORDER BY d.id ASC"
	}
	dir := "ASC"
	if spec.Order == query.Desc {
		dir = "DESC"
	}
	var expr string
	switch field.Kind {
	case query.KindString:
		expr = fmt.Sprintf(`lower(%s) COLLATE "C" %s`, field.Column, dir)
	case query.KindNumber:
		nulls := "NULLS FIRST"
		if dir == "DESC" {
			nulls = "NULLS LAST"
		}
		expr = fmt.Sprintf("%s %s %s", field.Column, dir, nulls)
	case query.KindTags:
		expr = fmt.Sprintf(`lower(array_to_string(%s, ',')) COLLATE "C" %s`, field.Column, dir)
	default:
		expr = field.Column + " " + dir
	}
	if field.Column == "d.id" {
		return " ORDER BY " + expr
	}
	return " ORDER BY " + expr + ", d.id ASC"
}
