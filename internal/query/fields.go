package query

import (
	"strconv"
	"strings"
	"time"

	"deptdocs/core/internal/domain"
)

type FieldKind int

const (
	KindString FieldKind = iota
	KindNumber
	KindDate
	KindTags
)

// Field describes one filterable and sortable document attribute.
type Field struct {
	Name string
	Kind FieldKind
	// Column is the SQL expression used by the reference server.
	Column string
	str    func(domain.Document) string
	num    func(domain.Document) (int64, bool)
	date   func(domain.Document) time.Time
	tags   func(domain.Document) []string
}

var fields = map[string]Field{
	"id": {Name: "id", Kind: KindNumber, Column: "d.id",
		num: func(d domain.Document) (int64, bool) { return d.ID, true }},
	"title": {Name: "title", Kind: KindString, Column: "d.title",
		str: func(d domain.Document) string { return d.Title }},
	"description": {Name: "description", Kind: KindString, Column: "d.description",
		str: func(d domain.Document) string { return d.Description }},
	"content": {Name: "content", Kind: KindString, Column: "d.content",
		str: func(d domain.Document) string { return d.Content }},
	"status": {Name: "status", Kind: KindString, Column: "d.status",
		str: func(d domain.Document) string { return string(d.Status) }},
	"tags": {Name: "tags", Kind: KindTags, Column: "d.tags",
		tags: func(d domain.Document) []string { return d.Tags }},
	"departmentId": {Name: "departmentId", Kind: KindNumber, Column: "d.department_id",
		num: func(d domain.Document) (int64, bool) { return optional(d.DepartmentID) }},
	"categoryId": {Name: "categoryId", Kind: KindNumber, Column: "d.category_id",
		num: func(d domain.Document) (int64, bool) { return optional(d.CategoryID) }},
	"createdBy": {Name: "createdBy", Kind: KindNumber, Column: "d.created_by",
		num: func(d domain.Document) (int64, bool) { return d.CreatedBy, true }},
	"createdAt": {Name: "createdAt", Kind: KindDate, Column: "d.created_at",
		date: func(d domain.Document) time.Time { return d.CreatedAt }},
	"updatedAt": {Name: "updatedAt", Kind: KindDate, Column: "d.updated_at",
		date: func(d domain.Document) time.Time { return d.UpdatedAt }},
}

func optional(v *int64) (int64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Lookup returns the field registered under name. Lookups also accept the
// snake_case spelling ("department_id") used by some callers.
func Lookup(name string) (Field, bool) {
	if f, ok := fields[name]; ok {
		return f, true
	}
	f, ok := fields[snakeToCamel(name)]
	return f, ok
}

// FieldNames lists every registered field.
func FieldNames() []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	return names
}

func snakeToCamel(name string) string {
	parts := strings.Split(name, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}

// NullValue is the filter value that matches an absent reference with eq.
const NullValue = "null"

// ParseDate accepts RFC3339 (with or without fractional seconds) and plain
// calendar dates. The second result reports whether the value was a date
// without a time component.
func ParseDate(value string) (time.Time, bool, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, false, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func parseNumber(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
