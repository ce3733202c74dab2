// Package query filters, sorts and paginates document collections. The same
// Spec drives the in-memory engine and the parameters sent to a paginating
// remote, so both modes agree on semantics.
package query

import (
	"fmt"
	"strings"

	"deptdocs/core/internal/domain"
)

type Op string

const (
	OpContains Op = "contains"
	OpEq       Op = "eq"
	OpGt       Op = "gt"
	OpLt       Op = "lt"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	DefaultSortBy   = "title"
)

type Clause struct {
	Key   string `json:"key"`
	Op    Op     `json:"op"`
	Value string `json:"value"`
}

// Validate rejects unknown fields, unknown operators, blank values and values
// that cannot be compared with the field's kind.
func (c Clause) Validate() error {
	field, ok := Lookup(c.Key)
	if !ok {
		return domain.ValidationFailed(fmt.Sprintf("unknown filter field %q", c.Key), map[string]any{"key": c.Key})
	}
	switch c.Op {
	case OpContains, OpEq, OpGt, OpLt:
	default:
		return domain.ValidationFailed(fmt.Sprintf("unknown filter operator %q", c.Op), map[string]any{"op": c.Op})
	}
	value := strings.TrimSpace(c.Value)
	if value == "" {
		return domain.ValidationFailed("filter value is required", map[string]any{"key": c.Key})
	}
	switch field.Kind {
	case KindNumber:
		if c.Op == OpEq && value == NullValue {
			return nil
		}
		if c.Op == OpContains {
			return nil
		}
		if _, err := parseNumber(value); err != nil {
			return domain.ValidationFailed(fmt.Sprintf("%s expects a number", field.Name), map[string]any{"value": c.Value})
		}
	case KindDate:
		if c.Op == OpContains {
			return nil
		}
		if _, _, err := ParseDate(value); err != nil {
			return domain.ValidationFailed(fmt.Sprintf("%s expects a date", field.Name), map[string]any{"value": c.Value})
		}
	case KindTags:
		if c.Op == OpGt || c.Op == OpLt {
			return domain.ValidationFailed("tags support only contains and eq", map[string]any{"op": c.Op})
		}
	}
	return nil
}

// Spec is the transient description of a requested view. Every mutator
// returns a new Spec; any change other than WithPage resets Page to 1.
type Spec struct {
	Search   string    `json:"search"`
	Filters  []Clause  `json:"filters"`
	SortBy   string    `json:"sort_by"`
	Order    Direction `json:"order"`
	Page     int       `json:"page"`
	PageSize int       `json:"per_page"`
}

func NewSpec() Spec {
	return Spec{
		SortBy:   DefaultSortBy,
		Order:    Asc,
		Page:     1,
		PageSize: DefaultPageSize,
	}
}

func (s Spec) clone() Spec {
	next := s
	next.Filters = append([]Clause(nil), s.Filters...)
	return next
}

func (s Spec) reset() Spec {
	next := s.clone()
	next.Page = 1
	return next
}

func (s Spec) WithSearch(text string) Spec {
	next := s.reset()
	next.Search = text
	return next
}

// WithFilters replaces the clause list after validating every clause.
func (s Spec) WithFilters(clauses []Clause) (Spec, error) {
	for _, c := range clauses {
		if err := c.Validate(); err != nil {
			return s, err
		}
	}
	next := s.reset()
	next.Filters = append([]Clause(nil), clauses...)
	return next, nil
}

func (s Spec) AddFilter(c Clause) (Spec, error) {
	if err := c.Validate(); err != nil {
		return s, err
	}
	next := s.reset()
	next.Filters = append(next.Filters, c)
	return next, nil
}

// RemoveFilter drops the clause at index i. Out of range indexes leave the
// clauses alone but still reset the page.
func (s Spec) RemoveFilter(i int) Spec {
	next := s.reset()
	if i < 0 || i >= len(next.Filters) {
		return next
	}
	next.Filters = append(next.Filters[:i], next.Filters[i+1:]...)
	return next
}

func (s Spec) ClearFilters() Spec {
	next := s.reset()
	next.Filters = nil
	return next
}

// WithStatus is the status picker: it replaces any status clause with an eq
// clause for status, or removes it when status is empty.
func (s Spec) WithStatus(status domain.Status) Spec {
	return s.pick("status", OpEq, string(status))
}

// WithTag is the tag picker, analogous to WithStatus.
func (s Spec) WithTag(tag string) Spec {
	return s.pick("tags", OpEq, tag)
}

func (s Spec) pick(key string, op Op, value string) Spec {
	next := s.reset()
	kept := next.Filters[:0]
	for _, c := range next.Filters {
		if c.Key != key {
			kept = append(kept, c)
		}
	}
	next.Filters = kept
	if strings.TrimSpace(value) != "" {
		next.Filters = append(next.Filters, Clause{Key: key, Op: op, Value: value})
	}
	return next
}

func (s Spec) WithSort(field string, order Direction) (Spec, error) {
	if _, ok := Lookup(field); !ok {
		return s, domain.ValidationFailed(fmt.Sprintf("unknown sort field %q", field), nil)
	}
	if order != Asc && order != Desc {
		return s, domain.ValidationFailed(fmt.Sprintf("unknown sort order %q", order), nil)
	}
	next := s.reset()
	next.SortBy = field
	next.Order = order
	return next, nil
}

// ToggleSort flips the direction when field is already the sort field and
// otherwise sorts ascending by field.
func (s Spec) ToggleSort(field string) (Spec, error) {
	order := Asc
	if s.SortBy == field && s.Order == Asc {
		order = Desc
	}
	return s.WithSort(field, order)
}

func (s Spec) WithPageSize(size int) (Spec, error) {
	if size <= 0 || size > MaxPageSize {
		return s, domain.ValidationFailed(fmt.Sprintf("page size must be between 1 and %d", MaxPageSize), nil)
	}
	next := s.reset()
	next.PageSize = size
	return next, nil
}

// WithPage changes only the page number.
func (s Spec) WithPage(page int) Spec {
	next := s.clone()
	if page < 1 {
		page = 1
	}
	next.Page = page
	return next
}

// Validate checks a Spec that was built by hand or decoded from the wire.
func (s Spec) Validate() error {
	if s.Page < 1 {
		return domain.ValidationFailed("page must be at least 1", nil)
	}
	if s.PageSize <= 0 || s.PageSize > MaxPageSize {
		return domain.ValidationFailed(fmt.Sprintf("page size must be between 1 and %d", MaxPageSize), nil)
	}
	if s.SortBy != "" {
		if _, ok := Lookup(s.SortBy); !ok {
			return domain.ValidationFailed(fmt.Sprintf("unknown sort field %q", s.SortBy), nil)
		}
	}
	if s.Order != "" && s.Order != Asc && s.Order != Desc {
		return domain.ValidationFailed(fmt.Sprintf("unknown sort order %q", s.Order), nil)
	}
	for _, c := range s.Filters {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}
