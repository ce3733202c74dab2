package query

import (
	"net/url"
	"strconv"
	"strings"

	"deptdocs/core/internal/domain"
)

// Values encodes the pagination and sort part of s as request query
// parameters. Filter clauses travel in the body; see Body.
func (s Spec) Values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(s.Page))
	v.Set("per_page", strconv.Itoa(s.PageSize))
	if s.SortBy != "" {
		v.Set("sort_by", s.SortBy)
	}
	if s.Order != "" {
		v.Set("order", string(s.Order))
	}
	if search := strings.TrimSpace(s.Search); search != "" {
		v.Set("search", search)
	}
	return v
}

// Body is the clause list sent as the request body. It is never nil so it
// encodes as [] rather than null.
func (s Spec) Body() []Clause {
	if s.Filters == nil {
		return []Clause{}
	}
	return append([]Clause(nil), s.Filters...)
}

// FromValues rebuilds a Spec from query parameters and a decoded clause body,
// filling defaults for anything absent. The result is validated.
func FromValues(v url.Values, clauses []Clause) (Spec, error) {
	spec := NewSpec()
	if raw := v.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return spec, domain.ValidationFailed("page must be a number", map[string]any{"page": raw})
		}
		spec.Page = page
	}
	if raw := v.Get("per_page"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return spec, domain.ValidationFailed("per_page must be a number", map[string]any{"per_page": raw})
		}
		spec.PageSize = size
	}
	if raw := v.Get("sort_by"); raw != "" {
		spec.SortBy = raw
	}
	if raw := v.Get("order"); raw != "" {
		spec.Order = Direction(strings.ToLower(raw))
	}
	spec.Search = strings.TrimSpace(v.Get("search"))
	spec.Filters = append([]Clause(nil), clauses...)
	if err := spec.Validate(); err != nil {
		return spec, err
	}
	return spec, nil
}

// SortInfo echoes the applied ordering in a paginated response.
type SortInfo struct {
	SortBy string    `json:"sort_by"`
	Order  Direction `json:"order"`
}

// Envelope is the body of a paginated list response.
type Envelope struct {
	Data       []domain.Document `json:"data"`
	Pagination PageMeta          `json:"pagination"`
	Filters    []Clause          `json:"filters"`
	Sort       SortInfo          `json:"sort"`
	Status     string            `json:"status"`
}

func NewEnvelope(page PageResult, spec Spec) Envelope {
	items := page.Items
	if items == nil {
		items = []domain.Document{}
	}
	return Envelope{
		Data:       items,
		Pagination: page.PageMeta,
		Filters:    spec.Body(),
		Sort:       SortInfo{SortBy: spec.SortBy, Order: spec.Order},
		Status:     "success",
	}
}
