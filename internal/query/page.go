package query

import (
	"fmt"

	"deptdocs/core/internal/domain"
)

// PageMeta is the pagination block of a Page Result. Its json names match the
// remote wire contract.
type PageMeta struct {
	CurrentPage  int  `json:"current_page"`
	PerPage      int  `json:"per_page"`
	TotalPages   int  `json:"total_pages"`
	TotalRecords int  `json:"total_records"`
	HasPrev      bool `json:"has_prev"`
	HasNext      bool `json:"has_next"`
}

type PageResult struct {
	Items []domain.Document `json:"data"`
	PageMeta
}

// Paginate computes consistent metadata for total records split into pages
// of size perPage, clamping page into [1, max(totalPages, 1)].
func Paginate(total, page, perPage int) PageMeta {
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	if total < 0 {
		total = 0
	}
	pages := (total + perPage - 1) / perPage
	if page > pages {
		page = pages
	}
	if page < 1 {
		page = 1
	}
	return PageMeta{
		CurrentPage:  page,
		PerPage:      perPage,
		TotalPages:   pages,
		TotalRecords: total,
		HasPrev:      page > 1,
		HasNext:      page < pages,
	}
}

// Offset is the index of the first record on the current page.
func (m PageMeta) Offset() int {
	return (m.CurrentPage - 1) * m.PerPage
}

// NewPageResult slices an already filtered and sorted set into one page.
func NewPageResult(all []domain.Document, page, perPage int) PageResult {
	meta := Paginate(len(all), page, perPage)
	start := meta.Offset()
	end := start + meta.PerPage
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	items := make([]domain.Document, 0, end-start)
	for _, doc := range all[start:end] {
		items = append(items, doc.Clone())
	}
	return PageResult{Items: items, PageMeta: meta}
}

// Validate checks the internal consistency of metadata received from a remote.
// Failures are ShapeMismatch.
func (m PageMeta) Validate(items int) error {
	switch {
	case m.PerPage <= 0:
		return shape("per_page must be positive, got %d", m.PerPage)
	case m.TotalRecords < 0:
		return shape("total_records must not be negative, got %d", m.TotalRecords)
	}
	if want := (m.TotalRecords + m.PerPage - 1) / m.PerPage; m.TotalPages != want {
		return shape("total_pages %d inconsistent with %d records of %d", m.TotalPages, m.TotalRecords, m.PerPage)
	}
	if m.TotalPages == 0 {
		if m.CurrentPage > 1 || m.CurrentPage < 0 {
			return shape("current_page %d with no records", m.CurrentPage)
		}
		if m.HasPrev || m.HasNext {
			return shape("empty result reports adjacent pages")
		}
	} else {
		if m.CurrentPage < 1 || m.CurrentPage > m.TotalPages {
			return shape("current_page %d outside [1, %d]", m.CurrentPage, m.TotalPages)
		}
		if m.HasPrev != (m.CurrentPage > 1) {
			return shape("has_prev %t inconsistent with current_page %d", m.HasPrev, m.CurrentPage)
		}
		if m.HasNext != (m.CurrentPage < m.TotalPages) {
			return shape("has_next %t inconsistent with current_page %d of %d", m.HasNext, m.CurrentPage, m.TotalPages)
		}
	}
	if items > m.PerPage {
		return shape("page holds %d items, per_page is %d", items, m.PerPage)
	}
	if items > m.TotalRecords {
		return shape("page holds %d items, total_records is %d", items, m.TotalRecords)
	}
	return nil
}

// Normalized returns m with a zero current_page on an empty result raised to 1.
func (m PageMeta) Normalized() PageMeta {
	if m.CurrentPage < 1 {
		m.CurrentPage = 1
	}
	return m
}

func shape(format string, args ...any) error {
	return domain.ShapeMismatch(fmt.Sprintf("pagination: "+format, args...), nil)
}
