package query

import (
	"sort"

	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/rbac"
)

// Summary backs the dashboard: counts by status and the most recently
// updated documents.
type Summary struct {
	Total     int               `json:"total"`
	Drafts    int               `json:"drafts"`
	Published int               `json:"published"`
	Approved  int               `json:"approved"`
	Recent    []domain.Document `json:"recent"`
}

// Summarize counts only documents principal may view. Recent holds at most
// recent entries, newest first.
func Summarize(principal domain.Principal, docs []domain.Document, recent int) Summary {
	visible := rbac.VisibleTo(principal, docs)
	var s Summary
	s.Total = len(visible)
	for _, doc := range visible {
		switch doc.Status {
		case domain.StatusDraft:
			s.Drafts++
		case domain.StatusPublished:
			s.Published++
		case domain.StatusApproved:
			s.Approved++
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		a, b := visible[i].UpdatedAt, visible[j].UpdatedAt
		if a.Equal(b) {
			return visible[i].ID < visible[j].ID
		}
		return a.After(b)
	})
	if recent < 0 {
		recent = 0
	}
	if recent > len(visible) {
		recent = len(visible)
	}
	s.Recent = make([]domain.Document, 0, recent)
	for _, doc := range visible[:recent] {
		s.Recent = append(s.Recent, doc.Clone())
	}
	return s
}
