// Package search runs full-text document search for the server. Meilisearch
// is used while it is healthy; Postgres answers otherwise.
package search

import (
	"context"

	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/store"
)

const defaultLimit = 20

// Query describes a search request. Scope limits hits to the documents the
// caller may view.
type Query struct {
	Text  string
	Scope store.Scope
	Limit int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return defaultLimit
	}
	return q.Limit
}

// Searcher returns matching document ids, best match first.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]int64, error)
	Healthy() bool
}

// Indexer can push documents into a search index.
type Indexer interface {
	Index(ctx context.Context, records []Record) error
	Delete(ctx context.Context, id int64) error
}

// Engine is a search backend that also maintains its own index.
type Engine interface {
	Searcher
	Indexer
}

// Record is the data we index for a document.
type Record struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Content      string   `json:"content"`
	Tags         []string `json:"tags"`
	Status       string   `json:"status"`
	DepartmentID *int64   `json:"departmentId"`
}

func RecordFor(doc domain.Document) Record {
	return Record{
		ID:           doc.ID,
		Title:        doc.Title,
		Description:  doc.Description,
		Content:      doc.Content,
		Tags:         append([]string{}, doc.Tags...),
		Status:       string(doc.Status),
		DepartmentID: doc.DepartmentID,
	}
}
