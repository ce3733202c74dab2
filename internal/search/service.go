package search

import (
	"context"
	"sync"
	"time"

	"deptdocs/core/internal/domain"
	"go.uber.org/zap"
)

const indexTimeout = 10 * time.Second

// Service is the facade that tries the primary engine first and falls back
// to the store search.
type Service struct {
	primary  Engine
	fallback Searcher
	log      *zap.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. primary may be nil if Meilisearch is
// not configured.
func NewService(primary Engine, fallback Searcher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{primary: primary, fallback: fallback, log: log}
}

func (s *Service) usePrimary() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search returns matching ids, best match first. A failing primary is logged
// and the fallback answers instead.
func (s *Service) Search(ctx context.Context, q Query) ([]int64, error) {
	if s.usePrimary() {
		ids, err := s.primary.Search(ctx, q)
		if err == nil {
			return ids, nil
		}
		s.log.Warn("primary search failed, falling back", zap.Error(err))
	}
	if s.fallback == nil {
		return nil, domain.RemoteUnavailable("search is not configured", nil)
	}
	ids, err := s.fallback.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// IndexDocument indexes a document in the background.
func (s *Service) IndexDocument(doc domain.Document) {
	if !s.usePrimary() {
		return
	}
	record := RecordFor(doc)
	s.background(func(ctx context.Context) {
		if err := s.primary.Index(ctx, []Record{record}); err != nil {
			s.log.Warn("index document", zap.Int64("id", record.ID), zap.Error(err))
		}
	})
}

// DeleteDocument removes a document from the index in the background.
func (s *Service) DeleteDocument(id int64) {
	if !s.usePrimary() {
		return
	}
	s.background(func(ctx context.Context) {
		if err := s.primary.Delete(ctx, id); err != nil {
			s.log.Warn("delete document from index", zap.Int64("id", id), zap.Error(err))
		}
	})
}

func (s *Service) background(fn func(ctx context.Context)) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until background index updates have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// Reindex pushes docs to the primary engine in one batch. It is called at
// startup so the index catches up with writes made while it was down.
func (s *Service) Reindex(ctx context.Context, docs []domain.Document) error {
	if !s.usePrimary() || len(docs) == 0 {
		return nil
	}
	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, RecordFor(doc))
	}
	if err := s.primary.Index(ctx, records); err != nil {
		return err
	}
	s.log.Info("search index rebuilt", zap.Int("documents", len(records)))
	return nil
}
