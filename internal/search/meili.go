package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxDocuments = "deptdocs_documents"

// Meili implements Engine via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index. An
// unreachable server is not an error: the health loop keeps probing and the
// caller falls back until it answers.
func NewMeili(url, apiKey string, log *zap.Logger) *Meili {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		log.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxDocuments,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug("create index (may already exist)", zap.String("index", idxDocuments), zap.Error(err))
	}

	index := m.client.Index(idxDocuments)
	filterable := []interface{}{"departmentId", "status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("update filterable attributes", zap.String("index", idxDocuments), zap.Error(err))
	}
	searchable := []string{"title", "description", "content", "tags"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("update searchable attributes", zap.String("index", idxDocuments), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(ctx context.Context, q Query) ([]int64, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if strings.TrimSpace(q.Text) == "" {
		return []int64{}, nil
	}

	sr := &meili.SearchRequest{
		IndexUID:             idxDocuments,
		Query:                q.Text,
		Limit:                int64(q.limit()),
		AttributesToRetrieve: []string{"id"},
	}
	if filter := scopeFilter(q); filter != "" {
		sr.Filter = filter
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	ids := []int64{}
	for _, result := range resp.Results {
		for _, hit := range result.Hits {
			id, ok := decodeID(hit)
			if !ok {
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// scopeFilter restricts hits to global documents plus the scope's
// departments. Administrators get no filter.
func scopeFilter(q Query) string {
	if q.Scope.All {
		return ""
	}
	if len(q.Scope.Departments) == 0 {
		return "departmentId IS NULL"
	}
	parts := make([]string, 0, len(q.Scope.Departments))
	for _, id := range q.Scope.Departments {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return "departmentId IS NULL OR departmentId IN [" + strings.Join(parts, ", ") + "]"
}

func decodeID(hit meili.Hit) (int64, bool) {
	raw, ok := hit["id"]
	if !ok {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	return id, true
}

// Index adds or updates documents in the search index.
func (m *Meili) Index(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxDocuments).AddDocuments(records, nil)
	return err
}

// Delete removes a document from the search index.
func (m *Meili) Delete(ctx context.Context, id int64) error {
	_, err := m.client.Index(idxDocuments).DeleteDocument(strconv.FormatInt(id, 10), nil)
	return err
}
