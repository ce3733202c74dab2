package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/query"
)

type wireEnvelope struct {
	Data       *[]wireDocument `json:"data"`
	Pagination *query.PageMeta `json:"pagination"`
	Filters    []query.Clause  `json:"filters"`
	Sort       *query.SortInfo `json:"sort"`
	Status     string          `json:"status"`
}

// ListDocuments fetches the whole collection in one payload.
func (c *Client) ListDocuments(ctx context.Context, token string) ([]domain.Document, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, path: "/api/documents", token: token})
	if err != nil {
		return nil, err
	}
	var ws []wireDocument
	if err := decode(body, &ws, "list documents"); err != nil {
		return nil, err
	}
	return parseDocuments(ws)
}

// QueryDocuments asks the server for one page. Pagination and sort go in the
// query string, clauses in the body. The response is validated before it is
// returned; an inconsistent page is a ShapeMismatch.
func (c *Client) QueryDocuments(ctx context.Context, token string, spec query.Spec) (query.PageResult, error) {
	if err := spec.Validate(); err != nil {
		return query.PageResult{}, err
	}
	body, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/documents/query",
		query:  spec.Values(),
		token:  token,
		body:   spec.Body(),
	})
	if err != nil {
		return query.PageResult{}, err
	}

	var env wireEnvelope
	if err := decode(body, &env, "query documents"); err != nil {
		return query.PageResult{}, err
	}
	if env.Data == nil {
		return query.PageResult{}, mismatch("query documents: missing data")
	}
	if env.Pagination == nil {
		return query.PageResult{}, mismatch("query documents: missing pagination")
	}
	if err := env.Pagination.Validate(len(*env.Data)); err != nil {
		return query.PageResult{}, err
	}
	docs, err := parseDocuments(*env.Data)
	if err != nil {
		return query.PageResult{}, err
	}
	return query.PageResult{Items: docs, PageMeta: env.Pagination.Normalized()}, nil
}

func documentPath(id int64) string {
	return fmt.Sprintf("/api/documents/%d", id)
}

func (c *Client) decodeDocument(body []byte, what string) (domain.Document, error) {
	var w wireDocument
	if err := decode(body, &w, what); err != nil {
		return domain.Document{}, err
	}
	return parseDocument(w)
}

func (c *Client) GetDocument(ctx context.Context, token string, id int64) (domain.Document, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, path: documentPath(id), token: token})
	if err != nil {
		return domain.Document{}, err
	}
	doc, err := c.decodeDocument(body, "get document")
	if err != nil {
		return domain.Document{}, err
	}
	if doc.ID != id {
		return domain.Document{}, mismatch("get document %d: response is for %d", id, doc.ID)
	}
	return doc, nil
}

func (c *Client) CreateDocument(ctx context.Context, token string, in domain.DocumentInput) (domain.Document, error) {
	body, err := c.do(ctx, request{method: http.MethodPost, path: "/api/documents", token: token, body: in})
	if err != nil {
		return domain.Document{}, err
	}
	return c.decodeDocument(body, "create document")
}

func (c *Client) UpdateDocument(ctx context.Context, token string, id int64, patch domain.DocumentPatch) (domain.Document, error) {
	body, err := c.do(ctx, request{method: http.MethodPut, path: documentPath(id), token: token, body: patch})
	if err != nil {
		return domain.Document{}, err
	}
	doc, err := c.decodeDocument(body, "update document")
	if err != nil {
		return domain.Document{}, err
	}
	if doc.ID != id {
		return domain.Document{}, mismatch("update document %d: response is for %d", id, doc.ID)
	}
	return doc, nil
}

func (c *Client) DeleteDocument(ctx context.Context, token string, id int64) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, path: documentPath(id), token: token})
	return err
}

// SearchDocuments runs the server's full-text search.
func (c *Client) SearchDocuments(ctx context.Context, token, text string) ([]domain.Document, error) {
	body, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/search",
		query:  url.Values{"q": {text}},
		token:  token,
	})
	if err != nil {
		return nil, err
	}
	var result struct {
		Results *[]wireDocument `json:"results"`
	}
	if err := decode(body, &result, "search"); err != nil {
		return nil, err
	}
	if result.Results == nil {
		return nil, mismatch("search: missing results")
	}
	return parseDocuments(*result.Results)
}
