package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// Plain substring matches on title and description count as hits too, ranked
// after stemmed matches.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the server is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]int64, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return []int64{}, nil
	}

	args := []any{text, strings.ToLower(text)}
	where := `(d.fts @@ plainto_tsquery('simple', $1)
		OR strpos(lower(d.title), $2) > 0 OR strpos(lower(d.description), $2) > 0)`
	if !q.Scope.All {
		if len(q.Scope.Departments) == 0 {
			where += " AND d.department_id IS NULL"
		} else {
			args = append(args, q.Scope.Departments)
			where += fmt.Sprintf(" AND (d.department_id IS NULL OR d.department_id = ANY($%d))", len(args))
		}
	}
	args = append(args, q.limit())

	stmt := fmt.Sprintf(`
		SELECT d.id
		FROM documents d
		WHERE %s
		ORDER BY ts_rank(d.fts, plainto_tsquery('simple', $1)) DESC, d.id ASC
		LIMIT $%d`, where, len(args))

	rows, err := p.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgfts scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
