package store

import (
	"strings"
	"testing"
	"time"

	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/query"
)

func TestDocumentFilterScope(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		where string
		args  int
	}{
		{name: "admin", scope: Scope{All: true}, where: "", args: 0},
		{name: "no departments", scope: Scope{}, where: " WHERE d.department_id IS NULL", args: 0},
		{name: "members", scope: Scope{Departments: []int64{1, 2}}, where: " WHERE (d.department_id IS NULL OR d.department_id = ANY($1))", args: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := documentFilter(query.Spec{}, tt.scope)
			if err != nil {
				t.Fatalf("filter: %v", err)
			}
			if got := b.where(); got != tt.where {
				t.Fatalf("where = %q, want %q", got, tt.where)
			}
			if len(b.args) != tt.args {
				t.Fatalf("args = %v", b.args)
			}
		})
	}
}

func TestDocumentFilterClauses(t *testing.T) {
	tests := []struct {
		name   string
		clause query.Clause
		cond   string
		arg    any
	}{
		{
			name:   "string contains lowercases value",
			clause: query.Clause{Key: "title", Op: query.OpContains, Value: " Budget "},
			cond:   "strpos(lower(d.title), $1) > 0",
			arg:    "budget",
		},
		{
			name:   "string gt uses byte order",
			clause: query.Clause{Key: "status", Op: query.OpGt, Value: "draft"},
			cond:   `lower(d.status) COLLATE "C" > $1`,
			arg:    "draft",
		},
		{
			name:   "null reference",
			clause: query.Clause{Key: "departmentId", Op: query.OpEq, Value: "null"},
			cond:   "d.department_id IS NULL",
		},
		{
			name:   "snake case key",
			clause: query.Clause{Key: "category_id", Op: query.OpLt, Value: "7"},
			cond:   "d.category_id < $1",
			arg:    int64(7),
		},
		{
			name:   "date only eq matches the day",
			clause: query.Clause{Key: "createdAt", Op: query.OpEq, Value: "2024-03-01"},
			cond:   "(d.created_at AT TIME ZONE 'UTC')::date = $1::date",
			arg:    "2024-03-01",
		},
		{
			name:   "timestamp gt",
			clause: query.Clause{Key: "updatedAt", Op: query.OpGt, Value: "2024-03-01T10:00:00Z"},
			cond:   "d.updated_at > $1",
			arg:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name:   "tag eq",
			clause: query.Clause{Key: "tags", Op: query.OpEq, Value: "HR"},
			cond:   "EXISTS (SELECT 1 FROM unnest(d.tags) AS t(tag) WHERE lower(t.tag) = $1)",
			arg:    "hr",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := documentFilter(query.Spec{Filters: []query.Clause{tt.clause}}, Scope{All: true})
			if err != nil {
				t.Fatalf("filter: %v", err)
			}
			if got := b.where(); got != " WHERE "+tt.cond {
				t.Fatalf("where = %q, want %q", got, tt.cond)
			}
			if tt.arg == nil {
				if len(b.args) != 0 {
					t.Fatalf("unexpected args %v", b.args)
				}
				return
			}
			if len(b.args) != 1 {
				t.Fatalf("args = %v", b.args)
			}
			if want, ok := tt.arg.(time.Time); ok {
				if got, _ := b.args[0].(time.Time); !got.Equal(want) {
					t.Fatalf("arg = %v, want %v", b.args[0], want)
				}
				return
			}
			if b.args[0] != tt.arg {
				t.Fatalf("arg = %#v, want %#v", b.args[0], tt.arg)
			}
		})
	}
}

func TestDocumentFilterSearchAndPlaceholders(t *testing.T) {
	spec := query.Spec{
		Search:  "  Policy ",
		Filters: []query.Clause{{Key: "status", Op: query.OpEq, Value: "published"}},
	}
	b, err := documentFilter(spec, Scope{Departments: []int64{3}})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	where := b.where()
	for _, want := range []string{"ANY($1)", "strpos(lower(d.title), $2)", "strpos(lower(d.description), $2)", "lower(d.status) = $3"} {
		if !strings.Contains(where, want) {
			t.Fatalf("where %q missing %q", where, want)
		}
	}
	if len(b.args) != 3 || b.args[1] != "policy" || b.args[2] != "published" {
		t.Fatalf("args = %#v", b.args)
	}
}

func TestDocumentFilterRejectsBadClause(t *testing.T) {
	bad := []query.Clause{
		{Key: "owner", Op: query.OpEq, Value: "x"},
		{Key: "title", Op: "like", Value: "x"},
		{Key: "id", Op: query.OpGt, Value: "abc"},
		{Key: "tags", Op: query.OpLt, Value: "hr"},
	}
	for _, c := range bad {
		_, err := documentFilter(query.Spec{Filters: []query.Clause{c}}, Scope{All: true})
		if !domain.Is(err, domain.KindValidationFailed) {
			t.Fatalf("clause %+v: expected validation error, got %v", c, err)
		}
	}
}

func TestDocumentOrder(t *testing.T) {
	tests := []struct {
		spec query.Spec
		want string
	}{
		{query.Spec{}, " ORDER BY d.id ASC"},
		{query.Spec{SortBy: "title", Order: query.Asc}, ` ORDER BY lower(d.title) COLLATE "C" ASC, d.id ASC`},
		{query.Spec{SortBy: "departmentId", Order: query.Asc}, " ORDER BY d.department_id ASC NULLS FIRST, d.id ASC"},
		{query.Spec{SortBy: "departmentId", Order: query.Desc}, " ORDER BY d.department_id DESC NULLS LAST, d.id ASC"},
		{query.Spec{SortBy: "createdAt", Order: query.Desc}, " ORDER BY d.created_at DESC, d.id ASC"},
		{query.Spec{SortBy: "id", Order: query.Desc}, " ORDER BY d.id DESC NULLS LAST"},
	}
	for _, tt := range tests {
		if got := documentOrder(tt.spec); got != tt.want {
			t.Fatalf("order(%s %s) = %q, want %q", tt.spec.SortBy, tt.spec.Order, got, tt.want)
		}
	}
}
