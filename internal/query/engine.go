package query

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/rbac"
)

// Apply runs the in-memory pipeline over docs: visibility, search, filters,
// sort, then pagination. docs is not modified.
func Apply(principal domain.Principal, docs []domain.Document, spec Spec) (PageResult, error) {
	if err := spec.Validate(); err != nil {
		return PageResult{}, err
	}
	matched := Filter(rbac.VisibleTo(principal, docs), spec)
	Sort(matched, spec.SortBy, spec.Order)
	return NewPageResult(matched, spec.Page, spec.PageSize), nil
}

// Filter applies the search text and every clause, without visibility checks.
func Filter(docs []domain.Document, spec Spec) []domain.Document {
	search := strings.ToLower(strings.TrimSpace(spec.Search))
	out := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		if search != "" && !containsFold(doc.Title, search) && !containsFold(doc.Description, search) {
			continue
		}
		if !MatchAll(doc, spec.Filters) {
			continue
		}
		out = append(out, doc)
	}
	return out
}

// MatchAll reports whether doc satisfies every clause. An empty clause
// list matches everything.
func MatchAll(doc domain.Document, clauses []Clause) bool {
	for _, c := range clauses {
		if !Match(doc, c) {
			return false
		}
	}
	return true
}

// Match evaluates a single clause. Clauses on unknown fields never match.
func Match(doc domain.Document, c Clause) bool {
	field, ok := Lookup(c.Key)
	if !ok {
		return false
	}
	value := strings.TrimSpace(c.Value)
	switch field.Kind {
	case KindString:
		return matchString(field.str(doc), c.Op, value)
	case KindNumber:
		n, present := field.num(doc)
		return matchNumber(n, present, c.Op, value)
	case KindDate:
		return matchDate(field.date(doc), c.Op, value)
	case KindTags:
		return matchTags(field.tags(doc), c.Op, value)
	}
	return false
}

func containsFold(s, lowerSub string) bool {
	return strings.Contains(strings.ToLower(s), lowerSub)
}

func matchString(got string, op Op, value string) bool {
	got, value = strings.ToLower(got), strings.ToLower(value)
	switch op {
	case OpContains:
		return strings.Contains(got, value)
	case OpEq:
		return got == value
	case OpGt:
		return got > value
	case OpLt:
		return got < value
	}
	return false
}

func matchNumber(got int64, present bool, op Op, value string) bool {
	if op == OpEq && value == NullValue {
		return !present
	}
	if !present {
		return false
	}
	if op == OpContains {
		return strings.Contains(strconv.FormatInt(got, 10), value)
	}
	want, err := parseNumber(value)
	if err != nil {
		return false
	}
	switch op {
	case OpEq:
		return got == want
	case OpGt:
		return got > want
	case OpLt:
		return got < want
	}
	return false
}

// matchDate compares instants. A date-only value with eq matches the whole
// UTC calendar day.
func matchDate(got time.Time, op Op, value string) bool {
	if op == OpContains {
		return strings.Contains(got.UTC().Format(time.RFC3339), value)
	}
	want, dateOnly, err := ParseDate(value)
	if err != nil {
		return false
	}
	switch op {
	case OpEq:
		if dateOnly {
			y1, m1, d1 := got.UTC().Date()
			y2, m2, d2 := want.Date()
			return y1 == y2 && m1 == m2 && d1 == d2
		}
		return got.Equal(want)
	case OpGt:
		return got.After(want)
	case OpLt:
		return got.Before(want)
	}
	return false
}

func matchTags(tags []string, op Op, value string) bool {
	value = strings.ToLower(value)
	for _, tag := range tags {
		tag = strings.ToLower(tag)
		switch op {
		case OpContains:
			if strings.Contains(tag, value) {
				return true
			}
		case OpEq:
			if tag == value {
				return true
			}
		}
	}
	return false
}

// Sort orders docs in place by field, breaking ties on id ascending no matter
// the direction. An unknown or empty field sorts by id.
func Sort(docs []domain.Document, field string, order Direction) {
	f, ok := Lookup(field)
	if !ok {
		f = fields["id"]
	}
	desc := order == Desc
	sort.SliceStable(docs, func(i, j int) bool {
		c := compare(f, docs[i], docs[j])
		if c == 0 {
			return docs[i].ID < docs[j].ID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compare(f Field, a, b domain.Document) int {
	switch f.Kind {
	case KindString:
		return strings.Compare(strings.ToLower(f.str(a)), strings.ToLower(f.str(b)))
	case KindNumber:
		x, xok := f.num(a)
		y, yok := f.num(b)
		// absent references order before present ones
		switch {
		case !xok && !yok:
			return 0
		case !xok:
			return -1
		case !yok:
			return 1
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case KindDate:
		return f.date(a).Compare(f.date(b))
	case KindTags:
		return strings.Compare(strings.ToLower(strings.Join(f.tags(a), ",")), strings.ToLower(strings.Join(f.tags(b), ",")))
	}
	return 0
}
