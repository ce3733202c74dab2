package main

import (
	"fmt"
	"strings"

	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/query"
	"github.com/spf13/pflag"
)

// listOptions are the flags of the docs command.
type listOptions struct {
	search   string
	status   string
	tag      string
	filters  []string
	sortBy   string
	desc     bool
	page     int
	pageSize int
}

func (o *listOptions) register(flags *pflag.FlagSet) {
	flags.StringVarP(&o.search, "search", "s", "", "free text matched against title, description and content")
	flags.StringVar(&o.status, "status", "", "only documents with this status")
	flags.StringVar(&o.tag, "tag", "", "only documents carrying this tag")
	flags.StringArrayVarP(&o.filters, "filter", "f", nil, "filter clause key:op:value (op is contains, eq, gt or lt); repeatable")
	flags.StringVar(&o.sortBy, "sort", query.DefaultSortBy, "sort field")
	flags.BoolVar(&o.desc, "desc", false, "sort descending")
	flags.IntVarP(&o.page, "page", "p", 1, "page number")
	flags.IntVar(&o.pageSize, "per-page", query.DefaultPageSize, "page size")
}

// spec builds the query. The page is applied last since every other
// change resets it.
func (o *listOptions) spec() (query.Spec, error) {
	clauses := make([]query.Clause, 0, len(o.filters))
	for _, raw := range o.filters {
		c, err := parseClause(raw)
		if err != nil {
			return query.Spec{}, err
		}
		clauses = append(clauses, c)
	}

	spec, err := query.NewSpec().WithFilters(clauses)
	if err != nil {
		return query.Spec{}, err
	}
	if o.search != "" {
		spec = spec.WithSearch(o.search)
	}
	if o.status != "" {
		spec = spec.WithStatus(domain.Status(o.status))
	}
	if o.tag != "" {
		spec = spec.WithTag(o.tag)
	}
	order := query.Asc
	if o.desc {
		order = query.Desc
	}
	if spec, err = spec.WithSort(o.sortBy, order); err != nil {
		return query.Spec{}, err
	}
	if spec, err = spec.WithPageSize(o.pageSize); err != nil {
		return query.Spec{}, err
	}
	return spec.WithPage(o.page), nil
}

// parseClause reads key:op:value. The value may itself contain colons.
func parseClause(raw string) (query.Clause, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return query.Clause{}, domain.ValidationFailed(fmt.Sprintf("filter %q must look like key:op:value", raw), nil)
	}
	c := query.Clause{
		Key:   strings.TrimSpace(parts[0]),
		Op:    query.Op(strings.ToLower(strings.TrimSpace(parts[1]))),
		Value: parts[2],
	}
	if err := c.Validate(); err != nil {
		return query.Clause{}, err
	}
	return c, nil
}

// documentOptions are shared by create and update.
type documentOptions struct {
	title           string
	description     string
	content         string
	status          string
	tags            []string
	department      int64
	category        int64
	clearDepartment bool
	clearCategory   bool
}

func (o *documentOptions) register(flags *pflag.FlagSet) {
	flags.StringVarP(&o.title, "title", "t", "", "document title")
	flags.StringVarP(&o.description, "description", "d", "", "short description")
	flags.StringVar(&o.content, "content", "", "document body")
	flags.StringVar(&o.status, "status", "", "draft, published or approved")
	flags.StringSliceVar(&o.tags, "tag", nil, "tag; repeatable or comma separated")
	flags.Int64Var(&o.department, "department", 0, "owning department id")
	flags.Int64Var(&o.category, "category", 0, "category id")
	flags.BoolVar(&o.clearDepartment, "no-department", false, "detach from its department (update only)")
	flags.BoolVar(&o.clearCategory, "no-category", false, "remove its category (update only)")
}

func (o *documentOptions) input(flags *pflag.FlagSet) (domain.DocumentInput, error) {
	if strings.TrimSpace(o.title) == "" {
		return domain.DocumentInput{}, domain.ValidationFailed("title is required", nil)
	}
	in := domain.DocumentInput{
		Title:       o.title,
		Description: o.description,
		Content:     o.content,
		Status:      domain.Status(o.status),
		Tags:        o.tags,
	}
	if flags.Changed("department") {
		in.DepartmentID = domain.Int64(o.department)
	}
	if flags.Changed("category") {
		in.CategoryID = domain.Int64(o.category)
	}
	return in, nil
}

// patch carries only the flags that were given.
func (o *documentOptions) patch(flags *pflag.FlagSet) (domain.DocumentPatch, error) {
	var p domain.DocumentPatch
	if flags.Changed("title") {
		p.Title = &o.title
	}
	if flags.Changed("description") {
		p.Description = &o.description
	}
	if flags.Changed("content") {
		p.Content = &o.content
	}
	if flags.Changed("status") {
		status := domain.Status(o.status)
		p.Status = &status
	}
	if flags.Changed("tag") {
		tags := o.tags
		p.Tags = &tags
	}
	if flags.Changed("department") && o.clearDepartment {
		return p, domain.ValidationFailed("--department and --no-department are exclusive", nil)
	}
	if flags.Changed("department") {
		p.DepartmentID = domain.Int64(o.department)
	}
	p.ClearDepartment = o.clearDepartment
	if flags.Changed("category") {
		p.CategoryID = domain.Int64(o.category)
	}
	p.ClearCategory = o.clearCategory
	if p.Empty() {
		return p, domain.ValidationFailed("nothing to update", nil)
	}
	return p, nil
}
