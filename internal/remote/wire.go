package remote

import (
	"fmt"
	"time"

	"deptdocs/core/internal/domain"
)

// Wire shapes use pointers so a missing field can be told apart from a zero
// value. Parse functions turn them into domain entities or fail with
// ShapeMismatch.

type wireDocument struct {
	ID           *int64     `json:"id"`
	Title        *string    `json:"title"`
	Description  *string    `json:"description"`
	Content      *string    `json:"content"`
	Status       *string    `json:"status"`
	Tags         []string   `json:"tags"`
	DepartmentID *int64     `json:"departmentId"`
	CategoryID   *int64     `json:"categoryId"`
	CreatedBy    *int64     `json:"createdBy"`
	CreatedAt    *time.Time `json:"createdAt"`
	UpdatedAt    *time.Time `json:"updatedAt"`
	FileName     *string    `json:"fileName"`
	FileType     *string    `json:"fileType"`
}

type wireNamed struct {
	ID          *int64  `json:"id"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type wireUser struct {
	ID          *int64      `json:"id"`
	DisplayName *string     `json:"displayName"`
	Email       *string     `json:"email"`
	Roles       []string    `json:"roles"`
	Departments []wireNamed `json:"departments"`
}

func mismatch(format string, args ...any) error {
	return domain.ShapeMismatch(fmt.Sprintf(format, args...), nil)
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func parseDocument(w wireDocument) (domain.Document, error) {
	switch {
	case w.ID == nil:
		return domain.Document{}, mismatch("document: missing id")
	case w.Title == nil:
		return domain.Document{}, mismatch("document %d: missing title", *w.ID)
	case w.Status == nil:
		return domain.Document{}, mismatch("document %d: missing status", *w.ID)
	case w.CreatedBy == nil:
		return domain.Document{}, mismatch("document %d: missing createdBy", *w.ID)
	case w.CreatedAt == nil || w.UpdatedAt == nil:
		return domain.Document{}, mismatch("document %d: missing timestamps", *w.ID)
	}
	status := domain.Status(*w.Status)
	if !status.Valid() {
		return domain.Document{}, mismatch("document %d: unknown status %q", *w.ID, *w.Status)
	}
	if w.UpdatedAt.Before(*w.CreatedAt) {
		return domain.Document{}, mismatch("document %d: updatedAt precedes createdAt", *w.ID)
	}
	doc := domain.Document{
		ID:          *w.ID,
		Title:       *w.Title,
		Description: str(w.Description),
		Content:     str(w.Content),
		Status:      status,
		Tags:        domain.NormalizeTags(w.Tags),
		CreatedBy:   *w.CreatedBy,
		CreatedAt:   *w.CreatedAt,
		UpdatedAt:   *w.UpdatedAt,
		FileName:    str(w.FileName),
		FileType:    str(w.FileType),
	}
	if w.DepartmentID != nil {
		doc.DepartmentID = domain.Int64(*w.DepartmentID)
	}
	if w.CategoryID != nil {
		doc.CategoryID = domain.Int64(*w.CategoryID)
	}
	return doc, nil
}

func parseDocuments(ws []wireDocument) ([]domain.Document, error) {
	docs := make([]domain.Document, 0, len(ws))
	seen := make(map[int64]struct{}, len(ws))
	for _, w := range ws {
		doc, err := parseDocument(w)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[doc.ID]; dup {
			return nil, mismatch("document %d listed twice", doc.ID)
		}
		seen[doc.ID] = struct{}{}
		docs = append(docs, doc)
	}
	return docs, nil
}

func parseNamed(w wireNamed, what string) (int64, string, string, error) {
	if w.ID == nil {
		return 0, "", "", mismatch("%s: missing id", what)
	}
	if w.Name == nil {
		return 0, "", "", mismatch("%s %d: missing name", what, *w.ID)
	}
	return *w.ID, *w.Name, str(w.Description), nil
}

func parseDepartment(w wireNamed) (domain.Department, error) {
	id, name, desc, err := parseNamed(w, "department")
	if err != nil {
		return domain.Department{}, err
	}
	return domain.Department{ID: id, Name: name, Description: desc}, nil
}

func parseDepartments(ws []wireNamed) ([]domain.Department, error) {
	out := make([]domain.Department, 0, len(ws))
	for _, w := range ws {
		d, err := parseDepartment(w)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func parseCategory(w wireNamed) (domain.Category, error) {
	id, name, desc, err := parseNamed(w, "category")
	if err != nil {
		return domain.Category{}, err
	}
	return domain.Category{ID: id, Name: name, Description: desc}, nil
}

func parseCategories(ws []wireNamed) ([]domain.Category, error) {
	out := make([]domain.Category, 0, len(ws))
	for _, w := range ws {
		c, err := parseCategory(w)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func parseUser(w wireUser) (domain.User, error) {
	if w.ID == nil {
		return domain.User{}, mismatch("user: missing id")
	}
	if w.Email == nil {
		return domain.User{}, mismatch("user %d: missing email", *w.ID)
	}
	depts, err := parseDepartments(w.Departments)
	if err != nil {
		return domain.User{}, err
	}
	roles := make([]string, 0, len(w.Roles))
	for _, role := range w.Roles {
		roles = append(roles, domain.NormalizeRole(role))
	}
	if len(roles) == 0 {
		roles = append(roles, domain.RoleUser)
	}
	return domain.User{
		ID:          *w.ID,
		DisplayName: str(w.DisplayName),
		Email:       *w.Email,
		Roles:       roles,
		Departments: depts,
	}, nil
}

func parseUsers(ws []wireUser) ([]domain.User, error) {
	out := make([]domain.User, 0, len(ws))
	for _, w := range ws {
		u, err := parseUser(w)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
