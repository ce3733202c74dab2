package domain

import (
	"strings"
	"time"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusApproved  Status = "approved"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusApproved:
		return true
	default:
		return false
	}
}

const (
	RoleAdmin = "ROLE_ADMIN"
	RoleUser  = "ROLE_USER"
)

// EntityType names a remote collection mirrored in the local cache.
type EntityType string

const (
	EntityDocument   EntityType = "documents"
	EntityDepartment EntityType = "departments"
	EntityCategory   EntityType = "categories"
	EntityUser       EntityType = "users"
)

// Principal is the authenticated actor. It is immutable for the lifetime of a
// session; login and logout replace it wholesale.
type Principal struct {
	ID          int64    `json:"id"`
	DisplayName string   `json:"displayName"`
	Roles       []string `json:"roles"`
	Departments []int64  `json:"departments"`
	Credential  string   `json:"-"`
}

func (p Principal) IsAdmin() bool {
	for _, role := range p.Roles {
		if NormalizeRole(role) == RoleAdmin {
			return true
		}
	}
	return false
}

func (p Principal) MemberOf(departmentID int64) bool {
	for _, id := range p.Departments {
		if id == departmentID {
			return true
		}
	}
	return false
}

// WithDepartments returns a copy of p whose membership set is ids.
func (p Principal) WithDepartments(ids []int64) Principal {
	next := p
	next.Roles = append([]string(nil), p.Roles...)
	next.Departments = append([]int64(nil), ids...)
	return next
}

// NormalizeRole maps the role spellings seen on the wire ("admin",
// "ROLE_ADMIN", "role_admin") onto the canonical constants. Unknown roles
// collapse to RoleUser.
func NormalizeRole(role string) string {
	switch strings.ToUpper(strings.TrimSpace(role)) {
	case RoleAdmin, "ADMIN":
		return RoleAdmin
	default:
		return RoleUser
	}
}

// Attachment describes a file stored in blob storage. Only the name returned
// by the blob store is kept; file bytes never pass through the core.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
}

type Document struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Content      string    `json:"content"`
	Status       Status    `json:"status"`
	Tags         []string  `json:"tags"`
	DepartmentID *int64    `json:"departmentId"`
	CategoryID   *int64    `json:"categoryId"`
	CreatedBy    int64     `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	FileName     string    `json:"fileName,omitempty"`
	FileType     string    `json:"fileType,omitempty"`
}

// File returns the attached-file descriptor, or nil when nothing is attached.
func (d Document) File() *Attachment {
	if d.FileName == "" {
		return nil
	}
	return &Attachment{Name: d.FileName, MediaType: d.FileType}
}

// Clone returns a deep copy so cached values are never aliased by callers.
func (d Document) Clone() Document {
	next := d
	next.Tags = append([]string(nil), d.Tags...)
	if d.DepartmentID != nil {
		id := *d.DepartmentID
		next.DepartmentID = &id
	}
	if d.CategoryID != nil {
		id := *d.CategoryID
		next.CategoryID = &id
	}
	return next
}

func (d Document) EntityID() int64 { return d.ID }

type Department struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (d Department) EntityID() int64 { return d.ID }

func (d Department) Clone() Department { return d }

type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (c Category) EntityID() int64 { return c.ID }

func (c Category) Clone() Category { return c }

type User struct {
	ID          int64        `json:"id"`
	DisplayName string       `json:"displayName"`
	Email       string       `json:"email"`
	Roles       []string     `json:"roles"`
	Departments []Department `json:"departments"`
}

func (u User) EntityID() int64 { return u.ID }

func (u User) Clone() User {
	next := u
	next.Roles = append([]string(nil), u.Roles...)
	next.Departments = append([]Department(nil), u.Departments...)
	return next
}

// DepartmentIDs returns the ids of the user's departments in listed order.
func (u User) DepartmentIDs() []int64 {
	ids := make([]int64, 0, len(u.Departments))
	for _, dept := range u.Departments {
		ids = append(ids, dept.ID)
	}
	return ids
}

// Int64 returns a pointer to v. Handy for optional references.
func Int64(v int64) *int64 {
	return &v
}
