package domain

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DocumentInput is the create payload for a document.
type DocumentInput struct {
	Title        string   `json:"title" validate:"required,max=200"`
	Description  string   `json:"description" validate:"max=2000"`
	Content      string   `json:"content"`
	Status       Status   `json:"status" validate:"omitempty,oneof=draft published approved"`
	Tags         []string `json:"tags"`
	DepartmentID *int64   `json:"departmentId" validate:"omitempty,gt=0"`
	CategoryID   *int64   `json:"categoryId" validate:"omitempty,gt=0"`
}

// DocumentPatch carries only the fields being changed. A nil field is left
// untouched. ClearDepartment and ClearCategory null out the matching reference.
type DocumentPatch struct {
	Title           *string   `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description     *string   `json:"description,omitempty" validate:"omitempty,max=2000"`
	Content         *string   `json:"content,omitempty"`
	Status          *Status   `json:"status,omitempty" validate:"omitempty,oneof=draft published approved"`
	Tags            *[]string `json:"tags,omitempty"`
	DepartmentID    *int64    `json:"departmentId,omitempty" validate:"omitempty,gt=0"`
	ClearDepartment bool      `json:"clearDepartment,omitempty"`
	CategoryID      *int64    `json:"categoryId,omitempty" validate:"omitempty,gt=0"`
	ClearCategory   bool      `json:"clearCategory,omitempty"`
	FileName        *string   `json:"fileName,omitempty"`
	FileType        *string   `json:"fileType,omitempty"`
}

func (p DocumentPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Content == nil && p.Status == nil &&
		p.Tags == nil && p.DepartmentID == nil && !p.ClearDepartment && p.CategoryID == nil &&
		!p.ClearCategory && p.FileName == nil && p.FileType == nil
}

// MovesDepartment reports whether applying p to doc changes its department.
func (p DocumentPatch) MovesDepartment(doc Document) bool {
	if p.ClearDepartment {
		return doc.DepartmentID != nil
	}
	if p.DepartmentID == nil {
		return false
	}
	return doc.DepartmentID == nil || *doc.DepartmentID != *p.DepartmentID
}

// Apply returns doc with p applied. Timestamps are not touched; the server
// owns them.
func (p DocumentPatch) Apply(doc Document) Document {
	next := doc.Clone()
	if p.Title != nil {
		next.Title = *p.Title
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	if p.Content != nil {
		next.Content = *p.Content
	}
	if p.Status != nil {
		next.Status = *p.Status
	}
	if p.Tags != nil {
		next.Tags = NormalizeTags(*p.Tags)
	}
	if p.ClearDepartment {
		next.DepartmentID = nil
	} else if p.DepartmentID != nil {
		next.DepartmentID = Int64(*p.DepartmentID)
	}
	if p.ClearCategory {
		next.CategoryID = nil
	} else if p.CategoryID != nil {
		next.CategoryID = Int64(*p.CategoryID)
	}
	if p.FileName != nil {
		next.FileName = *p.FileName
	}
	if p.FileType != nil {
		next.FileType = *p.FileType
	}
	return next
}

type DepartmentInput struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=2000"`
}

type CategoryInput struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=2000"`
}

type UserInput struct {
	DisplayName string   `json:"displayName" validate:"required,max=120"`
	Email       string   `json:"email" validate:"required,email"`
	Password    string   `json:"password" validate:"required,min=8"`
	Roles       []string `json:"roles" validate:"dive,oneof=ROLE_USER ROLE_ADMIN"`
}

type UserPatch struct {
	DisplayName *string   `json:"displayName,omitempty" validate:"omitempty,min=1,max=120"`
	Email       *string   `json:"email,omitempty" validate:"omitempty,email"`
	Roles       *[]string `json:"roles,omitempty" validate:"omitempty,dive,oneof=ROLE_USER ROLE_ADMIN"`
}

// Validate checks v against its struct tags and reports failures as a
// ValidationFailed error listing the offending fields.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationFailed(err.Error(), nil)
	}
	fields := make(map[string]string, len(fieldErrs))
	names := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
		names = append(names, fe.Field())
	}
	return ValidationFailed("invalid "+strings.Join(names, ", "), fields)
}

// Normalize trims the input, fills the default status and cleans the tag set.
func (in DocumentInput) Normalize() DocumentInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Status == "" {
		in.Status = StatusDraft
	}
	in.Tags = NormalizeTags(in.Tags)
	return in
}
