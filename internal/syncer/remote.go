package syncer

import (
	"context"

	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/query"
	"deptdocs/core/internal/remote"
)

var _ Remote = (*remote.Client)(nil)

// Remote is the subset of the API client the Synchronizer drives.
// *remote.Client satisfies it.
type Remote interface {
	ListDocuments(ctx context.Context, token string) ([]domain.Document, error)
	QueryDocuments(ctx context.Context, token string, spec query.Spec) (query.PageResult, error)
	GetDocument(ctx context.Context, token string, id int64) (domain.Document, error)
	CreateDocument(ctx context.Context, token string, in domain.DocumentInput) (domain.Document, error)
	UpdateDocument(ctx context.Context, token string, id int64, patch domain.DocumentPatch) (domain.Document, error)
	DeleteDocument(ctx context.Context, token string, id int64) error
	SearchDocuments(ctx context.Context, token, text string) ([]domain.Document, error)

	ListDepartments(ctx context.Context, token string) ([]domain.Department, error)
	GetDepartment(ctx context.Context, token string, id int64) (domain.Department, error)
	CreateDepartment(ctx context.Context, token string, in domain.DepartmentInput) (domain.Department, error)
	UpdateDepartment(ctx context.Context, token string, id int64, in domain.DepartmentInput) (domain.Department, error)
	DeleteDepartment(ctx context.Context, token string, id int64) error

	ListCategories(ctx context.Context, token string) ([]domain.Category, error)
	GetCategory(ctx context.Context, token string, id int64) (domain.Category, error)
	CreateCategory(ctx context.Context, token string, in domain.CategoryInput) (domain.Category, error)
	UpdateCategory(ctx context.Context, token string, id int64, in domain.CategoryInput) (domain.Category, error)
	DeleteCategory(ctx context.Context, token string, id int64) error

	ListUsers(ctx context.Context, token string) ([]domain.User, error)
	GetUser(ctx context.Context, token string, id int64) (domain.User, error)
	CreateUser(ctx context.Context, token string, in domain.UserInput) (domain.User, error)
	UpdateUser(ctx context.Context, token string, id int64, patch domain.UserPatch) (domain.User, error)
	DeleteUser(ctx context.Context, token string, id int64) error
	AssignDepartment(ctx context.Context, token string, userID, departmentID int64) (domain.User, error)
	RemoveDepartment(ctx context.Context, token string, userID, departmentID int64) (domain.User, error)
	Register(ctx context.Context, token string, in domain.UserInput) (domain.User, error)
}
