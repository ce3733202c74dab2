package remote

import (
	"context"
	"fmt"
	"net/http"

	"deptdocs/core/internal/domain"
)

// Departments

func (c *Client) ListDepartments(ctx context.Context, token string) ([]domain.Department, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, path: "/api/departments", token: token})
	if err != nil {
		return nil, err
	}
	var ws []wireNamed
	if err := decode(body, &ws, "list departments"); err != nil {
		return nil, err
	}
	return parseDepartments(ws)
}

func (c *Client) GetDepartment(ctx context.Context, token string, id int64) (domain.Department, error) {
	return c.namedDepartment(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/api/departments/%d", id), token: token})
}

func (c *Client) CreateDepartment(ctx context.Context, token string, in domain.DepartmentInput) (domain.Department, error) {
	return c.namedDepartment(ctx, request{method: http.MethodPost, path: "/api/departments", token: token, body: in})
}

func (c *Client) UpdateDepartment(ctx context.Context, token string, id int64, in domain.DepartmentInput) (domain.Department, error) {
	return c.namedDepartment(ctx, request{method: http.MethodPut, path: fmt.Sprintf("/api/departments/%d", id), token: token, body: in})
}

func (c *Client) DeleteDepartment(ctx context.Context, token string, id int64) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, path: fmt.Sprintf("/api/departments/%d", id), token: token})
	return err
}

func (c *Client) namedDepartment(ctx context.Context, req request) (domain.Department, error) {
	body, err := c.do(ctx, req)
	if err != nil {
		return domain.Department{}, err
	}
	var w wireNamed
	if err := decode(body, &w, "department"); err != nil {
		return domain.Department{}, err
	}
	return parseDepartment(w)
}

// Categories

func (c *Client) ListCategories(ctx context.Context, token string) ([]domain.Category, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, path: "/api/categories", token: token})
	if err != nil {
		return nil, err
	}
	var ws []wireNamed
	if err := decode(body, &ws, "list categories"); err != nil {
		return nil, err
	}
	return parseCategories(ws)
}

func (c *Client) GetCategory(ctx context.Context, token string, id int64) (domain.Category, error) {
	return c.namedCategory(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/api/categories/%d", id), token: token})
}

func (c *Client) CreateCategory(ctx context.Context, token string, in domain.CategoryInput) (domain.Category, error) {
	return c.namedCategory(ctx, request{method: http.MethodPost, path: "/api/categories", token: token, body: in})
}

func (c *Client) UpdateCategory(ctx context.Context, token string, id int64, in domain.CategoryInput) (domain.Category, error) {
	return c.namedCategory(ctx, request{method: http.MethodPut, path: fmt.Sprintf("/api/categories/%d", id), token: token, body: in})
}

func (c *Client) DeleteCategory(ctx context.Context, token string, id int64) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, path: fmt.Sprintf("/api/categories/%d", id), token: token})
	return err
}

func (c *Client) namedCategory(ctx context.Context, req request) (domain.Category, error) {
	body, err := c.do(ctx, req)
	if err != nil {
		return domain.Category{}, err
	}
	var w wireNamed
	if err := decode(body, &w, "category"); err != nil {
		return domain.Category{}, err
	}
	return parseCategory(w)
}

// Users

func (c *Client) ListUsers(ctx context.Context, token string) ([]domain.User, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, path: "/api/users", token: token})
	if err != nil {
		return nil, err
	}
	var ws []wireUser
	if err := decode(body, &ws, "list users"); err != nil {
		return nil, err
	}
	return parseUsers(ws)
}

func (c *Client) GetUser(ctx context.Context, token string, id int64) (domain.User, error) {
	return c.user(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/api/users/%d", id), token: token})
}

// CreateUser registers a user through the admin users endpoint.
func (c *Client) CreateUser(ctx context.Context, token string, in domain.UserInput) (domain.User, error) {
	return c.user(ctx, request{method: http.MethodPost, path: "/api/users", token: token, body: in})
}

func (c *Client) UpdateUser(ctx context.Context, token string, id int64, patch domain.UserPatch) (domain.User, error) {
	return c.user(ctx, request{method: http.MethodPut, path: fmt.Sprintf("/api/users/%d", id), token: token, body: patch})
}

func (c *Client) DeleteUser(ctx context.Context, token string, id int64) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, path: fmt.Sprintf("/api/users/%d", id), token: token})
	return err
}

// AssignDepartment adds a membership and returns the updated user.
func (c *Client) AssignDepartment(ctx context.Context, token string, userID, departmentID int64) (domain.User, error) {
	return c.user(ctx, request{method: http.MethodPut, path: membershipPath(userID, departmentID), token: token})
}

// RemoveDepartment drops a membership and returns the updated user.
func (c *Client) RemoveDepartment(ctx context.Context, token string, userID, departmentID int64) (domain.User, error) {
	return c.user(ctx, request{method: http.MethodDelete, path: membershipPath(userID, departmentID), token: token})
}

func membershipPath(userID, departmentID int64) string {
	return fmt.Sprintf("/api/users/%d/departments/%d", userID, departmentID)
}

func (c *Client) user(ctx context.Context, req request) (domain.User, error) {
	body, err := c.do(ctx, req)
	if err != nil {
		return domain.User{}, err
	}
	var w wireUser
	if err := decode(body, &w, "user"); err != nil {
		return domain.User{}, err
	}
	return parseUser(w)
}
