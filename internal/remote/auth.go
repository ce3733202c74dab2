package remote

import (
	"context"
	"net/http"
	"strings"

	"deptdocs/core/internal/domain"
)

// LoginRequest represents a sign-in request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type wireLogin struct {
	Token *string   `json:"token"`
	User  *wireUser `json:"user"`
}

// Login exchanges credentials for a Principal carrying its bearer token.
// The session collaborator hands the result to session.Context.Init.
func (c *Client) Login(ctx context.Context, email, password string) (domain.Principal, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.Principal{}, domain.ValidationFailed("email and password are required", nil)
	}
	body, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/auth/login",
		body:   LoginRequest{Email: email, Password: password},
	})
	if err != nil {
		return domain.Principal{}, err
	}
	var w wireLogin
	if err := decode(body, &w, "login"); err != nil {
		return domain.Principal{}, err
	}
	if w.Token == nil || *w.Token == "" {
		return domain.Principal{}, mismatch("login: missing token")
	}
	if w.User == nil {
		return domain.Principal{}, mismatch("login: missing user")
	}
	user, err := parseUser(*w.User)
	if err != nil {
		return domain.Principal{}, err
	}
	return domain.Principal{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Roles:       user.Roles,
		Departments: user.DepartmentIDs(),
		Credential:  *w.Token,
	}, nil
}

// Register creates an account through the admin registration endpoint.
func (c *Client) Register(ctx context.Context, token string, in domain.UserInput) (domain.User, error) {
	return c.user(ctx, request{method: http.MethodPost, path: "/api/auth/register", token: token, body: in})
}
