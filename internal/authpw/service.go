// Package authpw provides email/password accounts for the document server.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var errInvalidLogin = domain.Unauthenticated("invalid email or password")

// Service registers users and checks their passwords.
type Service struct {
	store UserStore
	cost  int
}

// UserStore defines the storage interface for auth
type UserStore interface {
	CredentialsByEmail(ctx context.Context, email string) (store.Credentials, error)
	CreateUser(ctx context.Context, user store.NewUser) (domain.User, error)
	CountAdmins(ctx context.Context) (int, error)
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// WithCost returns a copy hashing with the given bcrypt cost. Tests use
// bcrypt.MinCost to stay fast.
func (s *Service) WithCost(cost int) *Service {
	next := *s
	next.cost = cost
	return &next
}

// Register creates an account. Roles default to ROLE_USER; an email that is
// already taken fails validation.
func (s *Service) Register(ctx context.Context, in domain.UserInput) (domain.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := domain.Validate(in); err != nil {
		return domain.User{}, err
	}

	_, err := s.store.CredentialsByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return domain.User{}, domain.ValidationFailed("email already registered", map[string]any{"email": in.Email})
	case !domain.Is(err, domain.KindNotFound):
		return domain.User{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	roles := make([]string, 0, len(in.Roles))
	for _, role := range in.Roles {
		roles = append(roles, domain.NormalizeRole(role))
	}
	if len(roles) == 0 {
		roles = []string{domain.RoleUser}
	}

	user, err := s.store.CreateUser(ctx, store.NewUser{
		DisplayName:  in.DisplayName,
		Email:        in.Email,
		PasswordHash: string(hash),
		Roles:        roles,
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// SignIn authenticates a user. Unknown emails and wrong passwords fail the
// same way.
func (s *Service) SignIn(ctx context.Context, email, password string) (domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.User{}, domain.ValidationFailed("email and password are required", nil)
	}

	creds, err := s.store.CredentialsByEmail(ctx, email)
	if err != nil {
		if domain.Is(err, domain.KindNotFound) {
			return domain.User{}, errInvalidLogin
		}
		return domain.User{}, fmt.Errorf("lookup email: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) || errors.Is(err, bcrypt.ErrHashTooShort) {
			return domain.User{}, errInvalidLogin
		}
		return domain.User{}, fmt.Errorf("compare password: %w", err)
	}
	return creds.User, nil
}

// EnsureAdmin creates the seed administrator when no administrator exists
// yet. It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return false, nil
	}
	n, err := s.store.CountAdmins(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	_, err = s.Register(ctx, domain.UserInput{
		DisplayName: "Administrator",
		Email:       email,
		Password:    password,
		Roles:       []string{domain.RoleAdmin},
	})
	if err != nil {
		return false, fmt.Errorf("seed admin: %w", err)
	}
	return true, nil
}
