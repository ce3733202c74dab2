package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deptdocs/core/internal/auth"
	"deptdocs/core/internal/authpw"
	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/query"
	"deptdocs/core/internal/rbac"
	"deptdocs/core/internal/search"
	"deptdocs/core/internal/store"
	"go.uber.org/zap"
)

// Store is everything the server needs from persistence. *store.PostgresStore
// implements it.
type Store interface {
	authpw.UserStore

	Ping(ctx context.Context) error

	ListDocuments(ctx context.Context, scope store.Scope) ([]domain.Document, error)
	QueryDocuments(ctx context.Context, spec query.Spec, scope store.Scope) (query.PageResult, error)
	GetDocument(ctx context.Context, id int64) (domain.Document, error)
	DocumentsByID(ctx context.Context, ids []int64) ([]domain.Document, error)
	CreateDocument(ctx context.Context, in domain.DocumentInput, createdBy int64) (domain.Document, error)
	SaveDocument(ctx context.Context, doc domain.Document) (domain.Document, error)
	DeleteDocument(ctx context.Context, id int64) error

	ListDepartments(ctx context.Context) ([]domain.Department, error)
	GetDepartment(ctx context.Context, id int64) (domain.Department, error)
	CreateDepartment(ctx context.Context, in domain.DepartmentInput) (domain.Department, error)
	UpdateDepartment(ctx context.Context, id int64, in domain.DepartmentInput) (domain.Department, error)
	DeleteDepartment(ctx context.Context, id int64) error

	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id int64) (domain.Category, error)
	CreateCategory(ctx context.Context, in domain.CategoryInput) (domain.Category, error)
	UpdateCategory(ctx context.Context, id int64, in domain.CategoryInput) (domain.Category, error)
	DeleteCategory(ctx context.Context, id int64) error

	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUser(ctx context.Context, id int64) (domain.User, error)
	UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) (domain.User, error)
	DeleteUser(ctx context.Context, id int64) error
	AssignDepartment(ctx context.Context, userID, departmentID int64) (domain.User, error)
	RemoveDepartment(ctx context.Context, userID, departmentID int64) (domain.User, error)
}

var _ Store = (*store.PostgresStore)(nil)

type Deps struct {
	Store     Store
	Tokens    *auth.Issuer
	Passwords *authpw.Service
	Search    *search.Service
	Log       *zap.Logger
}

// Service applies the authorization rules the client enforces, this time
// against the database.
type Service struct {
	store     Store
	tokens    *auth.Issuer
	passwords *authpw.Service
	search    *search.Service
	log       *zap.Logger
}

func NewService(d Deps) *Service {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Passwords == nil {
		d.Passwords = authpw.NewService(d.Store)
	}
	return &Service{
		store:     d.Store,
		tokens:    d.Tokens,
		passwords: d.Passwords,
		search:    d.Search,
		log:       d.Log,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap seeds the administrator account when none exists and rebuilds
// the search index.
func (s *Service) Bootstrap(ctx context.Context, adminEmail, adminPassword string) error {
	created, err := s.passwords.EnsureAdmin(ctx, adminEmail, adminPassword)
	if err != nil {
		return err
	}
	if created {
		s.log.Info("seed administrator created", zap.String("email", adminEmail))
	}
	if s.search == nil {
		return nil
	}
	docs, err := s.store.ListDocuments(ctx, store.Scope{All: true})
	if err != nil {
		return fmt.Errorf("load documents for reindex: %w", err)
	}
	if err := s.search.Reindex(ctx, docs); err != nil {
		s.log.Warn("search reindex failed", zap.Error(err))
	}
	return nil
}

func authorize(d rbac.Decision) error {
	if d.Allowed {
		return nil
	}
	return domain.Forbidden(string(d.Reason))
}

// Sessions

type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      domain.User `json:"user"`
}

func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}
	token, expiresAt, err := s.tokens.Issue(user.ID, user.DisplayName)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	return LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// PrincipalFromToken resolves a bearer token. Roles and memberships are read
// from the store on every request so changes apply without a new login.
func (s *Service) PrincipalFromToken(ctx context.Context, token string) (domain.Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return domain.Principal{}, domain.Unauthenticated("invalid or expired token")
	}
	user, err := s.store.GetUser(ctx, claims.Sub)
	if err != nil {
		if domain.Is(err, domain.KindNotFound) {
			return domain.Principal{}, domain.Unauthenticated("account no longer exists")
		}
		return domain.Principal{}, err
	}
	return domain.Principal{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Roles:       user.Roles,
		Departments: user.DepartmentIDs(),
		Credential:  token,
	}, nil
}

// Documents

func (s *Service) ListDocuments(ctx context.Context, p domain.Principal) ([]domain.Document, error) {
	return s.store.ListDocuments(ctx, store.ScopeFor(p))
}

func (s *Service) QueryDocuments(ctx context.Context, p domain.Principal, spec query.Spec) (query.PageResult, error) {
	return s.store.QueryDocuments(ctx, spec, store.ScopeFor(p))
}

func (s *Service) GetDocument(ctx context.Context, p domain.Principal, id int64) (domain.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	if err := authorize(rbac.Authorize(p, rbac.ActionView, rbac.OnDocument(doc))); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

func (s *Service) CreateDocument(ctx context.Context, p domain.Principal, in domain.DocumentInput) (domain.Document, error) {
	in = in.Normalize()
	if err := domain.Validate(in); err != nil {
		return domain.Document{}, err
	}
	if err := authorize(rbac.Authorize(p, rbac.ActionCreate, rbac.InDepartment(in.DepartmentID))); err != nil {
		return domain.Document{}, err
	}
	doc, err := s.store.CreateDocument(ctx, in, p.ID)
	if err != nil {
		return domain.Document{}, err
	}
	s.log.Info("document created", zap.Int64("id", doc.ID), zap.Int64("user_id", p.ID))
	s.index(doc)
	return doc, nil
}

// UpdateDocument applies patch. Moving the document to another department
// also needs create rights there.
func (s *Service) UpdateDocument(ctx context.Context, p domain.Principal, id int64, patch domain.DocumentPatch) (domain.Document, error) {
	if err := domain.Validate(patch); err != nil {
		return domain.Document{}, err
	}
	if patch.Empty() {
		return domain.Document{}, domain.ValidationFailed("nothing to update", nil)
	}
	current, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	if err := authorize(rbac.Authorize(p, rbac.ActionUpdate, rbac.OnDocument(current))); err != nil {
		return domain.Document{}, err
	}
	next := patch.Apply(current)
	if patch.MovesDepartment(current) {
		if err := authorize(rbac.Authorize(p, rbac.ActionCreate, rbac.InDepartment(next.DepartmentID))); err != nil {
			return domain.Document{}, err
		}
	}
	next.Title = strings.TrimSpace(next.Title)
	if next.Title == "" {
		return domain.Document{}, domain.ValidationFailed("invalid Title", map[string]string{"Title": "required"})
	}
	saved, err := s.store.SaveDocument(ctx, next)
	if err != nil {
		return domain.Document{}, err
	}
	s.log.Info("document updated", zap.Int64("id", saved.ID), zap.Int64("user_id", p.ID))
	s.index(saved)
	return saved, nil
}

func (s *Service) DeleteDocument(ctx context.Context, p domain.Principal, id int64) error {
	current, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(rbac.Authorize(p, rbac.ActionDelete, rbac.OnDocument(current))); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	s.log.Info("document deleted", zap.Int64("id", id), zap.Int64("user_id", p.ID))
	if s.search != nil {
		s.search.DeleteDocument(id)
	}
	return nil
}

func (s *Service) index(doc domain.Document) {
	if s.search != nil {
		s.search.IndexDocument(doc)
	}
}

// Search returns visible documents matching text, best match first.
func (s *Service) Search(ctx context.Context, p domain.Principal, text string, limit int) ([]domain.Document, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []domain.Document{}, nil
	}
	if s.search == nil {
		return nil, domain.RemoteUnavailable("search is not configured", nil)
	}
	ids, err := s.search.Search(ctx, search.Query{Text: text, Scope: store.ScopeFor(p), Limit: limit})
	if err != nil {
		return nil, err
	}
	docs, err := s.store.DocumentsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	// The index can lag behind membership changes.
	return rbac.VisibleTo(p, docs), nil
}

// Departments and categories

func (s *Service) ListDepartments(ctx context.Context, p domain.Principal) ([]domain.Department, error) {
	return s.store.ListDepartments(ctx)
}

func (s *Service) GetDepartment(ctx context.Context, p domain.Principal, id int64) (domain.Department, error) {
	return s.store.GetDepartment(ctx, id)
}

func (s *Service) CreateDepartment(ctx context.Context, p domain.Principal, in domain.DepartmentInput) (domain.Department, error) {
	if err := s.adminWrite(p, rbac.ActionCreate, in); err != nil {
		return domain.Department{}, err
	}
	return s.store.CreateDepartment(ctx, in)
}

func (s *Service) UpdateDepartment(ctx context.Context, p domain.Principal, id int64, in domain.DepartmentInput) (domain.Department, error) {
	if err := s.adminWrite(p, rbac.ActionUpdate, in); err != nil {
		return domain.Department{}, err
	}
	return s.store.UpdateDepartment(ctx, id, in)
}

func (s *Service) DeleteDepartment(ctx context.Context, p domain.Principal, id int64) error {
	if err := authorize(rbac.AuthorizeCollection(p, rbac.ActionDelete)); err != nil {
		return err
	}
	return s.store.DeleteDepartment(ctx, id)
}

func (s *Service) ListCategories(ctx context.Context, p domain.Principal) ([]domain.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *Service) GetCategory(ctx context.Context, p domain.Principal, id int64) (domain.Category, error) {
	return s.store.GetCategory(ctx, id)
}

func (s *Service) CreateCategory(ctx context.Context, p domain.Principal, in domain.CategoryInput) (domain.Category, error) {
	if err := s.adminWrite(p, rbac.ActionCreate, in); err != nil {
		return domain.Category{}, err
	}
	return s.store.CreateCategory(ctx, in)
}

func (s *Service) UpdateCategory(ctx context.Context, p domain.Principal, id int64, in domain.CategoryInput) (domain.Category, error) {
	if err := s.adminWrite(p, rbac.ActionUpdate, in); err != nil {
		return domain.Category{}, err
	}
	return s.store.UpdateCategory(ctx, id, in)
}

func (s *Service) DeleteCategory(ctx context.Context, p domain.Principal, id int64) error {
	if err := authorize(rbac.AuthorizeCollection(p, rbac.ActionDelete)); err != nil {
		return err
	}
	return s.store.DeleteCategory(ctx, id)
}

// adminWrite authorizes a collection mutation, then validates its payload.
func (s *Service) adminWrite(p domain.Principal, action rbac.Action, payload any) error {
	if err := authorize(rbac.AuthorizeCollection(p, action)); err != nil {
		return err
	}
	return domain.Validate(payload)
}

// Users

func (s *Service) ListUsers(ctx context.Context, p domain.Principal) ([]domain.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, p domain.Principal, id int64) (domain.User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *Service) RegisterUser(ctx context.Context, p domain.Principal, in domain.UserInput) (domain.User, error) {
	if err := authorize(rbac.AuthorizeCollection(p, rbac.ActionCreate)); err != nil {
		return domain.User{}, err
	}
	user, err := s.passwords.Register(ctx, in)
	if err != nil {
		return domain.User{}, err
	}
	s.log.Info("user registered", zap.Int64("id", user.ID), zap.Int64("by", p.ID))
	return user, nil
}

func (s *Service) UpdateUser(ctx context.Context, p domain.Principal, id int64, patch domain.UserPatch) (domain.User, error) {
	if err := s.adminWrite(p, rbac.ActionUpdate, patch); err != nil {
		return domain.User{}, err
	}
	return s.store.UpdateUser(ctx, id, patch)
}

func (s *Service) DeleteUser(ctx context.Context, p domain.Principal, id int64) error {
	if err := authorize(rbac.AuthorizeCollection(p, rbac.ActionDelete)); err != nil {
		return err
	}
	if id == p.ID {
		return domain.ValidationFailed("cannot delete your own account", nil)
	}
	return s.store.DeleteUser(ctx, id)
}

func (s *Service) AssignDepartment(ctx context.Context, p domain.Principal, userID, departmentID int64) (domain.User, error) {
	if err := authorize(rbac.AuthorizeCollection(p, rbac.ActionUpdate)); err != nil {
		return domain.User{}, err
	}
	return s.store.AssignDepartment(ctx, userID, departmentID)
}

func (s *Service) RemoveDepartment(ctx context.Context, p domain.Principal, userID, departmentID int64) (domain.User, error) {
	if err := authorize(rbac.AuthorizeCollection(p, rbac.ActionUpdate)); err != nil {
		return domain.User{}, err
	}
	return s.store.RemoveDepartment(ctx, userID, departmentID)
}
