package server

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/query"
	"deptdocs/core/internal/store"
)

// memStore is an in-memory Store. Queries reuse the client-side engine so
// both sides of the wire agree in tests.
type memStore struct {
	mu      sync.Mutex
	docs    map[int64]domain.Document
	depts   map[int64]domain.Department
	cats    map[int64]domain.Category
	users   map[int64]store.Credentials
	members map[int64][]int64
	nextID  int64
	clock   time.Time
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		docs:    map[int64]domain.Document{},
		depts:   map[int64]domain.Department{},
		cats:    map[int64]domain.Category{},
		users:   map[int64]store.Credentials{},
		members: map[int64][]int64{},
		nextID:  1,
		clock:   time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Minute)
	return m.clock
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

func inScope(scope store.Scope, doc domain.Document) bool {
	if scope.All || doc.DepartmentID == nil {
		return true
	}
	for _, id := range scope.Departments {
		if id == *doc.DepartmentID {
			return true
		}
	}
	return false
}

func (m *memStore) scoped(scope store.Scope) []domain.Document {
	out := []domain.Document{}
	for _, doc := range m.docs {
		if inScope(scope, doc) {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) ListDocuments(ctx context.Context, scope store.Scope) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scoped(scope), nil
}

func (m *memStore) QueryDocuments(ctx context.Context, spec query.Spec, scope store.Scope) (query.PageResult, error) {
	if err := spec.Validate(); err != nil {
		return query.PageResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := query.Filter(m.scoped(scope), spec)
	query.Sort(matched, spec.SortBy, spec.Order)
	return query.NewPageResult(matched, spec.Page, spec.PageSize), nil
}

func (m *memStore) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return domain.Document{}, domain.NotFound(domain.EntityDocument, id)
	}
	return doc.Clone(), nil
}

func (m *memStore) DocumentsByID(ctx context.Context, ids []int64) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Document{}
	for _, id := range ids {
		if doc, ok := m.docs[id]; ok {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

func (m *memStore) CreateDocument(ctx context.Context, in domain.DocumentInput, createdBy int64) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	doc := domain.Document{
		ID:           m.id(),
		Title:        in.Title,
		Description:  in.Description,
		Content:      in.Content,
		Status:       in.Status,
		Tags:         append([]string{}, in.Tags...),
		DepartmentID: in.DepartmentID,
		CategoryID:   in.CategoryID,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.docs[doc.ID] = doc
	return doc.Clone(), nil
}

func (m *memStore) SaveDocument(ctx context.Context, doc domain.Document) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.docs[doc.ID]
	if !ok {
		return domain.Document{}, domain.NotFound(domain.EntityDocument, doc.ID)
	}
	doc.CreatedAt = current.CreatedAt
	doc.CreatedBy = current.CreatedBy
	doc.UpdatedAt = m.tick()
	m.docs[doc.ID] = doc.Clone()
	return doc, nil
}

func (m *memStore) DeleteDocument(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return domain.NotFound(domain.EntityDocument, id)
	}
	delete(m.docs, id)
	return nil
}

func (m *memStore) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Department{}
	for _, d := range m.depts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetDepartment(ctx context.Context, id int64) (domain.Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.depts[id]
	if !ok {
		return domain.Department{}, domain.NotFound(domain.EntityDepartment, id)
	}
	return d, nil
}

func (m *memStore) CreateDepartment(ctx context.Context, in domain.DepartmentInput) (domain.Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := domain.Department{ID: m.id(), Name: in.Name, Description: in.Description}
	m.depts[d.ID] = d
	return d, nil
}

func (m *memStore) UpdateDepartment(ctx context.Context, id int64, in domain.DepartmentInput) (domain.Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.depts[id]; !ok {
		return domain.Department{}, domain.NotFound(domain.EntityDepartment, id)
	}
	d := domain.Department{ID: id, Name: in.Name, Description: in.Description}
	m.depts[id] = d
	return d, nil
}

func (m *memStore) DeleteDepartment(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.depts[id]; !ok {
		return domain.NotFound(domain.EntityDepartment, id)
	}
	delete(m.depts, id)
	return nil
}

func (m *memStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Category{}
	for _, c := range m.cats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cats[id]
	if !ok {
		return domain.Category{}, domain.NotFound(domain.EntityCategory, id)
	}
	return c, nil
}

func (m *memStore) CreateCategory(ctx context.Context, in domain.CategoryInput) (domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := domain.Category{ID: m.id(), Name: in.Name, Description: in.Description}
	m.cats[c.ID] = c
	return c, nil
}

func (m *memStore) UpdateCategory(ctx context.Context, id int64, in domain.CategoryInput) (domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cats[id]; !ok {
		return domain.Category{}, domain.NotFound(domain.EntityCategory, id)
	}
	c := domain.Category{ID: id, Name: in.Name, Description: in.Description}
	m.cats[id] = c
	return c, nil
}

func (m *memStore) DeleteCategory(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cats[id]; !ok {
		return domain.NotFound(domain.EntityCategory, id)
	}
	delete(m.cats, id)
	return nil
}

func (m *memStore) userLocked(id int64) (domain.User, bool) {
	creds, ok := m.users[id]
	if !ok {
		return domain.User{}, false
	}
	user := creds.User.Clone()
	user.Departments = []domain.Department{}
	for _, deptID := range m.members[id] {
		if d, ok := m.depts[deptID]; ok {
			user.Departments = append(user.Departments, d)
		}
	}
	return user, true
}

func (m *memStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.User{}
	for id := range m.users {
		user, _ := m.userLocked(id)
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetUser(ctx context.Context, id int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.userLocked(id)
	if !ok {
		return domain.User{}, domain.NotFound(domain.EntityUser, id)
	}
	return user, nil
}

func (m *memStore) CredentialsByEmail(ctx context.Context, email string) (store.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, creds := range m.users {
		if strings.EqualFold(creds.User.Email, email) {
			user, _ := m.userLocked(id)
			return store.Credentials{User: user, PasswordHash: creds.PasswordHash}, nil
		}
	}
	return store.Credentials{}, domain.NotFound(domain.EntityUser, 0)
}

func (m *memStore) CreateUser(ctx context.Context, in store.NewUser) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := domain.User{
		ID:          m.id(),
		DisplayName: in.DisplayName,
		Email:       in.Email,
		Roles:       append([]string{}, in.Roles...),
		Departments: []domain.Department{},
	}
	m.users[user.ID] = store.Credentials{User: user, PasswordHash: in.PasswordHash}
	return user, nil
}

func (m *memStore) CountAdmins(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, creds := range m.users {
		for _, role := range creds.User.Roles {
			if role == domain.RoleAdmin {
				n++
			}
		}
	}
	return n, nil
}

func (m *memStore) UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	creds, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.NotFound(domain.EntityUser, id)
	}
	if patch.DisplayName != nil {
		creds.User.DisplayName = *patch.DisplayName
	}
	if patch.Email != nil {
		creds.User.Email = *patch.Email
	}
	if patch.Roles != nil {
		creds.User.Roles = append([]string{}, *patch.Roles...)
	}
	m.users[id] = creds
	user, _ := m.userLocked(id)
	return user, nil
}

func (m *memStore) DeleteUser(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return domain.NotFound(domain.EntityUser, id)
	}
	delete(m.users, id)
	delete(m.members, id)
	return nil
}

func (m *memStore) AssignDepartment(ctx context.Context, userID, departmentID int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.depts[departmentID]; !ok {
		return domain.User{}, domain.NotFound(domain.EntityDepartment, departmentID)
	}
	if _, ok := m.users[userID]; !ok {
		return domain.User{}, domain.NotFound(domain.EntityUser, userID)
	}
	for _, id := range m.members[userID] {
		if id == departmentID {
			user, _ := m.userLocked(userID)
			return user, nil
		}
	}
	m.members[userID] = append(m.members[userID], departmentID)
	user, _ := m.userLocked(userID)
	return user, nil
}

func (m *memStore) RemoveDepartment(ctx context.Context, userID, departmentID int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return domain.User{}, domain.NotFound(domain.EntityUser, userID)
	}
	kept := m.members[userID][:0]
	for _, id := range m.members[userID] {
		if id != departmentID {
			kept = append(kept, id)
		}
	}
	m.members[userID] = kept
	user, _ := m.userLocked(userID)
	return user, nil
}
