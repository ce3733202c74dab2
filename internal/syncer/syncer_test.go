package syncer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"deptdocs/core/internal/blob"
	"deptdocs/core/internal/cache"
	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/query"
	"deptdocs/core/internal/session"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeRemote struct {
	mu     sync.Mutex
	docs   map[int64]domain.Document
	users  map[int64]domain.User
	depts  map[int64]domain.Department
	nextID int64
	calls  map[string]int

	// hooks run before the matching call answers; they may block.
	onList   func(ctx context.Context, call int) error
	onGet    func(ctx context.Context, id int64) error
	onUpdate func(ctx context.Context, id int64) error
}

var _ Remote = (*fakeRemote)(nil)

func newFakeRemote(docs ...domain.Document) *fakeRemote {
	f := &fakeRemote{
		docs:   make(map[int64]domain.Document),
		users:  make(map[int64]domain.User),
		depts:  make(map[int64]domain.Department),
		nextID: 100,
		calls:  make(map[string]int),
	}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeRemote) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.calls[name]
}

func (f *fakeRemote) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeRemote) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRemote) sorted() []domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Document, 0, len(f.docs))
	for id := int64(1); id <= f.nextID+int64(len(f.docs)); id++ {
		if d, ok := f.docs[id]; ok {
			out = append(out, d.Clone())
		}
	}
	return out
}

func (f *fakeRemote) ListDocuments(ctx context.Context, _ string) ([]domain.Document, error) {
	n := f.count("ListDocuments")
	snapshot := f.sorted()
	if f.onList != nil {
		if err := f.onList(ctx, n); err != nil {
			return nil, err
		}
	}
	return snapshot, nil
}

func (f *fakeRemote) QueryDocuments(_ context.Context, _ string, spec query.Spec) (query.PageResult, error) {
	f.count("QueryDocuments")
	return query.NewPageResult(f.sorted(), spec.Page, spec.PageSize), nil
}

func (f *fakeRemote) GetDocument(ctx context.Context, _ string, id int64) (domain.Document, error) {
	f.count("GetDocument")
	if f.onGet != nil {
		if err := f.onGet(ctx, id); err != nil {
			return domain.Document{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return domain.Document{}, domain.NotFound(domain.EntityDocument, id)
	}
	return d.Clone(), nil
}

func (f *fakeRemote) CreateDocument(_ context.Context, _ string, in domain.DocumentInput) (domain.Document, error) {
	f.count("CreateDocument")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	d := domain.Document{
		ID: f.nextID, Title: in.Title, Description: in.Description, Content: in.Content,
		Status: in.Status, Tags: in.Tags, DepartmentID: in.DepartmentID, CategoryID: in.CategoryID,
		CreatedAt: epoch, UpdatedAt: epoch,
	}
	f.docs[d.ID] = d
	return d.Clone(), nil
}

func (f *fakeRemote) UpdateDocument(ctx context.Context, _ string, id int64, patch domain.DocumentPatch) (domain.Document, error) {
	f.count("UpdateDocument")
	if f.onUpdate != nil {
		if err := f.onUpdate(ctx, id); err != nil {
			return domain.Document{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return domain.Document{}, domain.NotFound(domain.EntityDocument, id)
	}
	d = patch.Apply(d)
	d.UpdatedAt = d.UpdatedAt.Add(time.Minute)
	f.docs[id] = d
	return d.Clone(), nil
}

func (f *fakeRemote) DeleteDocument(_ context.Context, _ string, id int64) error {
	f.count("DeleteDocument")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return domain.NotFound(domain.EntityDocument, id)
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeRemote) SearchDocuments(_ context.Context, _ string, _ string) ([]domain.Document, error) {
	f.count("SearchDocuments")
	return f.sorted(), nil
}

func (f *fakeRemote) ListDepartments(_ context.Context, _ string) ([]domain.Department, error) {
	f.count("ListDepartments")
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Department
	for id := int64(1); id <= f.nextID; id++ {
		if d, ok := f.depts[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeRemote) GetDepartment(_ context.Context, _ string, id int64) (domain.Department, error) {
	f.count("GetDepartment")
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.depts[id]
	if !ok {
		return domain.Department{}, domain.NotFound(domain.EntityDepartment, id)
	}
	return d, nil
}

func (f *fakeRemote) CreateDepartment(_ context.Context, _ string, in domain.DepartmentInput) (domain.Department, error) {
	f.count("CreateDepartment")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	d := domain.Department{ID: f.nextID, Name: in.Name, Description: in.Description}
	f.depts[d.ID] = d
	return d, nil
}

func (f *fakeRemote) UpdateDepartment(_ context.Context, _ string, id int64, in domain.DepartmentInput) (domain.Department, error) {
	f.count("UpdateDepartment")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.depts[id]; !ok {
		return domain.Department{}, domain.NotFound(domain.EntityDepartment, id)
	}
	d := domain.Department{ID: id, Name: in.Name, Description: in.Description}
	f.depts[id] = d
	return d, nil
}

func (f *fakeRemote) DeleteDepartment(_ context.Context, _ string, id int64) error {
	f.count("DeleteDepartment")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.depts[id]; !ok {
		return domain.NotFound(domain.EntityDepartment, id)
	}
	delete(f.depts, id)
	return nil
}

func (f *fakeRemote) ListCategories(context.Context, string) ([]domain.Category, error) {
	f.count("ListCategories")
	return nil, nil
}

func (f *fakeRemote) GetCategory(_ context.Context, _ string, id int64) (domain.Category, error) {
	f.count("GetCategory")
	return domain.Category{}, domain.NotFound(domain.EntityCategory, id)
}

func (f *fakeRemote) CreateCategory(_ context.Context, _ string, in domain.CategoryInput) (domain.Category, error) {
	f.count("CreateCategory")
	return domain.Category{ID: 1, Name: in.Name}, nil
}

func (f *fakeRemote) UpdateCategory(_ context.Context, _ string, id int64, in domain.CategoryInput) (domain.Category, error) {
	f.count("UpdateCategory")
	return domain.Category{ID: id, Name: in.Name}, nil
}

func (f *fakeRemote) DeleteCategory(context.Context, string, int64) error {
	f.count("DeleteCategory")
	return nil
}

func (f *fakeRemote) ListUsers(context.Context, string) ([]domain.User, error) {
	f.count("ListUsers")
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.User
	for _, u := range f.users {
		out = append(out, u.Clone())
	}
	return out, nil
}

func (f *fakeRemote) GetUser(_ context.Context, _ string, id int64) (domain.User, error) {
	f.count("GetUser")
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return domain.User{}, domain.NotFound(domain.EntityUser, id)
	}
	return u.Clone(), nil
}

func (f *fakeRemote) CreateUser(_ context.Context, _ string, in domain.UserInput) (domain.User, error) {
	f.count("CreateUser")
	return f.addUser(in), nil
}

func (f *fakeRemote) UpdateUser(_ context.Context, _ string, id int64, patch domain.UserPatch) (domain.User, error) {
	f.count("UpdateUser")
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return domain.User{}, domain.NotFound(domain.EntityUser, id)
	}
	if patch.DisplayName != nil {
		u.DisplayName = *patch.DisplayName
	}
	f.users[id] = u
	return u.Clone(), nil
}

func (f *fakeRemote) DeleteUser(context.Context, string, int64) error {
	f.count("DeleteUser")
	return nil
}

func (f *fakeRemote) AssignDepartment(_ context.Context, _ string, userID, departmentID int64) (domain.User, error) {
	f.count("AssignDepartment")
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return domain.User{}, domain.NotFound(domain.EntityUser, userID)
	}
	u.Departments = append(u.Departments, domain.Department{ID: departmentID, Name: fmt.Sprintf("Dept %d", departmentID)})
	f.users[userID] = u
	return u.Clone(), nil
}

func (f *fakeRemote) RemoveDepartment(_ context.Context, _ string, userID, departmentID int64) (domain.User, error) {
	f.count("RemoveDepartment")
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return domain.User{}, domain.NotFound(domain.EntityUser, userID)
	}
	kept := u.Departments[:0]
	for _, d := range u.Departments {
		if d.ID != departmentID {
			kept = append(kept, d)
		}
	}
	u.Departments = kept
	f.users[userID] = u
	return u.Clone(), nil
}

func (f *fakeRemote) Register(_ context.Context, _ string, in domain.UserInput) (domain.User, error) {
	f.count("Register")
	return f.addUser(in), nil
}

func (f *fakeRemote) addUser(in domain.UserInput) domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	u := domain.User{ID: f.nextID, DisplayName: in.DisplayName, Email: in.Email, Roles: []string{domain.RoleUser}}
	f.users[u.ID] = u
	return u.Clone()
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memBlobs) Upload(_ context.Context, name, _ string, _ int64, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	key := blob.ObjectName(name)
	m.objects[key] = data
	return key, nil
}

func (m *memBlobs) Download(_ context.Context, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[name]
	if !ok {
		return nil, domain.NotFound("attachments", 0)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobs) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	return nil
}

func (m *memBlobs) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func doc(id int64, title string, dept *int64, createdBy int64) domain.Document {
	return domain.Document{
		ID: id, Title: title, Status: domain.StatusDraft, DepartmentID: dept,
		CreatedBy: createdBy, CreatedAt: epoch, UpdatedAt: epoch,
	}
}

func admin() domain.Principal {
	return domain.Principal{ID: 1, DisplayName: "Admin", Roles: []string{domain.RoleAdmin}, Credential: "admin-token"}
}

func member(id int64, depts ...int64) domain.Principal {
	return domain.Principal{ID: id, DisplayName: "Member", Roles: []string{domain.RoleUser}, Departments: depts, Credential: "user-token"}
}

func setup(t *testing.T, p *domain.Principal, api *fakeRemote, opts Options) (*Synchronizer, *session.Context, *cache.Cache) {
	t.Helper()
	sess := session.New()
	if p != nil {
		if err := sess.Init(*p); err != nil {
			t.Fatalf("Init: %v", err)
		}
	}
	c := cache.New(0)
	return New(sess, api, c, opts), sess, c
}

func wantKind(t *testing.T, err error, kind domain.Kind) {
	t.Helper()
	if !domain.Is(err, kind) {
		t.Fatalf("err = %v, want %s", err, kind)
	}
}

func ids(docs []domain.Document) []int64 {
	out := make([]int64, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLoadDocumentsFiltersByVisibility(t *testing.T) {
	api := newFakeRemote(
		doc(1, "One", domain.Int64(2), 9),
		doc(2, "Two", domain.Int64(3), 9),
		doc(3, "Three", nil, 9),
	)
	p := member(5, 2)
	s, _, _ := setup(t, &p, api, Options{})

	visible, err := s.LoadDocuments(context.Background())
	if err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}
	if got := ids(visible); !equalIDs(got, []int64{1, 3}) {
		t.Fatalf("visible = %v, want [1 3]", got)
	}
	if got := ids(s.Documents()); !equalIDs(got, []int64{1, 3}) {
		t.Fatalf("Documents() = %v, want [1 3]", got)
	}
}

func TestStaleListIsDiscarded(t *testing.T) {
	api := newFakeRemote(doc(1, "Old", nil, 1))
	entered := make(chan struct{})
	release := make(chan struct{})
	api.onList = func(ctx context.Context, call int) error {
		if call != 1 {
			return nil
		}
		close(entered)
		<-release
		return nil
	}
	p := admin()
	s, _, c := setup(t, &p, api, Options{})

	errA := make(chan error, 1)
	go func() {
		_, err := s.LoadDocuments(context.Background())
		errA <- err
	}()
	<-entered

	// B is issued after A and sees the newer collection.
	api.mu.Lock()
	api.docs[2] = doc(2, "New", nil, 1)
	delete(api.docs, 1)
	api.mu.Unlock()
	if _, err := s.LoadDocuments(context.Background()); err != nil {
		t.Fatalf("LoadDocuments B: %v", err)
	}

	close(release)
	wantKind(t, <-errA, domain.KindSuperseded)

	if _, ok := c.Documents.Get(1); ok {
		t.Fatalf("stale list resurrected document 1")
	}
	if got := ids(s.Documents()); !equalIDs(got, []int64{2}) {
		t.Fatalf("Documents() = %v, want [2]", got)
	}
}

func TestUnauthenticatedMakesNoCalls(t *testing.T) {
	api := newFakeRemote(doc(1, "One", nil, 1))
	s, _, _ := setup(t, nil, api, Options{})
	ctx := context.Background()

	_, err := s.LoadDocuments(ctx)
	wantKind(t, err, domain.KindUnauthenticated)
	_, _, err = s.GetDocument(ctx, 1)
	wantKind(t, err, domain.KindUnauthenticated)
	_, err = s.CreateDocument(ctx, domain.DocumentInput{Title: "x"})
	wantKind(t, err, domain.KindUnauthenticated)
	wantKind(t, s.DeleteDocument(ctx, 1), domain.KindUnauthenticated)
	_, err = s.Departments().List(ctx)
	wantKind(t, err, domain.KindUnauthenticated)

	if n := api.total(); n != 0 {
		t.Fatalf("remote calls = %d, want 0", n)
	}
}

func TestForbiddenMutationsMakeNoCalls(t *testing.T) {
	api := newFakeRemote(doc(1, "Other dept", domain.Int64(1), 9))
	p := member(5, 2)
	s, _, _ := setup(t, &p, api, Options{})
	ctx := context.Background()

	if _, err := s.LoadDocuments(ctx); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}

	t.Run("create outside membership", func(t *testing.T) {
		_, err := s.CreateDocument(ctx, domain.DocumentInput{Title: "x", DepartmentID: domain.Int64(1)})
		wantKind(t, err, domain.KindForbidden)
	})
	t.Run("create without department", func(t *testing.T) {
		_, err := s.CreateDocument(ctx, domain.DocumentInput{Title: "x"})
		wantKind(t, err, domain.KindForbidden)
	})
	t.Run("update", func(t *testing.T) {
		title := "changed"
		_, err := s.UpdateDocument(ctx, 1, domain.DocumentPatch{Title: &title})
		wantKind(t, err, domain.KindForbidden)
	})
	t.Run("delete", func(t *testing.T) {
		wantKind(t, s.DeleteDocument(ctx, 1), domain.KindForbidden)
	})
	t.Run("collection", func(t *testing.T) {
		_, err := s.Departments().Create(ctx, domain.DepartmentInput{Name: "Ops"})
		wantKind(t, err, domain.KindForbidden)
	})

	for _, name := range []string{"CreateDocument", "UpdateDocument", "DeleteDocument", "CreateDepartment"} {
		if n := api.called(name); n != 0 {
			t.Fatalf("%s called %d times", name, n)
		}
	}
}

func TestMoveNeedsCreateRightsOnTarget(t *testing.T) {
	api := newFakeRemote(doc(1, "Mine", domain.Int64(2), 5))
	p := member(5, 2)
	s, _, _ := setup(t, &p, api, Options{})
	ctx := context.Background()
	if _, err := s.LoadDocuments(ctx); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}

	_, err := s.UpdateDocument(ctx, 1, domain.DocumentPatch{DepartmentID: domain.Int64(3)})
	wantKind(t, err, domain.KindForbidden)
	if n := api.called("UpdateDocument"); n != 0 {
		t.Fatalf("UpdateDocument called %d times", n)
	}

	title := "Renamed"
	updated, err := s.UpdateDocument(ctx, 1, domain.DocumentPatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if updated.Title != title || !updated.UpdatedAt.After(epoch) {
		t.Fatalf("updated = %+v", updated)
	}
	if cached := s.Documents(); len(cached) != 1 || cached[0].Title != title {
		t.Fatalf("cache not updated: %+v", cached)
	}
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	api := newFakeRemote(doc(1, "One", nil, 1))
	p := admin()
	s, _, c := setup(t, &p, api, Options{})
	ctx := context.Background()
	if _, err := s.LoadDocuments(ctx); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}

	wantKind(t, s.DeleteDocument(ctx, 99), domain.KindNotFound)
	if c.Documents.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", c.Documents.Len())
	}
	if n := api.called("DeleteDocument"); n != 0 {
		t.Fatalf("DeleteDocument called %d times", n)
	}

	if err := s.DeleteDocument(ctx, 1); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	wantKind(t, s.DeleteDocument(ctx, 1), domain.KindNotFound)
}

func TestDeleteClearsCurrentView(t *testing.T) {
	api := newFakeRemote(doc(1, "One", nil, 1))
	p := admin()
	s, _, c := setup(t, &p, api, Options{})
	ctx := context.Background()

	got, ok, err := s.GetDocument(ctx, 1)
	if err != nil || !ok || got.ID != 1 {
		t.Fatalf("GetDocument = %+v %v %v", got, ok, err)
	}
	if _, ok := s.Current(); !ok {
		t.Fatalf("Current not set")
	}
	if err := s.DeleteDocument(ctx, 1); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("Current still set after delete")
	}
	if _, ok := c.Documents.Get(1); ok {
		t.Fatalf("document still cached")
	}
}

func TestGetDocumentAbsentEvicts(t *testing.T) {
	api := newFakeRemote(doc(1, "One", nil, 1))
	p := admin()
	s, _, c := setup(t, &p, api, Options{})
	ctx := context.Background()
	if _, err := s.LoadDocuments(ctx); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}
	api.mu.Lock()
	delete(api.docs, 1)
	api.mu.Unlock()

	_, ok, err := s.GetDocument(ctx, 1)
	if err != nil || ok {
		t.Fatalf("GetDocument = ok %v err %v, want absent", ok, err)
	}
	if c.Documents.Len() != 0 || len(s.Documents()) != 0 {
		t.Fatalf("absent document not evicted")
	}
}

func TestGetRacingDeleteDoesNotResurrect(t *testing.T) {
	api := newFakeRemote(doc(1, "One", nil, 1))
	p := admin()
	s, _, c := setup(t, &p, api, Options{})
	ctx := context.Background()
	if _, err := s.LoadDocuments(ctx); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	stale := doc(1, "One", nil, 1)
	api.onGet = func(ctx context.Context, id int64) error {
		close(entered)
		<-release
		return nil
	}

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		_, ok, err := s.GetDocument(ctx, 1)
		done <- result{ok, err}
	}()
	<-entered

	if err := s.DeleteDocument(ctx, 1); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	// the in-flight read still answers with the old copy
	api.mu.Lock()
	api.docs[1] = stale
	api.mu.Unlock()
	close(release)

	res := <-done
	wantKind(t, res.err, domain.KindSuperseded)
	if _, ok := c.Documents.Get(1); ok {
		t.Fatalf("deleted document resurrected")
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("Current set from stale read")
	}
}

func TestGetRacingListServesNewerCopy(t *testing.T) {
	api := newFakeRemote(doc(1, "Draft title", nil, 1))
	p := admin()
	s, _, c := setup(t, &p, api, Options{})
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	api.onGet = func(ctx context.Context, id int64) error {
		close(entered)
		<-release
		return nil
	}

	type result struct {
		doc domain.Document
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		d, ok, err := s.GetDocument(ctx, 1)
		done <- result{d, ok, err}
	}()
	<-entered

	// a list issued after the read commits a newer version first
	api.mu.Lock()
	api.docs[1] = doc(1, "Final title", nil, 1)
	api.mu.Unlock()
	if _, err := s.LoadDocuments(ctx); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}
	// while the read in flight answers with what it saw earlier
	api.mu.Lock()
	api.docs[1] = doc(1, "Draft title", nil, 1)
	api.mu.Unlock()
	close(release)

	res := <-done
	if res.err != nil || !res.ok {
		t.Fatalf("GetDocument = ok %v err %v", res.ok, res.err)
	}
	if res.doc.Title != "Final title" {
		t.Fatalf("GetDocument returned %q, want the newer copy", res.doc.Title)
	}
	current, ok := s.Current()
	if !ok || current.Title != "Final title" {
		t.Fatalf("Current = %+v %v", current, ok)
	}
	if cached, _ := c.Documents.Get(1); cached.Title != "Final title" {
		t.Fatalf("stale read overwrote cache: %q", cached.Title)
	}
}

func TestUpdateNotFoundAfterLogoutIsSuperseded(t *testing.T) {
	api := newFakeRemote(doc(1, "One", nil, 1))
	p := admin()
	s, sess, c := setup(t, &p, api, Options{})
	ctx := context.Background()
	if _, err := s.LoadDocuments(ctx); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}

	api.onUpdate = func(ctx context.Context, id int64) error {
		sess.Logout()
		return domain.NotFound(domain.EntityDocument, id)
	}
	title := "Renamed"
	_, err := s.UpdateDocument(ctx, 1, domain.DocumentPatch{Title: &title})
	wantKind(t, err, domain.KindSuperseded)
	if c.Documents.Len() != 0 {
		t.Fatalf("cache survived logout")
	}
}

func TestLogoutInvalidatesInFlight(t *testing.T) {
	api := newFakeRemote(doc(1, "One", nil, 1))
	entered := make(chan struct{})
	api.onList = func(ctx context.Context, call int) error {
		close(entered)
		<-ctx.Done()
		return domain.Superseded("request cancelled")
	}
	p := admin()
	s, sess, c := setup(t, &p, api, Options{})

	errs := make(chan error, 1)
	go func() {
		_, err := s.LoadDocuments(context.Background())
		errs <- err
	}()
	<-entered
	sess.Logout()

	wantKind(t, <-errs, domain.KindSuperseded)
	if c.Documents.Len() != 0 {
		t.Fatalf("cache not cleared on logout")
	}
	if _, err := s.LoadDocuments(context.Background()); !domain.Is(err, domain.KindUnauthenticated) {
		t.Fatalf("after logout err = %v", err)
	}
}

func TestLogoutBeforeCommitDiscards(t *testing.T) {
	api := newFakeRemote(doc(1, "One", nil, 1))
	entered := make(chan struct{})
	release := make(chan struct{})
	api.onList = func(context.Context, int) error {
		close(entered)
		<-release
		return nil
	}
	p := admin()
	s, sess, c := setup(t, &p, api, Options{})

	errs := make(chan error, 1)
	go func() {
		_, err := s.LoadDocuments(context.Background())
		errs <- err
	}()
	<-entered
	sess.Logout()
	next := member(7, 1)
	if err := sess.Init(next); err != nil {
		t.Fatalf("Init: %v", err)
	}
	close(release)

	wantKind(t, <-errs, domain.KindSuperseded)
	if c.Documents.Len() != 0 {
		t.Fatalf("previous session's list committed into new session")
	}
}

func TestQueryBulkMode(t *testing.T) {
	api := newFakeRemote(
		doc(1, "B", nil, 1),
		doc(2, "A", nil, 1),
		domain.Document{ID: 3, Title: "C", Status: domain.StatusPublished, CreatedBy: 1, CreatedAt: epoch, UpdatedAt: epoch},
	)
	p := admin()
	s, _, _ := setup(t, &p, api, Options{})

	spec := query.NewSpec().WithStatus(domain.StatusDraft)
	spec, err := spec.WithPageSize(1)
	if err != nil {
		t.Fatalf("WithPageSize: %v", err)
	}
	page, err := s.Query(context.Background(), spec)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Title != "A" || page.TotalRecords != 2 || page.TotalPages != 2 {
		t.Fatalf("page = %+v", page)
	}
	if n := api.called("ListDocuments"); n != 1 {
		t.Fatalf("ListDocuments called %d times", n)
	}
	if _, err := s.Query(context.Background(), spec.WithPage(2)); err != nil {
		t.Fatalf("Query page 2: %v", err)
	}
	if n := api.called("ListDocuments"); n != 1 {
		t.Fatalf("second page reloaded the collection")
	}
}

func TestQueryPaginatedModeStoresPage(t *testing.T) {
	api := newFakeRemote(doc(1, "One", nil, 1), doc(2, "Two", nil, 1), doc(3, "Three", nil, 1))
	p := admin()
	s, _, c := setup(t, &p, api, Options{Mode: ModePaginated})

	spec, _ := query.NewSpec().WithPageSize(2)
	page, err := s.Query(context.Background(), spec)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	stored, storedSpec, ok := s.Page()
	if !ok {
		t.Fatalf("Page not stored")
	}
	if !equalIDs(ids(stored.Items), ids(page.Items)) || stored.TotalRecords != 3 || storedSpec.PageSize != 2 {
		t.Fatalf("stored page = %+v spec %+v", stored, storedSpec)
	}
	if c.Documents.Len() != 2 {
		t.Fatalf("page items not merged: len %d", c.Documents.Len())
	}
	if n := api.called("ListDocuments"); n != 0 {
		t.Fatalf("paginated mode listed the whole collection")
	}

	if err := s.DeleteDocument(context.Background(), page.Items[0].ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	stored, _, _ = s.Page()
	if len(stored.Items) != 1 || stored.TotalRecords != 2 {
		t.Fatalf("page after delete = %+v", stored)
	}
}

func TestCreateCommitsServerVersion(t *testing.T) {
	api := newFakeRemote()
	p := member(5, 2)
	s, _, c := setup(t, &p, api, Options{})

	created, err := s.CreateDocument(context.Background(), domain.DocumentInput{
		Title: "  Plan  ", Tags: []string{"b", "a", "b"}, DepartmentID: domain.Int64(2),
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if created.Title != "Plan" || created.Status != domain.StatusDraft || len(created.Tags) != 2 {
		t.Fatalf("created = %+v", created)
	}
	if _, ok := c.Documents.Get(created.ID); !ok {
		t.Fatalf("created document not cached")
	}

	_, err = s.CreateDocument(context.Background(), domain.DocumentInput{DepartmentID: domain.Int64(2)})
	wantKind(t, err, domain.KindValidationFailed)
}

func TestAttachAndDownload(t *testing.T) {
	api := newFakeRemote(doc(1, "One", domain.Int64(2), 5))
	blobs := &memBlobs{}
	p := member(5, 2)
	api.users[5] = domain.User{ID: 5, Departments: []domain.Department{{ID: 2}}}
	s, _, _ := setup(t, &p, api, Options{Blobs: blobs})
	ctx := context.Background()

	_, err := s.AttachFile(ctx, 1, "evil.exe", "application/x-msdownload", 3, bytes.NewReader([]byte("MZ!")))
	wantKind(t, err, domain.KindValidationFailed)

	body := []byte("hello attachment")
	updated, err := s.AttachFile(ctx, 1, "notes.txt", "text/plain", int64(len(body)), bytes.NewReader(body))
	if err != nil {
		t.Fatalf("AttachFile: %v", err)
	}
	if updated.File() == nil || updated.FileType != "text/plain" {
		t.Fatalf("attachment not recorded: %+v", updated)
	}

	rc, file, err := s.DownloadAttachment(ctx, 1)
	if err != nil {
		t.Fatalf("DownloadAttachment: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, body) || file.Name != updated.FileName {
		t.Fatalf("downloaded %q as %+v", got, file)
	}
}

func TestAttachWithoutStorage(t *testing.T) {
	p := admin()
	s, _, _ := setup(t, &p, newFakeRemote(doc(1, "One", nil, 1)), Options{})
	_, err := s.AttachFile(context.Background(), 1, "a.txt", "text/plain", 1, bytes.NewReader([]byte("a")))
	wantKind(t, err, domain.KindRemoteUnavailable)
}

func TestCollections(t *testing.T) {
	api := newFakeRemote()
	p := admin()
	s, _, c := setup(t, &p, api, Options{})
	ctx := context.Background()
	depts := s.Departments()

	ops, err := depts.Create(ctx, domain.DepartmentInput{Name: "Ops"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := depts.Create(ctx, domain.DepartmentInput{}); !domain.Is(err, domain.KindValidationFailed) {
		t.Fatalf("blank name err = %v", err)
	}
	list, err := depts.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v %v", list, err)
	}
	if _, err := depts.Update(ctx, ops.ID, domain.DepartmentInput{Name: "Operations"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got, _ := c.Departments.Get(ops.ID); got.Name != "Operations" {
		t.Fatalf("cached = %+v", got)
	}
	if err := depts.Delete(ctx, ops.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(depts.Cached()) != 0 {
		t.Fatalf("Cached() = %v after delete", depts.Cached())
	}
	if _, ok, err := depts.Get(ctx, ops.ID); ok || err != nil {
		t.Fatalf("Get after delete = ok %v err %v, want absent", ok, err)
	}
}

func TestMembershipUpdatesMyDepartments(t *testing.T) {
	api := newFakeRemote()
	api.users[1] = domain.User{ID: 1, DisplayName: "Admin", Roles: []string{domain.RoleAdmin}}
	p := admin()
	s, _, _ := setup(t, &p, api, Options{})
	ctx := context.Background()

	if _, ok := s.MyDepartments(); ok {
		t.Fatalf("MyDepartments set before load")
	}
	if _, err := s.LoadMyDepartments(ctx); err != nil {
		t.Fatalf("LoadMyDepartments: %v", err)
	}
	if _, err := s.AssignDepartment(ctx, 1, 4); err != nil {
		t.Fatalf("AssignDepartment: %v", err)
	}
	mine, ok := s.MyDepartments()
	if !ok || len(mine) != 1 || mine[0].ID != 4 {
		t.Fatalf("MyDepartments = %v %v", mine, ok)
	}
	if _, err := s.RemoveDepartment(ctx, 1, 4); err != nil {
		t.Fatalf("RemoveDepartment: %v", err)
	}
	if mine, _ := s.MyDepartments(); len(mine) != 0 {
		t.Fatalf("MyDepartments = %v after removal", mine)
	}
}

func TestRegisterUserAdminOnly(t *testing.T) {
	api := newFakeRemote()
	p := member(5, 2)
	s, _, _ := setup(t, &p, api, Options{})
	in := domain.UserInput{DisplayName: "New", Email: "new@example.com", Password: "longenough"}

	_, err := s.RegisterUser(context.Background(), in)
	wantKind(t, err, domain.KindForbidden)
	if api.called("Register") != 0 {
		t.Fatalf("Register reached the remote")
	}

	p = admin()
	s, _, c := setup(t, &p, api, Options{})
	user, err := s.RegisterUser(context.Background(), in)
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if _, ok := c.Users.Get(user.ID); !ok {
		t.Fatalf("registered user not cached")
	}
}

func TestSummary(t *testing.T) {
	api := newFakeRemote(doc(1, "One", nil, 1), doc(2, "Two", domain.Int64(9), 1))
	p := member(5)
	s, _, _ := setup(t, &p, api, Options{})
	if _, err := s.LoadDocuments(context.Background()); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}
	sum, err := s.Summary(5)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Total != 1 || sum.Drafts != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestDeleteDepartmentDropsReferences(t *testing.T) {
	seven := domain.Department{ID: 7, Name: "Seven"}
	api := newFakeRemote(doc(1, "Runbook", domain.Int64(7), 1), doc(2, "Budget", domain.Int64(8), 1))
	api.depts[7] = seven
	api.depts[8] = domain.Department{ID: 8, Name: "Eight"}
	api.users[1] = domain.User{ID: 1, DisplayName: "Admin", Roles: []string{domain.RoleAdmin},
		Departments: []domain.Department{seven, {ID: 8, Name: "Eight"}}}
	p := admin()
	s, _, c := setup(t, &p, api, Options{})
	ctx := context.Background()

	if _, err := s.LoadDocuments(ctx); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}
	if _, err := s.LoadMyDepartments(ctx); err != nil {
		t.Fatalf("LoadMyDepartments: %v", err)
	}
	if _, err := s.Departments().List(ctx); err != nil {
		t.Fatalf("List departments: %v", err)
	}
	if _, _, err := s.GetDocument(ctx, 1); err != nil {
		t.Fatalf("GetDocument: %v", err)
	}

	if err := s.Departments().Delete(ctx, 7); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if mine, _ := s.MyDepartments(); len(mine) != 1 || mine[0].ID != 8 {
		t.Fatalf("MyDepartments = %v", mine)
	}
	if u, _ := c.Users.Get(1); len(u.Departments) != 1 || u.Departments[0].ID != 8 {
		t.Fatalf("cached user departments = %v", u.Departments)
	}
	if d, _ := c.Documents.Get(1); d.DepartmentID != nil {
		t.Fatalf("cached document still in department %d", *d.DepartmentID)
	}
	if d, _ := c.Documents.Get(2); d.DepartmentID == nil || *d.DepartmentID != 8 {
		t.Fatalf("unrelated document changed: %+v", d)
	}
	if current, _ := s.Current(); current.DepartmentID != nil {
		t.Fatalf("current view still in department %d", *current.DepartmentID)
	}
	if visible := s.Documents(); !equalIDs(ids(visible), []int64{1, 2}) {
		t.Fatalf("Documents() = %v", ids(visible))
	}
}

func TestDeleteCategoryClearsDocuments(t *testing.T) {
	filed := doc(1, "Filed", nil, 1)
	filed.CategoryID = domain.Int64(3)
	api := newFakeRemote(filed)
	p := admin()
	s, _, c := setup(t, &p, api, Options{})
	ctx := context.Background()
	if _, err := s.LoadDocuments(ctx); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}

	if err := s.Categories().Delete(ctx, 3); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if d, _ := c.Documents.Get(1); d.CategoryID != nil {
		t.Fatalf("cached document still in category %d", *d.CategoryID)
	}
}

func TestAttachRemovesUploadWhenUpdateFails(t *testing.T) {
	api := newFakeRemote(doc(1, "One", nil, 1))
	blobs := &memBlobs{}
	p := admin()
	s, _, _ := setup(t, &p, api, Options{Blobs: blobs})
	ctx := context.Background()
	if _, err := s.LoadDocuments(ctx); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}

	// gone on the remote, still cached locally
	api.mu.Lock()
	delete(api.docs, 1)
	api.mu.Unlock()

	_, err := s.AttachFile(ctx, 1, "notes.txt", "text/plain", 2, bytes.NewReader([]byte("hi")))
	wantKind(t, err, domain.KindNotFound)
	if n := blobs.len(); n != 0 {
		t.Fatalf("%d orphaned objects left in storage", n)
	}
}
