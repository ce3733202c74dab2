// Package syncer is the Remote Synchronizer: it runs CRUD intents against the
// remote API, checks authorization before anything reaches the network, and
// commits the server's canonical responses to the Local Cache.
//
// Each entity type is a channel with its own monotonic sequence token. Every
// request takes a token when it is issued; its response is committed only if
// no newer request has been committed for the same target and the session
// it was issued under is still live. Anything else is discarded with a
// Superseded error.
package syncer

import (
	"context"
	"fmt"
	"sync"

	"deptdocs/core/internal/blob"
	"deptdocs/core/internal/cache"
	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/logger"
	"deptdocs/core/internal/query"
	"deptdocs/core/internal/rbac"
	"deptdocs/core/internal/session"
	"go.uber.org/zap"
)

// Mode selects how document lists are produced.
type Mode int

const (
	// ModeBulk loads the whole collection and pages it in memory.
	ModeBulk Mode = iota
	// ModePaginated sends the query to the server and trusts its pages.
	ModePaginated
)

type Options struct {
	Mode   Mode
	Blobs  blob.Store
	Policy blob.Policy
	Logger *zap.Logger
}

type Synchronizer struct {
	session *session.Context
	api     Remote
	cache   *cache.Cache
	blobs   blob.Store
	policy  blob.Policy
	mode    Mode
	log     *zap.Logger

	mu         sync.Mutex
	issued     map[domain.EntityType]uint64
	latestList map[domain.EntityType]uint64
	listOrder  map[domain.EntityType][]int64
	loaded     map[domain.EntityType]bool

	view       uint64
	current    *domain.Document
	page       *query.PageResult
	pageSpec   query.Spec
	myDepts    []domain.Department
	myDeptsSet bool

	departments *Collection[domain.Department, domain.DepartmentInput, domain.DepartmentInput]
	categories  *Collection[domain.Category, domain.CategoryInput, domain.CategoryInput]
	users       *Collection[domain.User, domain.UserInput, domain.UserPatch]
}

// New wires a Synchronizer to a session, a remote and the shared cache. The
// cache and every read model are cleared whenever the session is torn down.
func New(sess *session.Context, api Remote, c *cache.Cache, opts Options) *Synchronizer {
	policy := opts.Policy
	if policy.MaxBytes == 0 && len(policy.AllowedTypes) == 0 {
		policy = blob.DefaultPolicy()
	}
	s := &Synchronizer{
		session:    sess,
		api:        api,
		cache:      c,
		blobs:      opts.Blobs,
		policy:     policy,
		mode:       opts.Mode,
		log:        logger.OrNop(opts.Logger).Named("syncer"),
		issued:     make(map[domain.EntityType]uint64),
		latestList: make(map[domain.EntityType]uint64),
		listOrder:  make(map[domain.EntityType][]int64),
		loaded:     make(map[domain.EntityType]bool),
	}
	s.departments = &Collection[domain.Department, domain.DepartmentInput, domain.DepartmentInput]{
		s: s, kind: domain.EntityDepartment, store: c.Departments,
		list: api.ListDepartments, get: api.GetDepartment, create: api.CreateDepartment,
		update: api.UpdateDepartment, remove: api.DeleteDepartment,
	}
	s.categories = &Collection[domain.Category, domain.CategoryInput, domain.CategoryInput]{
		s: s, kind: domain.EntityCategory, store: c.Categories,
		list: api.ListCategories, get: api.GetCategory, create: api.CreateCategory,
		update: api.UpdateCategory, remove: api.DeleteCategory,
	}
	s.users = &Collection[domain.User, domain.UserInput, domain.UserPatch]{
		s: s, kind: domain.EntityUser, store: c.Users,
		list: api.ListUsers, get: api.GetUser, create: api.CreateUser,
		update: api.UpdateUser, remove: api.DeleteUser,
	}
	s.departments.cascade = s.forgetDepartment
	s.categories.cascade = s.forgetCategory
	sess.OnTeardown(s.reset)
	return s
}

func (s *Synchronizer) Departments() *Collection[domain.Department, domain.DepartmentInput, domain.DepartmentInput] {
	return s.departments
}

func (s *Synchronizer) Categories() *Collection[domain.Category, domain.CategoryInput, domain.CategoryInput] {
	return s.categories
}

func (s *Synchronizer) Users() *Collection[domain.User, domain.UserInput, domain.UserPatch] {
	return s.users
}

// reset drops all session-scoped state. Tokens keep counting so nothing
// issued before the reset can be mistaken for something issued after it.
func (s *Synchronizer) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Clear()
	s.listOrder = make(map[domain.EntityType][]int64)
	s.loaded = make(map[domain.EntityType]bool)
	s.view++
	s.current = nil
	s.page = nil
	s.myDepts = nil
	s.myDeptsSet = false
	s.log.Debug("session state cleared")
}

// forgetDepartment mirrors the server's cascade for a deleted department:
// memberships go away and documents lose the reference, which makes them
// global. Callers hold s.mu.
func (s *Synchronizer) forgetDepartment(id int64) {
	s.myDepts = withoutDepartment(s.myDepts, id)
	s.cache.Users.Rewrite(func(u domain.User) (domain.User, bool) {
		kept := withoutDepartment(u.Departments, id)
		if len(kept) == len(u.Departments) {
			return u, false
		}
		u.Departments = kept
		return u, true
	})
	s.rewriteDocuments(func(d *domain.Document) bool {
		if d.DepartmentID == nil || *d.DepartmentID != id {
			return false
		}
		d.DepartmentID = nil
		return true
	})
}

// forgetCategory clears a deleted category from cached documents. Callers
// hold s.mu.
func (s *Synchronizer) forgetCategory(id int64) {
	s.rewriteDocuments(func(d *domain.Document) bool {
		if d.CategoryID == nil || *d.CategoryID != id {
			return false
		}
		d.CategoryID = nil
		return true
	})
}

// rewriteDocuments applies fn to the cached documents and to the document
// read models. Callers hold s.mu.
func (s *Synchronizer) rewriteDocuments(fn func(d *domain.Document) bool) {
	s.cache.Documents.Rewrite(func(d domain.Document) (domain.Document, bool) {
		return d, fn(&d)
	})
	if s.current != nil {
		fn(s.current)
	}
	if s.page != nil {
		for i := range s.page.Items {
			fn(&s.page.Items[i])
		}
	}
}

func withoutDepartment(depts []domain.Department, id int64) []domain.Department {
	out := make([]domain.Department, 0, len(depts))
	for _, d := range depts {
		if d.ID != id {
			out = append(out, d)
		}
	}
	return out
}

// begin resolves the session before any call. No credential means the call
// is not attempted.
func (s *Synchronizer) begin(ctx context.Context) (session.Snapshot, context.Context, context.CancelFunc, error) {
	snap, err := s.session.Snapshot()
	if err != nil {
		return session.Snapshot{}, nil, nil, err
	}
	bound, cancel := s.session.Bind(ctx)
	return snap, bound, cancel, nil
}

// issue hands out the next token on kind's channel.
func (s *Synchronizer) issue(kind domain.EntityType) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[kind]++
	return s.issued[kind]
}

// issueList hands out a token and marks it as the only list request whose
// response may still be committed.
func (s *Synchronizer) issueList(kind domain.EntityType) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[kind]++
	s.latestList[kind] = s.issued[kind]
	return s.issued[kind]
}

// live reports whether snap's session is still current. Callers hold s.mu.
func (s *Synchronizer) live(snap session.Snapshot) bool {
	return s.session.Current(snap.Generation)
}

func (s *Synchronizer) superseded(kind domain.EntityType, id int64, token, latest uint64, reason string) error {
	s.log.Debug("discarding stale response",
		zap.String("entity", string(kind)),
		zap.Int64("id", id),
		zap.Uint64("token", token),
		zap.Uint64("latest", latest),
		zap.String("reason", reason),
	)
	return domain.Superseded(fmt.Sprintf("%s response superseded: %s", kind, reason))
}

// failed logs remote failures worth noticing and passes err through.
func (s *Synchronizer) failed(op string, err error) error {
	switch domain.KindOf(err) {
	case domain.KindShapeMismatch:
		s.log.Warn("remote response rejected", zap.String("op", op), zap.Error(err))
	case domain.KindRemoteUnavailable:
		s.log.Warn("remote unavailable", zap.String("op", op), zap.Error(err))
	case domain.KindSuperseded:
		s.log.Debug("remote call cancelled", zap.String("op", op))
	}
	return err
}

func forbidden(d rbac.Decision) error {
	return domain.Forbidden(string(d.Reason))
}

func requireCollection(p domain.Principal, action rbac.Action) error {
	if d := rbac.AuthorizeCollection(p, action); !d.Allowed {
		return forbidden(d)
	}
	return nil
}

// Read models. All return copies.

// Current is the document of the active view, if any.
func (s *Synchronizer) Current() (domain.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Document{}, false
	}
	return s.current.Clone(), true
}

// LeaveDocument ends the active document view. Loads still in flight for it
// will be discarded.
func (s *Synchronizer) LeaveDocument() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view++
	s.current = nil
}

// Page is the last committed server page in paginated mode.
func (s *Synchronizer) Page() (query.PageResult, query.Spec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return query.PageResult{}, query.Spec{}, false
	}
	items := make([]domain.Document, 0, len(s.page.Items))
	for _, doc := range s.page.Items {
		items = append(items, doc.Clone())
	}
	return query.PageResult{Items: items, PageMeta: s.page.PageMeta}, s.pageSpec.WithPage(s.pageSpec.Page), true
}

// Documents is the cached document list, in the order of the last committed
// list followed by anything created since, restricted to what the session
// principal may view.
func (s *Synchronizer) Documents() []domain.Document {
	p, ok := s.session.Principal()
	if !ok {
		return nil
	}
	s.mu.Lock()
	order := append([]int64(nil), s.listOrder[domain.EntityDocument]...)
	s.mu.Unlock()
	return rbac.VisibleTo(p, s.cache.Documents.Pick(order))
}

// MyDepartments is the session principal's departments as last loaded.
func (s *Synchronizer) MyDepartments() ([]domain.Department, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.myDeptsSet {
		return nil, false
	}
	return append([]domain.Department(nil), s.myDepts...), true
}

// Summary counts the cached documents visible to the session principal.
func (s *Synchronizer) Summary(recent int) (query.Summary, error) {
	p, ok := s.session.Principal()
	if !ok {
		return query.Summary{}, domain.Unauthenticated("no active session")
	}
	return query.Summarize(p, s.cache.Documents.All(), recent), nil
}

func appendID(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
