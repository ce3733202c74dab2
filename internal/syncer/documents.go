package syncer

import (
	"context"

	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/query"
	"deptdocs/core/internal/rbac"
	"deptdocs/core/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const documents = domain.EntityDocument

// LoadDocuments fetches the full collection, replaces the cached set and
// returns the documents the session principal may view, in server order.
func (s *Synchronizer) LoadDocuments(ctx context.Context) ([]domain.Document, error) {
	snap, ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	token := s.issueList(documents)
	docs, err := s.api.ListDocuments(ctx, snap.Principal.Credential)
	if err != nil {
		return nil, s.failed("list documents", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live(snap) {
		return nil, s.superseded(documents, 0, token, s.latestList[documents], "session ended")
	}
	if latest := s.latestList[documents]; latest != token {
		return nil, s.superseded(documents, 0, token, latest, "newer list issued")
	}
	s.cache.Documents.Replace(docs, token)
	order := make([]int64, 0, len(docs))
	for _, doc := range docs {
		order = append(order, doc.ID)
	}
	s.listOrder[documents] = order
	s.loaded[documents] = true
	if s.current != nil {
		if doc, ok := s.cache.Documents.Get(s.current.ID); ok {
			s.current = &doc
		} else {
			s.current = nil
		}
	}
	return rbac.VisibleTo(snap.Principal, docs), nil
}

// Query produces a Page Result for spec. In bulk mode the cached collection
// is paged in memory, loading it first if needed; in paginated mode the
// server pages and the result becomes the Page read model.
func (s *Synchronizer) Query(ctx context.Context, spec query.Spec) (query.PageResult, error) {
	if err := spec.Validate(); err != nil {
		return query.PageResult{}, err
	}
	if s.mode == ModePaginated {
		return s.queryRemote(ctx, spec)
	}

	s.mu.Lock()
	loaded := s.loaded[documents]
	s.mu.Unlock()
	if !loaded {
		if _, err := s.LoadDocuments(ctx); err != nil {
			return query.PageResult{}, err
		}
	}
	p, ok := s.session.Principal()
	if !ok {
		return query.PageResult{}, domain.Unauthenticated("no active session")
	}
	return query.Apply(p, s.cache.Documents.All(), spec)
}

func (s *Synchronizer) queryRemote(ctx context.Context, spec query.Spec) (query.PageResult, error) {
	snap, ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return query.PageResult{}, err
	}
	defer cancel()

	token := s.issueList(documents)
	page, err := s.api.QueryDocuments(ctx, snap.Principal.Credential, spec)
	if err != nil {
		return query.PageResult{}, s.failed("query documents", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live(snap) {
		return query.PageResult{}, s.superseded(documents, 0, token, s.latestList[documents], "session ended")
	}
	if latest := s.latestList[documents]; latest != token {
		return query.PageResult{}, s.superseded(documents, 0, token, latest, "query spec changed")
	}
	s.cache.Documents.Merge(page.Items, token)
	committed := query.PageResult{Items: make([]domain.Document, 0, len(page.Items)), PageMeta: page.PageMeta}
	for _, doc := range page.Items {
		committed.Items = append(committed.Items, doc.Clone())
	}
	s.page = &committed
	s.pageSpec = spec.WithPage(spec.Page)
	return page, nil
}

// GetDocument opens a document view. The document and the principal's
// current departments are loaded together and access is decided only once
// both have arrived. A document the server no longer has is reported as
// absent (ok == false) and evicted, not treated as an error.
func (s *Synchronizer) GetDocument(ctx context.Context, id int64) (domain.Document, bool, error) {
	snap, ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return domain.Document{}, false, err
	}
	defer cancel()

	s.mu.Lock()
	s.view++
	view := s.view
	s.mu.Unlock()

	token := s.issue(documents)
	var userToken uint64
	admin := snap.Principal.IsAdmin()
	if !admin {
		userToken = s.issue(domain.EntityUser)
	}

	var (
		doc             domain.Document
		user            domain.User
		docErr, userErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		doc, docErr = s.api.GetDocument(gctx, snap.Principal.Credential, id)
		return docErr
	})
	if !admin {
		g.Go(func() error {
			user, userErr = s.api.GetUser(gctx, snap.Principal.Credential, snap.Principal.ID)
			return userErr
		})
	}
	if err := g.Wait(); err != nil {
		if domain.Is(docErr, domain.KindNotFound) {
			return domain.Document{}, false, s.absent(snap, id, token)
		}
		return domain.Document{}, false, s.failed("get document", err)
	}

	principal := snap.Principal
	if !admin {
		principal = principal.WithDepartments(user.DepartmentIDs())
	}
	if d := rbac.Authorize(principal, rbac.ActionView, rbac.OnDocument(doc)); !d.Allowed {
		return domain.Document{}, false, forbidden(d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live(snap) {
		return domain.Document{}, false, s.superseded(documents, id, token, s.cache.Documents.Revision(id), "session ended")
	}
	if !admin && s.cache.Users.Put(user, userToken) && user.ID == snap.Principal.ID {
		s.myDepts = append([]domain.Department(nil), user.Departments...)
		s.myDeptsSet = true
	}
	if s.cache.Documents.Put(doc, token) {
		s.listOrder[documents] = appendID(s.listOrder[documents], id)
	} else {
		// A newer write settled id while this read was in flight. The view
		// shows that version, or nothing if it was a delete.
		newer, ok := s.cache.Documents.Get(id)
		if !ok {
			if s.view == view {
				s.current = nil
			}
			return domain.Document{}, false, s.superseded(documents, id, token, s.cache.Documents.Revision(id), "deleted by a newer write")
		}
		if d := rbac.Authorize(principal, rbac.ActionView, rbac.OnDocument(newer)); !d.Allowed {
			return domain.Document{}, false, forbidden(d)
		}
		doc = newer
	}
	if s.view != view {
		return domain.Document{}, false, s.superseded(documents, id, token, token, "view changed")
	}
	current := doc.Clone()
	s.current = &current
	return doc, true, nil
}

// absent commits a not-found read: the entry is evicted and any read model
// that referenced it is cleared.
func (s *Synchronizer) absent(snap session.Snapshot, id int64, token uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live(snap) {
		return s.superseded(documents, id, token, 0, "session ended")
	}
	if rev := s.cache.Documents.Revision(id); rev >= token {
		// a newer write already settled this id
		s.log.Debug("ignoring stale not-found", zap.Int64("id", id), zap.Uint64("token", token), zap.Uint64("latest", rev))
		return nil
	}
	if s.cache.Documents.Delete(id, token) {
		s.log.Debug("document gone on remote", zap.Int64("id", id))
	}
	s.dropDocument(id)
	return nil
}

// dropDocument removes id from every read model. Callers hold s.mu.
func (s *Synchronizer) dropDocument(id int64) {
	s.listOrder[documents] = removeID(s.listOrder[documents], id)
	if s.current != nil && s.current.ID == id {
		s.current = nil
	}
	if s.page != nil {
		kept := s.page.Items[:0]
		removed := 0
		for _, doc := range s.page.Items {
			if doc.ID == id {
				removed++
				continue
			}
			kept = append(kept, doc)
		}
		if removed > 0 {
			meta := query.Paginate(s.page.TotalRecords-removed, s.page.CurrentPage, s.page.PerPage)
			s.page = &query.PageResult{Items: kept, PageMeta: meta}
		}
	}
}

// replaceDocument swaps the committed version into every read model.
// Callers hold s.mu.
func (s *Synchronizer) replaceDocument(doc domain.Document) {
	s.listOrder[documents] = appendID(s.listOrder[documents], doc.ID)
	if s.current != nil && s.current.ID == doc.ID {
		current := doc.Clone()
		s.current = &current
	}
	if s.page != nil {
		for i := range s.page.Items {
			if s.page.Items[i].ID == doc.ID {
				s.page.Items[i] = doc.Clone()
			}
		}
	}
}

// lookup returns the document an authorization decision is made on: the
// cached copy when there is one, otherwise a fresh read.
func (s *Synchronizer) lookup(ctx context.Context, snap session.Snapshot, id int64) (domain.Document, error) {
	if doc, ok := s.cache.Documents.Get(id); ok {
		return doc, nil
	}
	token := s.issue(documents)
	doc, err := s.api.GetDocument(ctx, snap.Principal.Credential, id)
	if err != nil {
		if domain.Is(err, domain.KindNotFound) {
			if absentErr := s.absent(snap, id, token); absentErr != nil {
				return domain.Document{}, absentErr
			}
			return domain.Document{}, domain.NotFound(documents, id)
		}
		return domain.Document{}, s.failed("get document", err)
	}
	s.mu.Lock()
	if s.live(snap) {
		s.cache.Documents.Put(doc, token)
	}
	s.mu.Unlock()
	return doc, nil
}

// CreateDocument validates and authorizes in, then commits the server's
// version. Creating without a department is reserved to administrators.
func (s *Synchronizer) CreateDocument(ctx context.Context, in domain.DocumentInput) (domain.Document, error) {
	in = in.Normalize()
	if err := domain.Validate(in); err != nil {
		return domain.Document{}, err
	}
	snap, ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	defer cancel()

	if d := rbac.Authorize(snap.Principal, rbac.ActionCreate, rbac.InDepartment(in.DepartmentID)); !d.Allowed {
		return domain.Document{}, forbidden(d)
	}

	token := s.issue(documents)
	doc, err := s.api.CreateDocument(ctx, snap.Principal.Credential, in)
	if err != nil {
		return domain.Document{}, s.failed("create document", err)
	}
	return doc, s.commitDocument(snap, doc, token, "created")
}

// UpdateDocument applies patch. The caller needs update rights on the
// document as it is now and, when the patch moves it, create rights on the
// destination department.
func (s *Synchronizer) UpdateDocument(ctx context.Context, id int64, patch domain.DocumentPatch) (domain.Document, error) {
	if patch.Empty() {
		return domain.Document{}, domain.ValidationFailed("nothing to update", nil)
	}
	if patch.Tags != nil {
		tags := domain.NormalizeTags(*patch.Tags)
		patch.Tags = &tags
	}
	if err := domain.Validate(patch); err != nil {
		return domain.Document{}, err
	}
	snap, ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	defer cancel()

	existing, err := s.lookup(ctx, snap, id)
	if err != nil {
		return domain.Document{}, err
	}
	if d := rbac.Authorize(snap.Principal, rbac.ActionUpdate, rbac.OnDocument(existing)); !d.Allowed {
		return domain.Document{}, forbidden(d)
	}
	if patch.MovesDepartment(existing) {
		target := patch.Apply(existing).DepartmentID
		if d := rbac.Authorize(snap.Principal, rbac.ActionCreate, rbac.InDepartment(target)); !d.Allowed {
			return domain.Document{}, forbidden(d)
		}
	}

	token := s.issue(documents)
	doc, err := s.api.UpdateDocument(ctx, snap.Principal.Credential, id, patch)
	if err != nil {
		if domain.Is(err, domain.KindNotFound) {
			if absentErr := s.absent(snap, id, token); absentErr != nil {
				return domain.Document{}, absentErr
			}
		}
		return domain.Document{}, s.failed("update document", err)
	}
	if !doc.CreatedAt.Equal(existing.CreatedAt) || doc.UpdatedAt.Before(existing.UpdatedAt) {
		return domain.Document{}, s.failed("update document", domain.ShapeMismatch("update response rewrote document history", nil))
	}
	return doc, s.commitDocument(snap, doc, token, "updated")
}

// commitDocument stores a mutation's canonical response. A newer committed
// write wins; the mutation still happened, so that is not an error.
func (s *Synchronizer) commitDocument(snap session.Snapshot, doc domain.Document, token uint64, verb string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live(snap) {
		return s.superseded(documents, doc.ID, token, 0, "session ended")
	}
	if !s.cache.Documents.Put(doc, token) {
		_ = s.superseded(documents, doc.ID, token, s.cache.Documents.Revision(doc.ID), "newer write committed")
		return nil
	}
	s.replaceDocument(doc)
	s.log.Info("document "+verb, zap.Int64("id", doc.ID), zap.Uint64("token", token))
	return nil
}

// DeleteDocument removes id. Deleting something the remote no longer has
// yields NotFound.
func (s *Synchronizer) DeleteDocument(ctx context.Context, id int64) error {
	snap, ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	existing, err := s.lookup(ctx, snap, id)
	if err != nil {
		return err
	}
	if d := rbac.Authorize(snap.Principal, rbac.ActionDelete, rbac.OnDocument(existing)); !d.Allowed {
		return forbidden(d)
	}

	token := s.issue(documents)
	if err := s.api.DeleteDocument(ctx, snap.Principal.Credential, id); err != nil {
		if domain.Is(err, domain.KindNotFound) {
			if absentErr := s.absent(snap, id, token); absentErr != nil {
				return absentErr
			}
			return domain.NotFound(documents, id)
		}
		return s.failed("delete document", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live(snap) {
		return s.superseded(documents, id, token, 0, "session ended")
	}
	s.cache.Documents.Delete(id, token)
	s.dropDocument(id)
	s.log.Info("document deleted", zap.Int64("id", id), zap.Uint64("token", token))
	return nil
}

// Search runs the server's full-text search. Results are restricted to what
// the principal may view and are not committed to the cache.
func (s *Synchronizer) Search(ctx context.Context, text string) ([]domain.Document, error) {
	snap, ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	docs, err := s.api.SearchDocuments(ctx, snap.Principal.Credential, text)
	if err != nil {
		return nil, s.failed("search documents", err)
	}
	if !s.session.Current(snap.Generation) {
		return nil, s.superseded(documents, 0, 0, 0, "session ended")
	}
	return rbac.VisibleTo(snap.Principal, docs), nil
}
