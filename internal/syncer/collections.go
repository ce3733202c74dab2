package syncer

import (
	"context"

	"deptdocs/core/internal/cache"
	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/rbac"
	"go.uber.org/zap"
)

// Collection synchronizes one of the plain collections (departments,
// categories, users). Reads need a session; changes need the admin role.
// C is the create payload and U the update payload.
type Collection[T cache.Entity[T], C any, U any] struct {
	s     *Synchronizer
	kind  domain.EntityType
	store *cache.Store[T]

	list   func(ctx context.Context, token string) ([]T, error)
	get    func(ctx context.Context, token string, id int64) (T, error)
	create func(ctx context.Context, token string, in C) (T, error)
	update func(ctx context.Context, token string, id int64, in U) (T, error)
	remove func(ctx context.Context, token string, id int64) error

	// cascade drops references to an entity known to be gone. Runs under s.mu.
	cascade func(id int64)
}

// Cached returns the cached entities in the order of the last committed list.
func (c *Collection[T, C, U]) Cached() []T {
	c.s.mu.Lock()
	order := append([]int64(nil), c.s.listOrder[c.kind]...)
	c.s.mu.Unlock()
	return c.store.Pick(order)
}

func (c *Collection[T, C, U]) List(ctx context.Context) ([]T, error) {
	snap, ctx, cancel, err := c.s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	if err := requireCollection(snap.Principal, rbac.ActionView); err != nil {
		return nil, err
	}

	token := c.s.issueList(c.kind)
	items, err := c.list(ctx, snap.Principal.Credential)
	if err != nil {
		return nil, c.s.failed("list "+string(c.kind), err)
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if !c.s.live(snap) {
		return nil, c.s.superseded(c.kind, 0, token, c.s.latestList[c.kind], "session ended")
	}
	if latest := c.s.latestList[c.kind]; latest != token {
		return nil, c.s.superseded(c.kind, 0, token, latest, "newer list issued")
	}
	c.store.Replace(items, token)
	order := make([]int64, 0, len(items))
	for _, item := range items {
		order = append(order, item.EntityID())
	}
	c.s.listOrder[c.kind] = order
	c.s.loaded[c.kind] = true
	return items, nil
}

// Get reads one entity. An entity the server no longer has is evicted and
// reported as absent (ok == false), the same way GetDocument does.
func (c *Collection[T, C, U]) Get(ctx context.Context, id int64) (T, bool, error) {
	var zero T
	snap, ctx, cancel, err := c.s.begin(ctx)
	if err != nil {
		return zero, false, err
	}
	defer cancel()
	if err := requireCollection(snap.Principal, rbac.ActionView); err != nil {
		return zero, false, err
	}

	token := c.s.issue(c.kind)
	item, err := c.get(ctx, snap.Principal.Credential, id)
	if err != nil {
		if domain.Is(err, domain.KindNotFound) {
			if !c.evict(snap.Generation, id, token) {
				return zero, false, c.s.superseded(c.kind, id, token, 0, "session ended")
			}
			return zero, false, nil
		}
		return zero, false, c.s.failed("get "+string(c.kind), err)
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if !c.s.session.Current(snap.Generation) {
		return zero, false, c.s.superseded(c.kind, id, token, 0, "session ended")
	}
	if !c.store.Put(item, token) {
		// a newer write for id won; serve that one
		if newer, ok := c.store.Get(id); ok {
			return newer, true, nil
		}
		return zero, false, nil
	}
	c.s.listOrder[c.kind] = appendID(c.s.listOrder[c.kind], id)
	return item, true, nil
}

func (c *Collection[T, C, U]) Create(ctx context.Context, in C) (T, error) {
	var zero T
	if err := domain.Validate(in); err != nil {
		return zero, err
	}
	snap, ctx, cancel, err := c.s.begin(ctx)
	if err != nil {
		return zero, err
	}
	defer cancel()
	if err := requireCollection(snap.Principal, rbac.ActionCreate); err != nil {
		return zero, err
	}

	token := c.s.issue(c.kind)
	item, err := c.create(ctx, snap.Principal.Credential, in)
	if err != nil {
		return zero, c.s.failed("create "+string(c.kind), err)
	}
	return item, c.commit(snap.Generation, item, token, "created")
}

func (c *Collection[T, C, U]) Update(ctx context.Context, id int64, in U) (T, error) {
	var zero T
	if err := domain.Validate(in); err != nil {
		return zero, err
	}
	snap, ctx, cancel, err := c.s.begin(ctx)
	if err != nil {
		return zero, err
	}
	defer cancel()
	if err := requireCollection(snap.Principal, rbac.ActionUpdate); err != nil {
		return zero, err
	}

	token := c.s.issue(c.kind)
	item, err := c.update(ctx, snap.Principal.Credential, id, in)
	if err != nil {
		if domain.Is(err, domain.KindNotFound) {
			c.evict(snap.Generation, id, token)
		}
		return zero, c.s.failed("update "+string(c.kind), err)
	}
	return item, c.commit(snap.Generation, item, token, "updated")
}

func (c *Collection[T, C, U]) Delete(ctx context.Context, id int64) error {
	snap, ctx, cancel, err := c.s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	if err := requireCollection(snap.Principal, rbac.ActionDelete); err != nil {
		return err
	}

	token := c.s.issue(c.kind)
	if err := c.remove(ctx, snap.Principal.Credential, id); err != nil {
		if domain.Is(err, domain.KindNotFound) {
			c.evict(snap.Generation, id, token)
		}
		return c.s.failed("delete "+string(c.kind), err)
	}
	if !c.evict(snap.Generation, id, token) {
		return c.s.superseded(c.kind, id, token, 0, "session ended")
	}
	c.s.log.Info(string(c.kind)+" deleted", zap.Int64("id", id))
	return nil
}

// commit stores a mutation's canonical response under token.
func (c *Collection[T, C, U]) commit(generation uint64, item T, token uint64, verb string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	id := item.EntityID()
	if !c.s.session.Current(generation) {
		return c.s.superseded(c.kind, id, token, 0, "session ended")
	}
	if !c.store.Put(item, token) {
		_ = c.s.superseded(c.kind, id, token, c.store.Revision(id), "newer write committed")
		return nil
	}
	c.s.listOrder[c.kind] = appendID(c.s.listOrder[c.kind], id)
	c.s.log.Info(string(c.kind)+" "+verb, zap.Int64("id", id), zap.Uint64("token", token))
	return nil
}

// evict removes id from the cache and the list order, then from whatever
// referenced it. It reports false only when the session has ended.
func (c *Collection[T, C, U]) evict(generation uint64, id int64, token uint64) bool {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if !c.s.session.Current(generation) {
		return false
	}
	if c.store.Delete(id, token) || c.store.Revision(id) == token {
		c.s.listOrder[c.kind] = removeID(c.s.listOrder[c.kind], id)
		if c.cascade != nil {
			c.cascade(id)
		}
	}
	return true
}
