// Package session holds the authenticated principal for the lifetime of a
// login and tells in-flight work when that lifetime ends.
package session

import (
	"context"
	"sync"

	"deptdocs/core/internal/domain"
)

// Snapshot is the principal together with the generation it belongs to.
// Work started under one generation must not commit once it has moved on.
type Snapshot struct {
	Principal  domain.Principal
	Generation uint64
}

// Context is the explicit session object passed to every core operation.
// Init starts a session on login and Teardown ends it on logout.
type Context struct {
	mu         sync.RWMutex
	principal  *domain.Principal
	generation uint64
	done       chan struct{}
	hooks      []func()
}

func New() *Context {
	return &Context{done: make(chan struct{})}
}

// Init replaces any current session with one for p. A principal without a
// credential is rejected.
func (c *Context) Init(p domain.Principal) error {
	if p.Credential == "" {
		return domain.Unauthenticated("principal has no credential")
	}
	c.Teardown()

	c.mu.Lock()
	defer c.mu.Unlock()
	copied := p.WithDepartments(p.Departments)
	c.principal = &copied
	c.generation++
	c.done = make(chan struct{})
	return nil
}

// Teardown ends the current session: the principal is dropped, the
// generation advances, Done is closed and teardown hooks run. It is a no-op
// without an active session.
func (c *Context) Teardown() {
	c.mu.Lock()
	if c.principal == nil {
		c.mu.Unlock()
		return
	}
	c.principal = nil
	c.generation++
	close(c.done)
	c.done = make(chan struct{})
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Logout is the session collaborator's logout signal.
func (c *Context) Logout() { c.Teardown() }

// OnTeardown registers fn to run after every Teardown. Hooks persist across
// sessions.
func (c *Context) OnTeardown(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

func (c *Context) Principal() (domain.Principal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.principal == nil {
		return domain.Principal{}, false
	}
	return c.principal.WithDepartments(c.principal.Departments), true
}

// Credential returns the bearer credential or an Unauthenticated error.
func (c *Context) Credential() (string, error) {
	snap, err := c.Snapshot()
	if err != nil {
		return "", err
	}
	return snap.Principal.Credential, nil
}

// Snapshot captures the principal and generation together.
func (c *Context) Snapshot() (Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.principal == nil || c.principal.Credential == "" {
		return Snapshot{}, domain.Unauthenticated("no active session")
	}
	return Snapshot{
		Principal:  c.principal.WithDepartments(c.principal.Departments),
		Generation: c.generation,
	}, nil
}

func (c *Context) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Current reports whether generation is still the live one.
func (c *Context) Current(generation uint64) bool {
	return c.Generation() == generation
}

// Done is closed when the current session ends.
func (c *Context) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Bind derives a context from parent that is also cancelled when the current
// session ends.
func (c *Context) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := c.Done()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// PrincipalLookup resolves a persisted principal by credential.
type PrincipalLookup interface {
	Lookup(ctx context.Context, credential string) (domain.Principal, error)
}

// Restore starts a session from a persisted principal snapshot.
func (c *Context) Restore(ctx context.Context, store PrincipalLookup, credential string) error {
	if credential == "" {
		return domain.Unauthenticated("missing credential")
	}
	p, err := store.Lookup(ctx, credential)
	if err != nil {
		return err
	}
	p.Credential = credential
	return c.Init(p)
}
