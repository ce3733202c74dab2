// Package cache is the process-wide Local Cache of remote entities. Writes
// carry the sequence token of the request that produced them and are dropped
// when a newer token has already been committed for the same entity.
package cache

import (
	"sort"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Entity is what a Store can hold: something with a stable id that can hand
// out a deep copy of itself.
type Entity[T any] interface {
	EntityID() int64
	Clone() T
}

// Store holds one entity type. Reads return copies; callers never alias
// cached values.
//
// Values live in a go-cache instance and may expire; the committed token per
// id is kept separately and survives expiry and deletion, so a late response
// can never resurrect a deleted entity.
type Store[T Entity[T]] struct {
	mu    sync.Mutex
	items *gocache.Cache
	revs  map[int64]uint64
	ttl   time.Duration
}

// NewStore creates a Store whose entries expire after ttl. A zero ttl keeps
// entries until they are removed or the store is cleared.
func NewStore[T Entity[T]](ttl time.Duration) *Store[T] {
	expiration := gocache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl
	}
	return &Store[T]{
		items: gocache.New(expiration, cleanup),
		revs:  make(map[int64]uint64),
		ttl:   expiration,
	}
}

func key(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (s *Store[T]) load(id int64) (T, bool) {
	raw, ok := s.items.Get(key(id))
	if !ok {
		var zero T
		return zero, false
	}
	return raw.(T), true
}

// Get returns a copy of the entry for id.
func (s *Store[T]) Get(id int64) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.load(id)
	if !ok {
		return v, false
	}
	return v.Clone(), true
}

// Revision is the token of the last committed write for id, including a
// delete. Zero means the store has never seen id.
func (s *Store[T]) Revision(id int64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revs[id]
}

// Put commits v when rev is newer than anything committed for its id and
// reports whether it did.
func (s *Store[T]) Put(v T, rev uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(v, rev)
}

func (s *Store[T]) put(v T, rev uint64) bool {
	id := v.EntityID()
	if s.revs[id] >= rev {
		return false
	}
	s.revs[id] = rev
	s.items.Set(key(id), v.Clone(), s.ttl)
	return true
}

// Delete removes id at rev. It reports whether a cached entry went away. A
// rev older than the last commit for id changes nothing.
func (s *Store[T]) Delete(id int64, rev uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(id, rev)
}

func (s *Store[T]) remove(id int64, rev uint64) bool {
	if s.revs[id] >= rev {
		return false
	}
	s.revs[id] = rev
	_, ok := s.load(id)
	s.items.Delete(key(id))
	return ok
}

// Replace commits the full list produced by the request with token rev.
// Entries committed by newer requests survive. Entries absent from items
// and older than rev are removed. It returns how many entries changed.
func (s *Store[T]) Replace(items []T, rev uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := make(map[int64]struct{}, len(items))
	changed := 0
	for _, v := range items {
		keep[v.EntityID()] = struct{}{}
		if s.put(v, rev) {
			changed++
		}
	}
	for k := range s.items.Items() {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		if _, ok := keep[id]; ok {
			continue
		}
		if s.remove(id, rev) {
			changed++
		}
	}
	return changed
}

// Merge upserts items at rev without removing anything else, which is all a
// single page of a paginated list allows.
func (s *Store[T]) Merge(items []T, rev uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, v := range items {
		if s.put(v, rev) {
			changed++
		}
	}
	return changed
}

// Rewrite applies fn to every cached entry and stores the entries fn
// reports as changed. Revisions stay as they are, so any later server
// response still replaces the rewritten value. It returns how many changed.
func (s *Store[T]) Rewrite(fn func(T) (T, bool)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for k, raw := range s.items.Items() {
		next, ok := fn(raw.Object.(T).Clone())
		if !ok {
			continue
		}
		s.items.Set(k, next.Clone(), s.ttl)
		changed++
	}
	return changed
}

// All returns copies of every entry ordered by id.
func (s *Store[T]) All() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items.Items()
	out := make([]T, 0, len(items))
	for _, raw := range items {
		out = append(out, raw.Object.(T).Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out
}

// Pick returns copies of the entries for ids in the order given, skipping
// ids that are not cached.
func (s *Store[T]) Pick(ids []int64) []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if v, ok := s.load(id); ok {
			out = append(out, v.Clone())
		}
	}
	return out
}

func (s *Store[T]) Len() int {
	return s.items.ItemCount()
}

// Clear drops every entry and every recorded token.
func (s *Store[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Flush()
	s.revs = make(map[int64]uint64)
}
