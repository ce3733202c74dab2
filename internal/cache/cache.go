package cache

import (
	"time"

	"deptdocs/core/internal/domain"
)

// Cache groups one Store per remote collection.
type Cache struct {
	Documents   *Store[domain.Document]
	Departments *Store[domain.Department]
	Categories  *Store[domain.Category]
	Users       *Store[domain.User]
}

func New(ttl time.Duration) *Cache {
	return &Cache{
		Documents:   NewStore[domain.Document](ttl),
		Departments: NewStore[domain.Department](ttl),
		Categories:  NewStore[domain.Category](ttl),
		Users:       NewStore[domain.User](ttl),
	}
}

// Clear empties every store. Called on session teardown.
func (c *Cache) Clear() {
	c.Documents.Clear()
	c.Departments.Clear()
	c.Categories.Clear()
	c.Users.Clear()
}
