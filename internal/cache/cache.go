// Package cache provides a namespaced key-value store used to front the
// record store with per-entity view caches.
package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store is safe for concurrent use; operations on different keys never block
// each other. Atomicity is per key only, multi-key sequencing belongs to the
// caller.
type Store struct {
	c *gocache.Cache
}

// New returns a store whose entries live for ttl. A ttl <= 0 disables expiry.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		return &Store{c: gocache.New(gocache.NoExpiration, 0)}
	}
	return &Store{c: gocache.New(ttl, 2*ttl)}
}

func (s *Store) Get(namespace, key string) (any, bool) {
	return s.c.Get(join(namespace, key))
}

// Put overwrites unconditionally.
func (s *Store) Put(namespace, key string, value any) {
	s.c.SetDefault(join(namespace, key), value)
}

func (s *Store) Evict(namespace, key string) {
	s.c.Delete(join(namespace, key))
}

// Clear drops every entry in the namespace.
func (s *Store) Clear(namespace string) {
	prefix := namespace + ":"
	for k := range s.c.Items() {
		if strings.HasPrefix(k, prefix) {
			s.c.Delete(k)
		}
	}
}

func join(namespace, key string) string {
	return namespace + ":" + key
}
