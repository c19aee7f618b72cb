package services

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// PageContext is what the collector last told us about the page a session is
// on. Webhook filters match directives against it.
type PageContext struct {
	PageURL       string
	CustomerValue float64
}

// SessionContexts remembers the latest page context per session. Entries
// expire with the session idle timeout.
type SessionContexts struct {
	cache *expirable.LRU[string, PageContext]
}

// NewSessionContexts creates a bounded store.
func NewSessionContexts(size int, ttl time.Duration) *SessionContexts {
	if size <= 0 {
		size = 100_000
	}
	return &SessionContexts{cache: expirable.NewLRU[string, PageContext](size, nil, ttl)}
}

func contextKey(tenantID, sessionID string) string { return tenantID + "\x00" + sessionID }

// Update merges non-empty fields into the session's context.
func (s *SessionContexts) Update(tenantID, sessionID string, pc PageContext) {
	key := contextKey(tenantID, sessionID)
	cur, _ := s.cache.Peek(key)
	if pc.PageURL != "" {
		cur.PageURL = pc.PageURL
	}
	if pc.CustomerValue > 0 {
		cur.CustomerValue = pc.CustomerValue
	}
	s.cache.Add(key, cur)
}

// Get returns the session's context, zero if unknown.
func (s *SessionContexts) Get(tenantID, sessionID string) PageContext {
	pc, _ := s.cache.Get(contextKey(tenantID, sessionID))
	return pc
}

// Forget drops the session's context.
func (s *SessionContexts) Forget(tenantID, sessionID string) {
	s.cache.Remove(contextKey(tenantID, sessionID))
}
