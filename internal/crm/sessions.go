package crm

import (
	"context"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-crm/internal/rbac"
)

// DefaultSessionIdle is how long an unused client stays registered when
// Backend.SessionIdle is unset.
const DefaultSessionIdle = 30 * time.Minute

// Sessions keeps one client per principal id. Clients unused for longer than
// the idle timeout are signed out and forgotten, so memory is bounded by the
// principals active within that window.
type Sessions struct {
	mu        sync.Mutex
	backend   Backend
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	clients   map[string]*session
}

type session struct {
	client   *Client
	lastSeen time.Time
}

// NewSessions constructs an empty registry whose clients share backend.
func NewSessions(backend Backend) *Sessions {
	idle := backend.SessionIdle
	if idle <= 0 {
		idle = DefaultSessionIdle
	}
	now := backend.Now
	if now == nil {
		now = time.Now
	}
	return &Sessions{backend: backend, idle: idle, now: now, lastSweep: now(), clients: make(map[string]*session)}
}

// Resolve returns the client of p, creating and signing it in on first use.
// A known principal whose role changed is refreshed so that its cached
// permissions are dropped.
func (s *Sessions) Resolve(p rbac.Principal) (*Client, error) {
	if p.IsZero() {
		return nil, rbac.ErrNoPrincipal
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	// Sapu sesi idle paling sering sekali per seperempat jendela idle.
	if now.Sub(s.lastSweep) >= s.idle/4 {
		s.evictLocked(now)
	}
	if sess, ok := s.clients[p.ID]; ok {
		sess.lastSeen = now
		sess.client.Refresh(p)
		return sess.client, nil
	}
	c, err := NewClient(s.backend)
	if err != nil {
		return nil, err
	}
	c.SignIn(p)
	s.clients[p.ID] = &session{client: c, lastSeen: now}
	return c, nil
}

// Get returns the client of a principal id.
func (s *Sessions) Get(principalID string) (*Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.clients[principalID]
	if !ok {
		return nil, false
	}
	return sess.client, true
}

// Drop signs the principal's client out and forgets it.
func (s *Sessions) Drop(principalID string) {
	s.mu.Lock()
	sess, ok := s.clients[principalID]
	delete(s.clients, principalID)
	s.mu.Unlock()
	if ok {
		sess.client.SignOut()
	}
}

// EvictIdle signs out every client unused for longer than the idle timeout
// and returns how many were dropped.
func (s *Sessions) EvictIdle() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(now)
}

func (s *Sessions) evictLocked(now time.Time) int {
	s.lastSweep = now
	evicted := 0
	for id, sess := range s.clients {
		if now.Sub(sess.lastSeen) <= s.idle {
			continue
		}
		delete(s.clients, id)
		sess.client.SignOut()
		evicted++
	}
	return evicted
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

type clientContextKey struct{}

// ContextWithClient stores the session client in context, together with its
// gate.
func ContextWithClient(ctx context.Context, c *Client) context.Context {
	ctx = context.WithValue(ctx, clientContextKey{}, c)
	return rbac.ContextWithGate(ctx, c.Gate())
}

// ClientFromContext extracts the session client from context.
func ClientFromContext(ctx context.Context) *Client {
	c, _ := ctx.Value(clientContextKey{}).(*Client)
	return c
}
