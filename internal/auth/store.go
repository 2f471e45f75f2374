// Package auth keeps browser sessions for the front-end. A session maps
// an opaque cookie ID to the backend bearer token and the signed-in
// user, so the token never reaches the browser.
package auth

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roadwatch/roadwatch/internal/backend"
)

// CookieName is the session cookie issued to browsers.
const CookieName = "roadwatch_session"

// Session is a signed-in browser attached to a backend account.
type Session struct {
	ID        string
	Token     string
	User      backend.User
	ExpiresAt time.Time
}

// Store holds sessions in memory. Sessions expire after the configured
// TTL and are purged lazily on access.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewStore creates a session store. A non-positive ttl falls back to
// 30 minutes.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create registers a new session for the given backend credentials and
// returns it. The caller sets the cookie from Session.ID.
func (s *Store) Create(token string, user backend.User) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()

	sess := &Session{
		ID:        uuid.NewString(),
		Token:     token,
		User:      user,
		ExpiresAt: s.now().Add(s.ttl),
	}
	s.sessions[sess.ID] = sess
	return sess
}

// Get returns the session for id, extending its expiry, or nil when the
// session is unknown or expired.
func (s *Store) Get(id string) *Session {
	if id == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if s.now().After(sess.ExpiresAt) {
		delete(s.sessions, id)
		return nil
	}

	sess.ExpiresAt = s.now().Add(s.ttl)
	cp := *sess
	return &cp
}

// Delete removes a session. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len reports how many live sessions the store holds.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	return len(s.sessions)
}

func (s *Store) purgeLocked() {
	now := s.now()
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
		}
	}
}

// Cookie builds the session cookie for sess. A nil session yields an
// expired clearing cookie.
func (s *Store) Cookie(sess *Session) *http.Cookie {
	c := &http.Cookie{
		Name:     CookieName,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if sess == nil {
		c.MaxAge = -1
		return c
	}
	c.Value = sess.ID
	c.Expires = sess.ExpiresAt
	return c
}

// FromRequest resolves the session referenced by the request cookie, or
// nil when the request carries no valid session.
func (s *Store) FromRequest(r *http.Request) *Session {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return nil
	}
	return s.Get(c.Value)
}
