// Package session holds the client-side authentication state: the Token
// Store, the session resolver, credential operations and the role guard.
package session

import (
	"context"
	"fmt"
	"time"

	"gatepro/portal/internal/auth"
	"gatepro/portal/internal/model"
)

const DefaultCookieMaxAge = time.Hour

// Store keeps the token and cached user in a Backend and mirrors the token
// into a cookie. Every mutation writes both.
type Store struct {
	backend Backend
	mirror  CookieMirror
	maxAge  time.Duration
	now     func() time.Time
}

func NewStore(backend Backend, mirror CookieMirror, maxAge time.Duration) *Store {
	if maxAge <= 0 {
		maxAge = DefaultCookieMaxAge
	}
	return &Store{backend: backend, mirror: mirror, maxAge: maxAge, now: time.Now}
}

// Set stores token and user. If the backend write fails the cookie is cleared
// too so the two halves never disagree.
func (s *Store) Set(ctx context.Context, token string, user model.User) error {
	window := s.window(token)
	if err := s.backend.Save(ctx, Snapshot{Token: token, User: &user}, window); err != nil {
		s.mirror.ClearToken()
		_ = s.backend.Delete(ctx)
		return fmt.Errorf("session: store token: %w", err)
	}
	s.mirror.SetToken(token, window)
	return nil
}

// Clear removes the stored pair and expires the cookie.
func (s *Store) Clear(ctx context.Context) error {
	s.mirror.ClearToken()
	if err := s.backend.Delete(ctx); err != nil {
		return fmt.Errorf("session: clear token: %w", err)
	}
	return nil
}

// Get returns the stored pair without network I/O.
func (s *Store) Get(ctx context.Context) (Snapshot, error) {
	snap, err := s.backend.Load(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("session: load token: %w", err)
	}
	return snap, nil
}

// Restore re-applies the cookie from the backend, for clients whose cookie
// jar does not outlive the process.
func (s *Store) Restore(ctx context.Context) error {
	snap, err := s.Get(ctx)
	if err != nil {
		return err
	}
	if snap.Token == "" {
		s.mirror.ClearToken()
		return nil
	}
	s.mirror.SetToken(snap.Token, s.window(snap.Token))
	return nil
}

// window is the cookie lifetime: the configured max-age, shortened to the
// token's own exp claim when that comes first.
func (s *Store) window(token string) time.Duration {
	window := s.maxAge
	exp, ok := auth.ExpiresAt(token)
	if !ok {
		return window
	}
	remaining := exp.Sub(s.now())
	if remaining < window {
		window = remaining
	}
	if window < time.Second {
		window = time.Second
	}
	return window
}
