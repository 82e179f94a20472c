package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Provider is the identity-provider collaborator the store depends on.
// Implemented by identity.Client.
type Provider interface {
	// CurrentSession fetches the provider's view of the session.
	CurrentSession(ctx context.Context) (Session, error)
	// SignOut terminates the session at the provider.
	SignOut(ctx context.Context) error
	// Watch streams provider-pushed session changes (sign-in, expiry) until
	// ctx is cancelled or the stream breaks.
	Watch(ctx context.Context) (<-chan Session, error)
}

// Store holds the current session value and notifies subscribers on every
// transition. The initial value is Unknown until the first provider answer.
type Store struct {
	provider Provider
	logger   *slog.Logger

	// watchRetry is the pause before re-establishing a broken change stream.
	watchRetry time.Duration

	mu        sync.Mutex
	current   Session
	listeners map[int]func(Session)
	nextID    int
}

// NewStore creates a Store in the Unknown state.
func NewStore(provider Provider) *Store {
	return &Store{
		provider:   provider,
		logger:     slog.Default(),
		watchRetry: 5 * time.Second,
		current:    Unknown(),
		listeners:  make(map[int]func(Session)),
	}
}

// Current returns the latest known session value synchronously.
func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe registers fn, invokes it once immediately with the current value,
// and again on every subsequent transition. The returned func releases the
// listener; subscribers must call it on teardown.
func (s *Store) Subscribe(fn func(Session)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	current := s.current
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Logout requests session termination from the provider. On failure the
// session value is left unchanged and the error is returned to the caller.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.provider.SignOut(ctx); err != nil {
		return fmt.Errorf("signing out: %w", err)
	}
	s.set(Unauthenticated())
	s.logger.Info("session terminated")
	return nil
}

// Run performs the initial session fetch and then consumes provider-pushed
// changes until ctx is cancelled. A broken change stream is re-established
// after a short pause so staleness never exceeds the provider's own
// notification latency plus one retry interval.
func (s *Store) Run(ctx context.Context) error {
	initial, err := s.provider.CurrentSession(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Unreachable provider means no usable credentials; fall back to
		// unauthenticated instead of leaving every gate in the loading state.
		s.logger.Warn("initial session fetch failed", "error", err)
		initial = Unauthenticated()
	}
	s.set(initial)

	for {
		if err := s.watch(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("session change stream broken", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.watchRetry):
		}
	}
}

func (s *Store) watch(ctx context.Context) error {
	changes, err := s.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("opening change stream: %w", err)
	}
	for sess := range changes {
		s.set(sess)
	}
	return nil
}

// set replaces the current value and notifies all listeners. Listeners run
// outside the lock so a subscriber may re-enter the store.
func (s *Store) set(sess Session) {
	s.mu.Lock()
	if sess.Status == s.current.Status && sameUser(sess.User, s.current.User) {
		s.mu.Unlock()
		return
	}
	s.current = sess
	fns := make([]func(Session), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	s.logger.Debug("session transition", "status", sess.Status.String())
	for _, fn := range fns {
		fn(sess)
	}
}

func sameUser(a, b *User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Email == b.Email
}
