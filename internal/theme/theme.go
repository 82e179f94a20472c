// Package theme resolves the effective color scheme from the user's explicit
// preference and the operating environment's appearance signal, and persists
// the preference across restarts.
package theme

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lanternapp/lantern/internal/storage"
)

// Preference is the user's explicit choice. System defers to the OS signal.
type Preference string

const (
	Light  Preference = "light"
	Dark   Preference = "dark"
	System Preference = "system"
)

// Valid reports whether p is one of the three recognized preferences.
func (p Preference) Valid() bool {
	return p == Light || p == Dark || p == System
}

// Scheme is the derived effective appearance. Never persisted, always
// recomputed from (preference, OS signal).
type Scheme string

const (
	SchemeLight Scheme = "light"
	SchemeDark  Scheme = "dark"
)

// SettingKey is the fixed settings-table key the preference persists under.
const SettingKey = "appearance.theme"

// State is what subscribers observe: the explicit preference and the scheme
// derived from it.
type State struct {
	Preference Preference `json:"preference"`
	Effective  Scheme     `json:"effective"`
}

// Settings is the slice of the local store the theme needs.
// Implemented by storage.Store.
type Settings interface {
	SetSetting(key, value string) error
	GetSetting(key string) (string, error)
}

// SignalSource reports the operating environment's appearance and its changes.
type SignalSource interface {
	Current(ctx context.Context) (Scheme, error)
	// Watch streams appearance changes until ctx is cancelled or the source
	// breaks; callers re-open as needed.
	Watch(ctx context.Context) (<-chan Scheme, error)
}

// Store owns the theme state: single writer, observer reads.
type Store struct {
	settings Settings
	source   SignalSource
	logger   *slog.Logger

	watchRetry time.Duration

	mu         sync.Mutex
	preference Preference
	osScheme   Scheme
	listeners  map[int]func(State)
	nextID     int
}

// NewStore creates a Store, loading the persisted preference if present and
// valid, else falling back to defaultPref. Unreadable or unrecognized
// persisted values are recovered silently; the user never sees that failure.
func NewStore(settings Settings, source SignalSource, defaultPref Preference) *Store {
	s := &Store{
		settings:   settings,
		source:     source,
		logger:     slog.Default(),
		watchRetry: 5 * time.Second,
		preference: defaultPref,
		osScheme:   SchemeLight,
		listeners:  make(map[int]func(State)),
	}
	if !s.preference.Valid() {
		s.preference = System
	}

	raw, err := settings.GetSetting(SettingKey)
	switch {
	case err == nil:
		if p := Preference(raw); p.Valid() {
			s.preference = p
		} else {
			s.logger.Warn("unrecognized persisted theme, using default", "value", raw, "default", s.preference)
		}
	case err != storage.ErrNotFound:
		s.logger.Warn("could not read persisted theme, using default", "error", err, "default", s.preference)
	}
	return s
}

// Preference returns the explicit user preference.
func (s *Store) Preference() Preference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preference
}

// Effective returns the derived scheme synchronously.
func (s *Store) Effective() Scheme {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveLocked()
}

// Current returns the full observable state.
func (s *Store) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Preference: s.preference, Effective: s.effectiveLocked()}
}

func (s *Store) effectiveLocked() Scheme {
	if s.preference == System {
		return s.osScheme
	}
	if s.preference == Dark {
		return SchemeDark
	}
	return SchemeLight
}

// SetPreference updates and persists the explicit preference, recomputes the
// effective scheme, and notifies subscribers.
func (s *Store) SetPreference(p Preference) error {
	if !p.Valid() {
		return fmt.Errorf("unknown theme preference %q", p)
	}
	if err := s.settings.SetSetting(SettingKey, string(p)); err != nil {
		return fmt.Errorf("persisting theme preference: %w", err)
	}

	s.mu.Lock()
	if p == s.preference {
		s.mu.Unlock()
		return nil
	}
	s.preference = p
	state := State{Preference: s.preference, Effective: s.effectiveLocked()}
	fns := s.listenersLocked()
	s.mu.Unlock()

	s.notify(state, fns)
	return nil
}

// Subscribe registers fn, invokes it once immediately with the current state,
// and again on every change. The returned func releases the listener.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	state := State{Preference: s.preference, Effective: s.effectiveLocked()}
	s.mu.Unlock()

	fn(state)

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Run reads the environment signal once and then tracks its changes until
// ctx is cancelled. A change recomputes and notifies only while the
// preference is System; an explicit Light/Dark preference is immune.
func (s *Store) Run(ctx context.Context) error {
	if scheme, err := s.source.Current(ctx); err != nil {
		s.logger.Warn("could not read OS appearance, assuming light", "error", err)
	} else {
		s.applySignal(scheme)
	}

	for {
		if err := s.watch(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("appearance signal stream broken", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.watchRetry):
		}
	}
}

func (s *Store) watch(ctx context.Context) error {
	changes, err := s.source.Watch(ctx)
	if err != nil {
		return fmt.Errorf("opening appearance stream: %w", err)
	}
	for scheme := range changes {
		s.applySignal(scheme)
	}
	return nil
}

// applySignal records the latest OS scheme. The stored signal is always kept
// current so a later switch to System picks it up, but subscribers are only
// notified when the effective scheme actually changed.
func (s *Store) applySignal(scheme Scheme) {
	s.mu.Lock()
	before := s.effectiveLocked()
	s.osScheme = scheme
	after := s.effectiveLocked()
	if before == after {
		s.mu.Unlock()
		return
	}
	state := State{Preference: s.preference, Effective: after}
	fns := s.listenersLocked()
	s.mu.Unlock()

	s.notify(state, fns)
}

func (s *Store) listenersLocked() []func(State) {
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func (s *Store) notify(state State, fns []func(State)) {
	s.logger.Debug("theme changed", "preference", string(state.Preference), "effective", string(state.Effective))
	for _, fn := range fns {
		fn(state)
	}
}
