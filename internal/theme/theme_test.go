package theme

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lanternapp/lantern/internal/storage"
)

// fakeSettings is an in-memory Settings implementation.
type fakeSettings struct {
	mu     sync.Mutex
	data   map[string]string
	getErr error
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{data: make(map[string]string)}
}

func (f *fakeSettings) SetSetting(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeSettings) GetSetting(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

// fakeSource is a controllable appearance signal.
type fakeSource struct {
	initial Scheme
	ch      chan Scheme
}

func newFakeSource(initial Scheme) *fakeSource {
	return &fakeSource{initial: initial, ch: make(chan Scheme)}
}

func (f *fakeSource) Current(ctx context.Context) (Scheme, error) { return f.initial, nil }

func (f *fakeSource) Watch(ctx context.Context) (<-chan Scheme, error) { return f.ch, nil }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPersistedPreferenceIsLoaded(t *testing.T) {
	settings := newFakeSettings()
	settings.data[SettingKey] = "dark"

	s := NewStore(settings, newFakeSource(SchemeLight), System)

	if got := s.Preference(); got != Dark {
		t.Errorf("preference = %v, want dark", got)
	}
	if got := s.Effective(); got != SchemeDark {
		t.Errorf("effective = %v, want dark", got)
	}
}

func TestMalformedPersistedValueFallsBackSilently(t *testing.T) {
	settings := newFakeSettings()
	settings.data[SettingKey] = "solarized"

	s := NewStore(settings, newFakeSource(SchemeLight), System)

	if got := s.Preference(); got != System {
		t.Errorf("preference = %v, want default (system)", got)
	}
}

func TestUnreadableSettingsFallBackSilently(t *testing.T) {
	settings := newFakeSettings()
	settings.getErr = errors.New("disk error")

	s := NewStore(settings, newFakeSource(SchemeLight), Light)

	if got := s.Preference(); got != Light {
		t.Errorf("preference = %v, want default (light)", got)
	}
}

func TestSetPreferencePersistsAndNotifies(t *testing.T) {
	settings := newFakeSettings()
	s := NewStore(settings, newFakeSource(SchemeLight), System)

	var states []State
	unsubscribe := s.Subscribe(func(st State) { states = append(states, st) })
	defer unsubscribe()

	if err := s.SetPreference(Dark); err != nil {
		t.Fatalf("SetPreference error: %v", err)
	}

	if got := settings.data[SettingKey]; got != "dark" {
		t.Errorf("persisted value = %q, want %q", got, "dark")
	}
	if len(states) != 2 {
		t.Fatalf("listener called %d times, want 2 (replay + change)", len(states))
	}
	if states[1].Effective != SchemeDark {
		t.Errorf("notified effective = %v, want dark", states[1].Effective)
	}
}

func TestSetPreferenceRejectsUnknownValue(t *testing.T) {
	s := NewStore(newFakeSettings(), newFakeSource(SchemeLight), System)

	if err := s.SetPreference("sepia"); err == nil {
		t.Fatal("expected error for unknown preference")
	}
}

func TestExplicitPreferenceImmuneToSignalChanges(t *testing.T) {
	settings := newFakeSettings()
	source := newFakeSource(SchemeLight)
	s := NewStore(settings, source, System)
	if err := s.SetPreference(Light); err != nil {
		t.Fatalf("SetPreference error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var mu sync.Mutex
	notified := 0
	unsubscribe := s.Subscribe(func(State) {
		mu.Lock()
		notified++
		mu.Unlock()
	})
	defer unsubscribe()

	source.ch <- SchemeDark

	// The signal is recorded but must not alter the effective scheme.
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.osScheme == SchemeDark
	})
	if got := s.Effective(); got != SchemeLight {
		t.Errorf("effective = %v, want light (explicit preference wins)", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if notified != 1 {
		t.Errorf("listener called %d times, want 1 (replay only)", notified)
	}
}

func TestSystemPreferenceFollowsSignal(t *testing.T) {
	settings := newFakeSettings()
	source := newFakeSource(SchemeLight)
	s := NewStore(settings, source, System)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	source.ch <- SchemeDark
	waitFor(t, func() bool { return s.Effective() == SchemeDark })

	source.ch <- SchemeLight
	waitFor(t, func() bool { return s.Effective() == SchemeLight })
}

func TestSwitchingToSystemPicksUpLatestSignal(t *testing.T) {
	settings := newFakeSettings()
	source := newFakeSource(SchemeDark)
	s := NewStore(settings, source, Light)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.osScheme == SchemeDark
	})
	if got := s.Effective(); got != SchemeLight {
		t.Fatalf("effective = %v, want light before switch", got)
	}

	if err := s.SetPreference(System); err != nil {
		t.Fatalf("SetPreference error: %v", err)
	}
	if got := s.Effective(); got != SchemeDark {
		t.Errorf("effective = %v, want dark after switching to system", got)
	}
}
