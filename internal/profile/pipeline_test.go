package profile

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lanternapp/lantern/internal/storage"
)

// fakeDataStore is an in-memory data-store collaborator with hooks to control
// when each call resolves.
type fakeDataStore struct {
	mu     sync.Mutex
	record Record

	getErr    error
	updateErr error
	uploadErr error

	uploadCalls int
	updateCalls int

	// beforeUpdate, when set, runs before an update is applied; used to hold
	// one mutation open while another resolves.
	beforeUpdate func(fields map[string]any)
}

func newFakeDataStore() *fakeDataStore {
	return &fakeDataStore{
		record: Record{
			UserID:    "u-1",
			Email:     "ada@example.com",
			CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func (f *fakeDataStore) GetProfile(ctx context.Context, userID string) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return Record{}, f.getErr
	}
	return f.record.clone(), nil
}

func (f *fakeDataStore) UpdateProfile(ctx context.Context, userID string, fields map[string]any) (Record, error) {
	f.mu.Lock()
	hook := f.beforeUpdate
	f.mu.Unlock()
	if hook != nil {
		hook(fields)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return Record{}, f.updateErr
	}
	for key, value := range fields {
		switch key {
		case "display_name":
			if value == nil {
				f.record.DisplayName = nil
			} else {
				v := value.(string)
				f.record.DisplayName = &v
			}
		case "avatar_url":
			if value == nil {
				f.record.AvatarURL = nil
			} else {
				v := value.(string)
				f.record.AvatarURL = &v
			}
		}
	}
	f.record.UpdatedAt = f.record.UpdatedAt.Add(time.Second)
	return f.record.clone(), nil
}

func (f *fakeDataStore) UploadAsset(ctx context.Context, userID string, data []byte, mediaType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "https://assets.example.com/avatars/u-1.png", nil
}

func loadedPipeline(t *testing.T, store *fakeDataStore) *Pipeline {
	t.Helper()
	p := NewPipeline("u-1", store, nil)
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return p
}

func validCandidate() AvatarCandidate {
	return AvatarCandidate{Data: []byte("png-bytes"), MediaType: "image/png"}
}

func TestLoadCachesRecord(t *testing.T) {
	p := loadedPipeline(t, newFakeDataStore())

	rec := p.Cached()
	if rec == nil {
		t.Fatal("expected cached record after Load")
	}
	if rec.Email != "ada@example.com" {
		t.Errorf("email = %q", rec.Email)
	}
}

func TestUpdateFieldsMergesOnSuccess(t *testing.T) {
	store := newFakeDataStore()
	p := loadedPipeline(t, store)

	var events []Event
	unsubscribe := p.Subscribe(func(ev Event) { events = append(events, ev) })
	defer unsubscribe()

	name := "Ada"
	if err := p.UpdateFields(context.Background(), Patch{DisplayName: &name}); err != nil {
		t.Fatalf("UpdateFields error: %v", err)
	}

	rec := p.Cached()
	if rec.DisplayName == nil || *rec.DisplayName != "Ada" {
		t.Errorf("display name = %v", rec.DisplayName)
	}
	if got := p.FieldUpdateState().Status; got != StatusSucceeded {
		t.Errorf("field state = %v, want succeeded", got)
	}
	if !rec.UpdatedAt.After(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("updated timestamp was not refreshed")
	}

	// Replay + InFlight + Succeeded.
	if len(events) != 3 {
		t.Fatalf("listener called %d times, want 3", len(events))
	}
	if events[1].FieldUpdate.Status != StatusInFlight {
		t.Errorf("second event state = %v, want in_flight", events[1].FieldUpdate.Status)
	}
}

func TestUpdateFieldsClearsDisplayName(t *testing.T) {
	store := newFakeDataStore()
	name := "Ada"
	store.record.DisplayName = &name
	p := loadedPipeline(t, store)

	if err := p.UpdateFields(context.Background(), Patch{}); err != nil {
		t.Fatalf("UpdateFields error: %v", err)
	}
	if rec := p.Cached(); rec.DisplayName != nil {
		t.Errorf("display name = %v, want cleared", *rec.DisplayName)
	}
}

func TestUpdateFieldsFailureLeavesCacheUnchanged(t *testing.T) {
	store := newFakeDataStore()
	p := loadedPipeline(t, store)
	store.updateErr = errors.New("store rejected the update")

	name := "Ada"
	err := p.UpdateFields(context.Background(), Patch{DisplayName: &name})
	if err == nil {
		t.Fatal("expected error")
	}

	if rec := p.Cached(); rec.DisplayName != nil {
		t.Errorf("cache changed on failure: %v", *rec.DisplayName)
	}
	state := p.FieldUpdateState()
	if state.Status != StatusFailed {
		t.Errorf("state = %v, want failed", state.Status)
	}
	if !strings.Contains(state.Reason, "rejected") {
		t.Errorf("reason = %q, want the provider's reason", state.Reason)
	}
}

func TestOversizeAvatarRejectedBeforeNetwork(t *testing.T) {
	store := newFakeDataStore()
	p := loadedPipeline(t, store)

	states := make([]Status, 0, 4)
	unsubscribe := p.Subscribe(func(ev Event) { states = append(states, ev.AvatarUpload.Status) })
	defer unsubscribe()

	candidate := AvatarCandidate{
		Data:      bytes.Repeat([]byte{0xff}, 6<<20),
		MediaType: "image/jpeg",
	}
	err := p.UploadAvatar(context.Background(), candidate)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}

	if store.uploadCalls != 0 {
		t.Errorf("upload reached the data store %d times", store.uploadCalls)
	}
	if rec := p.Cached(); rec.AvatarURL != nil {
		t.Errorf("avatar reference changed: %v", *rec.AvatarURL)
	}
	// Straight to Failed, never InFlight.
	for _, s := range states {
		if s == StatusInFlight {
			t.Error("rejected candidate flickered through in_flight")
		}
	}
	if got := p.AvatarUploadState().Status; got != StatusFailed {
		t.Errorf("state = %v, want failed", got)
	}
}

func TestNonImageAvatarRejectedBeforeNetwork(t *testing.T) {
	store := newFakeDataStore()
	p := loadedPipeline(t, store)

	err := p.UploadAvatar(context.Background(), AvatarCandidate{
		Data:      []byte("hello"),
		MediaType: "text/plain",
	})
	if !errors.Is(err, ErrInvalidMediaType) {
		t.Fatalf("err = %v, want ErrInvalidMediaType", err)
	}
	if store.uploadCalls != 0 {
		t.Errorf("upload reached the data store %d times", store.uploadCalls)
	}
}

func TestUploadAvatarMergesDurableReference(t *testing.T) {
	store := newFakeDataStore()
	p := loadedPipeline(t, store)

	if err := p.UploadAvatar(context.Background(), validCandidate()); err != nil {
		t.Fatalf("UploadAvatar error: %v", err)
	}

	rec := p.Cached()
	if rec.AvatarURL == nil || *rec.AvatarURL != "https://assets.example.com/avatars/u-1.png" {
		t.Errorf("avatar url = %v", rec.AvatarURL)
	}
	if got := p.AvatarUploadState().Status; got != StatusSucceeded {
		t.Errorf("state = %v, want succeeded", got)
	}
}

func TestUploadFailureLeavesCacheUnchanged(t *testing.T) {
	store := newFakeDataStore()
	p := loadedPipeline(t, store)
	store.uploadErr = errors.New("bucket unavailable")

	err := p.UploadAvatar(context.Background(), validCandidate())
	if err == nil {
		t.Fatal("expected error")
	}
	if rec := p.Cached(); rec.AvatarURL != nil {
		t.Errorf("avatar reference changed on failure: %v", *rec.AvatarURL)
	}
	if got := p.AvatarUploadState().Status; got != StatusFailed {
		t.Errorf("state = %v, want failed", got)
	}
}

func TestSecondUploadRejectedWhileFirstInFlight(t *testing.T) {
	store := newFakeDataStore()
	p := loadedPipeline(t, store)

	firstEntered := make(chan struct{})
	release := make(chan struct{})
	store.beforeUpdate = func(fields map[string]any) {
		if _, ok := fields["avatar_url"]; ok {
			close(firstEntered)
			<-release
		}
	}

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- p.UploadAvatar(context.Background(), validCandidate())
	}()
	<-firstEntered

	err := p.UploadAvatar(context.Background(), validCandidate())
	if !errors.Is(err, ErrUploadInFlight) {
		t.Fatalf("err = %v, want ErrUploadInFlight", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
	if rec := p.Cached(); rec.AvatarURL == nil {
		t.Error("first upload's success did not apply")
	}
}

func TestOutOfOrderResolutionMergesBothFields(t *testing.T) {
	store := newFakeDataStore()
	p := loadedPipeline(t, store)

	// Hold the display-name update open until the avatar upload has fully
	// resolved: issued first, resolves second.
	nameEntered := make(chan struct{})
	releaseName := make(chan struct{})
	store.beforeUpdate = func(fields map[string]any) {
		if _, ok := fields["display_name"]; ok {
			close(nameEntered)
			<-releaseName
		}
	}

	nameDone := make(chan error, 1)
	name := "Ada"
	go func() {
		nameDone <- p.UpdateFields(context.Background(), Patch{DisplayName: &name})
	}()
	<-nameEntered

	if err := p.UploadAvatar(context.Background(), validCandidate()); err != nil {
		t.Fatalf("UploadAvatar error: %v", err)
	}

	close(releaseName)
	if err := <-nameDone; err != nil {
		t.Fatalf("UpdateFields error: %v", err)
	}

	rec := p.Cached()
	if rec.DisplayName == nil || *rec.DisplayName != "Ada" {
		t.Errorf("display name lost: %v", rec.DisplayName)
	}
	if rec.AvatarURL == nil {
		t.Error("avatar reference lost")
	}
}

func TestWarmStartFromSnapshot(t *testing.T) {
	local, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	defer local.Close()

	name := "Ada"
	snap := storage.ProfileSnapshot{
		UserID:      "u-1",
		Email:       "ada@example.com",
		DisplayName: &name,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := local.SaveProfileSnapshot(snap); err != nil {
		t.Fatalf("SaveProfileSnapshot error: %v", err)
	}

	store := newFakeDataStore()
	store.getErr = errors.New("data store unreachable")

	p := NewPipeline("u-1", store, local)
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load with warm snapshot should tolerate a remote failure, got %v", err)
	}

	rec := p.Cached()
	if rec == nil || rec.DisplayName == nil || *rec.DisplayName != "Ada" {
		t.Errorf("warm-start record = %+v", rec)
	}
}

func TestMutationsRequireLoadedRecord(t *testing.T) {
	p := NewPipeline("u-1", newFakeDataStore(), nil)

	name := "Ada"
	if err := p.UpdateFields(context.Background(), Patch{DisplayName: &name}); !errors.Is(err, ErrNoProfile) {
		t.Errorf("UpdateFields err = %v, want ErrNoProfile", err)
	}
	if err := p.UploadAvatar(context.Background(), validCandidate()); !errors.Is(err, ErrNoProfile) {
		t.Errorf("UploadAvatar err = %v, want ErrNoProfile", err)
	}
}
