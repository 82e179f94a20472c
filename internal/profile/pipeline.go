// Package profile orchestrates profile mutations: load the record, apply
// field edits, validate and upload avatars, and keep one cached copy that all
// consumers render from.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/lanternapp/lantern/internal/storage"
)

// DataStore is the remote data-store collaborator.
// Implemented by datastore.Client.
type DataStore interface {
	GetProfile(ctx context.Context, userID string) (Record, error)
	// UpdateProfile applies a partial update and returns the confirmed
	// record. Keys are column names; a nil value clears the column.
	UpdateProfile(ctx context.Context, userID string, fields map[string]any) (Record, error)
	// UploadAsset stores the payload and returns a durable URL.
	UploadAsset(ctx context.Context, userID string, data []byte, mediaType string) (string, error)
}

// SnapshotStore persists the last confirmed record locally so the shell can
// render from it before the remote refresh lands. Implemented by
// storage.Store; may be nil to disable warm starts.
type SnapshotStore interface {
	SaveProfileSnapshot(storage.ProfileSnapshot) error
	GetProfileSnapshot(userID string) (storage.ProfileSnapshot, error)
}

// Event is what subscribers observe: the latest cached record (deep copy,
// nil before the first load) and both mutation states.
type Event struct {
	Record       *Record
	FieldUpdate  MutationState
	AvatarUpload MutationState
}

// Pipeline owns the single cached record. All writes to it are serialized by
// one mutex so mutations that resolve out of order apply as per-field merges,
// never whole-record overwrites.
type Pipeline struct {
	userID    string
	store     DataStore
	snapshots SnapshotStore
	logger    *slog.Logger

	mu          sync.Mutex
	record      *Record
	fieldState  MutationState
	avatarState MutationState
	listeners   map[int]func(Event)
	nextID      int
}

// NewPipeline creates a Pipeline for the given user. Call Load before issuing
// mutations.
func NewPipeline(userID string, store DataStore, snapshots SnapshotStore) *Pipeline {
	return &Pipeline{
		userID:    userID,
		store:     store,
		snapshots: snapshots,
		logger:    slog.Default(),
		listeners: make(map[int]func(Event)),
	}
}

// Load fills the cache: first from the local snapshot if one exists (warm
// start), then from the data store. A remote failure with a warm cache is
// logged and tolerated; without any record it is returned.
func (p *Pipeline) Load(ctx context.Context) error {
	if p.snapshots != nil {
		if snap, err := p.snapshots.GetProfileSnapshot(p.userID); err == nil {
			rec := recordFromSnapshot(snap)
			p.mu.Lock()
			p.record = &rec
			p.mu.Unlock()
			p.notify()
		} else if !errors.Is(err, storage.ErrNotFound) {
			p.logger.Warn("could not read profile snapshot", "error", err)
		}
	}

	rec, err := p.store.GetProfile(ctx, p.userID)
	if err != nil {
		p.mu.Lock()
		warm := p.record != nil
		p.mu.Unlock()
		if warm {
			p.logger.Warn("profile refresh failed, rendering from snapshot", "error", err)
			return nil
		}
		return fmt.Errorf("loading profile: %w", err)
	}

	p.mu.Lock()
	p.record = &rec
	p.mu.Unlock()
	p.persistSnapshot(rec)
	p.notify()
	return nil
}

// Cached returns a deep copy of the cached record, or nil before Load.
func (p *Pipeline) Cached() *Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.record == nil {
		return nil
	}
	cp := p.record.clone()
	return &cp
}

// FieldUpdateState returns the field-update machine's observable state.
func (p *Pipeline) FieldUpdateState() MutationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fieldState
}

// AvatarUploadState returns the avatar-upload machine's observable state.
func (p *Pipeline) AvatarUploadState() MutationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.avatarState
}

// Subscribe registers fn, invokes it once immediately with the current event,
// and again on every record or state change. The returned func releases the
// listener; views must call it on teardown.
func (p *Pipeline) Subscribe(fn func(Event)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	ev := p.eventLocked()
	p.mu.Unlock()

	fn(ev)

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// UpdateFields applies the patch to the remote record and, on confirmation,
// merges it into the cache. On failure the cache is left unchanged; there is
// no partial merge and no automatic retry.
func (p *Pipeline) UpdateFields(ctx context.Context, patch Patch) error {
	p.mu.Lock()
	if p.record == nil {
		p.mu.Unlock()
		return ErrNoProfile
	}
	p.fieldState = MutationState{Status: StatusInFlight}
	p.mu.Unlock()
	p.notify()

	fields := map[string]any{"display_name": nil}
	if patch.DisplayName != nil {
		fields["display_name"] = *patch.DisplayName
	}

	confirmed, err := p.store.UpdateProfile(ctx, p.userID, fields)
	if err != nil {
		p.fail(&p.fieldState, err)
		return fmt.Errorf("updating profile: %w", err)
	}

	p.mu.Lock()
	p.record.DisplayName = confirmed.DisplayName
	if confirmed.UpdatedAt.After(p.record.UpdatedAt) {
		p.record.UpdatedAt = confirmed.UpdatedAt
	}
	p.fieldState = MutationState{Status: StatusSucceeded}
	snap := *p.record
	p.mu.Unlock()

	p.persistSnapshot(snap)
	p.notify()
	return nil
}

// UploadAvatar validates the candidate, uploads it, and merges the returned
// durable URL into the cache. Validation failures resolve immediately as
// Failed without ever entering InFlight and without any network call.
func (p *Pipeline) UploadAvatar(ctx context.Context, candidate AvatarCandidate) error {
	if err := validateAvatar(candidate); err != nil {
		p.mu.Lock()
		if p.avatarState.Status == StatusInFlight {
			// A rejected candidate must not disturb the running upload.
			p.mu.Unlock()
			return err
		}
		p.avatarState = MutationState{Status: StatusFailed, Reason: err.Error()}
		p.mu.Unlock()
		p.notify()
		return err
	}

	p.mu.Lock()
	if p.record == nil {
		p.mu.Unlock()
		return ErrNoProfile
	}
	if p.avatarState.Status == StatusInFlight {
		p.mu.Unlock()
		return ErrUploadInFlight
	}
	p.avatarState = MutationState{Status: StatusInFlight}
	p.mu.Unlock()
	p.notify()

	url, err := p.store.UploadAsset(ctx, p.userID, candidate.Data, candidate.MediaType)
	if err != nil {
		p.fail(&p.avatarState, err)
		return fmt.Errorf("uploading avatar: %w", err)
	}

	confirmed, err := p.store.UpdateProfile(ctx, p.userID, map[string]any{"avatar_url": url})
	if err != nil {
		p.fail(&p.avatarState, err)
		return fmt.Errorf("saving avatar reference: %w", err)
	}

	p.mu.Lock()
	p.record.AvatarURL = confirmed.AvatarURL
	if confirmed.UpdatedAt.After(p.record.UpdatedAt) {
		p.record.UpdatedAt = confirmed.UpdatedAt
	}
	p.avatarState = MutationState{Status: StatusSucceeded}
	snap := *p.record
	p.mu.Unlock()

	p.persistSnapshot(snap)
	p.notify()
	return nil
}

func validateAvatar(candidate AvatarCandidate) error {
	if !strings.HasPrefix(candidate.MediaType, "image/") {
		return ErrInvalidMediaType
	}
	if len(candidate.Data) > MaxAvatarBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

// fail moves the given state machine to Failed. The cached record is never
// touched on failure: the UI must not show data the store never confirmed.
func (p *Pipeline) fail(state *MutationState, err error) {
	p.mu.Lock()
	*state = MutationState{Status: StatusFailed, Reason: err.Error()}
	p.mu.Unlock()
	p.logger.Warn("profile mutation failed", "error", err)
	p.notify()
}

func (p *Pipeline) persistSnapshot(rec Record) {
	if p.snapshots == nil {
		return
	}
	snap := storage.ProfileSnapshot{
		UserID:      rec.UserID,
		Email:       rec.Email,
		DisplayName: rec.DisplayName,
		AvatarURL:   rec.AvatarURL,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if err := p.snapshots.SaveProfileSnapshot(snap); err != nil {
		p.logger.Warn("could not persist profile snapshot", "error", err)
	}
}

func recordFromSnapshot(snap storage.ProfileSnapshot) Record {
	return Record{
		UserID:      snap.UserID,
		Email:       snap.Email,
		DisplayName: snap.DisplayName,
		AvatarURL:   snap.AvatarURL,
		CreatedAt:   snap.CreatedAt,
		UpdatedAt:   snap.UpdatedAt,
	}
}

func (p *Pipeline) eventLocked() Event {
	ev := Event{FieldUpdate: p.fieldState, AvatarUpload: p.avatarState}
	if p.record != nil {
		cp := p.record.clone()
		ev.Record = &cp
	}
	return ev
}

func (p *Pipeline) notify() {
	p.mu.Lock()
	ev := p.eventLocked()
	fns := make([]func(Event), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
