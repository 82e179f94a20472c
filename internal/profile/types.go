package profile

import (
	"errors"
	"time"
)

// Record is the profile as confirmed by the remote data store. Email is
// provider-of-record data: displayed, never mutated through this pipeline.
type Record struct {
	UserID      string     `json:"user_id"`
	Email       string     `json:"email"`
	DisplayName *string    `json:"display_name"`
	AvatarURL   *string    `json:"avatar_url"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (r Record) clone() Record {
	cp := r
	if r.DisplayName != nil {
		v := *r.DisplayName
		cp.DisplayName = &v
	}
	if r.AvatarURL != nil {
		v := *r.AvatarURL
		cp.AvatarURL = &v
	}
	return cp
}

// Patch is the accepted shape of a field update. Email is unrepresentable
// here by design. A nil DisplayName clears the name.
type Patch struct {
	DisplayName *string `json:"display_name"`
}

// AvatarCandidate is a transient in-memory payload: validated, uploaded, and
// discarded. It is never persisted as-is.
type AvatarCandidate struct {
	Data      []byte
	MediaType string
}

// MaxAvatarBytes is the upload ceiling enforced before any network call.
const MaxAvatarBytes = 5 << 20 // 5 MiB

// Status tracks one mutation kind through its lifecycle.
type Status int

const (
	StatusIdle Status = iota
	StatusInFlight
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInFlight:
		return "in_flight"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "idle"
	}
}

// MutationState is the observable state of one mutation kind. Reason is set
// only when Status is StatusFailed.
type MutationState struct {
	Status Status
	Reason string
}

var (
	// ErrNoProfile means no record has been loaded yet; mutations require a
	// cached record.
	ErrNoProfile = errors.New("no profile record loaded")

	// ErrInvalidMediaType rejects candidates that do not declare an image type.
	ErrInvalidMediaType = errors.New("avatar must be an image")

	// ErrPayloadTooLarge rejects candidates above MaxAvatarBytes.
	ErrPayloadTooLarge = errors.New("avatar exceeds the 5 MiB limit")

	// ErrUploadInFlight rejects a second upload while one is unresolved; the
	// first continues normally.
	ErrUploadInFlight = errors.New("an avatar upload is already in progress")
)
