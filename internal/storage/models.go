package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ProfileSnapshot is the locally persisted copy of the last profile record
// confirmed by the remote data store. Nullable columns map to nil pointers.
type ProfileSnapshot struct {
	UserID      string
	Email       string
	DisplayName *string
	AvatarURL   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
