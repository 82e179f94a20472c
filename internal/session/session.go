// Package session owns the shell's authentication state. The store is the
// single writer; every other component reads through Current or Subscribe.
package session

import "encoding/json"

// Status is the tagged authentication state. Exactly one value is live at a
// time and transitions are driven only by the identity provider.
type Status int

const (
	// StatusUnknown is the initial state before the first provider answer.
	StatusUnknown Status = iota
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its string form for the API surface.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// User is the authenticated identity as reported by the provider.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the current authentication value. User is non-nil only when
// Status is StatusAuthenticated.
type Session struct {
	Status Status `json:"status"`
	User   *User  `json:"user,omitempty"`
}

// Unknown returns the initial session value.
func Unknown() Session {
	return Session{Status: StatusUnknown}
}

// Unauthenticated returns the signed-out session value.
func Unauthenticated() Session {
	return Session{Status: StatusUnauthenticated}
}

// Authenticated returns a signed-in session value for the given identity.
func Authenticated(id, email string) Session {
	return Session{Status: StatusAuthenticated, User: &User{ID: id, Email: email}}
}
