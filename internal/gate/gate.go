// Package gate decides, for every evaluation, whether protected content may
// be rendered. It holds no state of its own.
package gate

import (
	"net/http"
	"strconv"

	"github.com/lanternapp/lantern/internal/session"
)

// Decision is the outcome of one gate evaluation. Exactly one applies.
type Decision int

const (
	// ShowLoading means the session is still unknown: render a neutral
	// placeholder, never the fallback (a fallback flash on reload reads as a
	// spurious redirect).
	ShowLoading Decision = iota
	ShowProtected
	ShowFallback
)

func (d Decision) String() string {
	switch d {
	case ShowProtected:
		return "protected"
	case ShowFallback:
		return "fallback"
	default:
		return "loading"
	}
}

// Decide maps the current session to a rendering decision.
func Decide(s session.Session) Decision {
	switch s.Status {
	case session.StatusAuthenticated:
		return ShowProtected
	case session.StatusUnauthenticated:
		return ShowFallback
	default:
		return ShowLoading
	}
}

// SessionReader is the slice of the session store the middleware needs.
type SessionReader interface {
	Current() session.Session
}

// retryAfter is the hint clients get while the session is still resolving.
const retryAfter = 1 // second

// Protect gates an http route on the current session: unknown answers 503
// with Retry-After so clients keep their loading state, unauthenticated
// answers 401 so clients render the fallback.
func Protect(sessions SessionReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch Decide(sessions.Current()) {
			case ShowProtected:
				next.ServeHTTP(w, r)
			case ShowFallback:
				http.Error(w, "authentication required", http.StatusUnauthorized)
			default:
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "session state not yet known", http.StatusServiceUnavailable)
			}
		})
	}
}
