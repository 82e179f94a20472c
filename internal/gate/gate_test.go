package gate

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lanternapp/lantern/internal/session"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		in   session.Session
		want Decision
	}{
		{"unknown renders loading", session.Unknown(), ShowLoading},
		{"authenticated renders protected", session.Authenticated("u-1", "ada@example.com"), ShowProtected},
		{"unauthenticated renders fallback", session.Unauthenticated(), ShowFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.in); got != tt.want {
				t.Errorf("Decide(%v) = %v, want %v", tt.in.Status, got, tt.want)
			}
		})
	}
}

type staticSession struct {
	s session.Session
}

func (r staticSession) Current() session.Session { return r.s }

func TestProtectMiddleware(t *testing.T) {
	protected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secret"))
	})

	tests := []struct {
		name       string
		session    session.Session
		wantStatus int
		wantBody   string
	}{
		{"authenticated passes through", session.Authenticated("u-1", "ada@example.com"), http.StatusOK, "secret"},
		{"unauthenticated gets 401", session.Unauthenticated(), http.StatusUnauthorized, ""},
		{"unknown gets 503", session.Unknown(), http.StatusServiceUnavailable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Protect(staticSession{tt.session})(protected)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profile", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if tt.wantStatus == http.StatusServiceUnavailable && rec.Header().Get("Retry-After") == "" {
				t.Error("expected Retry-After header while session is unknown")
			}
			// The protected body must never leak alongside a fallback decision.
			if tt.wantStatus != http.StatusOK && rec.Body.String() == "secret" {
				t.Error("protected content rendered for a non-protected decision")
			}
		})
	}
}
