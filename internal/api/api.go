// Package api exposes the shell's state stores over the loopback HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lanternapp/lantern/internal/gate"
	"github.com/lanternapp/lantern/internal/profile"
	"github.com/lanternapp/lantern/internal/session"
	"github.com/lanternapp/lantern/internal/theme"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ProfileSource returns the pipeline for the signed-in user, or nil while no
// user is signed in.
type ProfileSource func() *profile.Pipeline

// Deps holds the stores the handlers read from and mutate.
type Deps struct {
	Sessions *session.Store
	Theme    *theme.Store
	Profile  ProfileSource
	Token    string
}

// NewHandler builds the loopback router. Everything except /health requires
// the local bearer token; profile routes are additionally gated on an
// authenticated session.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/session", handleGetSession(deps))
		r.Post("/session/logout", handleLogout(deps))
		r.Get("/theme", handleGetTheme(deps))
		r.Put("/theme", handlePutTheme(deps))
		r.Get("/events", handleEvents(deps))

		r.Group(func(r chi.Router) {
			r.Use(gate.Protect(deps.Sessions))
			r.Get("/profile", handleGetProfile(deps))
			r.Patch("/profile", handlePatchProfile(deps))
			r.Post("/profile/avatar", handleUploadAvatar(deps))
			r.Get("/profile/mutations", handleGetMutations(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// sessionResponse is the wire form of a session value plus the rendering
// decision derived from it.
type sessionResponse struct {
	Status   session.Status `json:"status"`
	User     *session.User  `json:"user,omitempty"`
	Decision string         `json:"decision"`
}

func sessionPayload(s session.Session) sessionResponse {
	return sessionResponse{
		Status:   s.Status,
		User:     s.User,
		Decision: gate.Decide(s).String(),
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessionPayload(deps.Sessions.Current()))
	}
}

func handleLogout(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sessions.Logout(r.Context()); err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "logout failed: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "signed_out"})
	}
}

func handleGetTheme(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Theme.Current())
	}
}

func handlePutTheme(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Preference theme.Preference `json:"preference"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if !req.Preference.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown theme preference %q", req.Preference)
			return
		}
		if err := deps.Theme.SetPreference(req.Preference); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to set theme: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Theme.Current())
	}
}

// pipeline resolves the active profile pipeline or writes a 503 and returns
// nil. The gate guarantees an authenticated session here, but the pipeline
// lags sign-in by one load.
func pipeline(deps Deps, w http.ResponseWriter) *profile.Pipeline {
	p := deps.Profile()
	if p == nil {
		httpError(w, http.StatusServiceUnavailable, "api_error", "profile not loaded yet")
		return nil
	}
	return p
}

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := pipeline(deps, w)
		if p == nil {
			return
		}
		rec := p.Cached()
		if rec == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "profile not loaded yet")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

func handlePatchProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := pipeline(deps, w)
		if p == nil {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if _, ok := fields["email"]; ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "email cannot be changed")
			return
		}

		var patch profile.Patch
		for key, value := range fields {
			if key != "display_name" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown field %q", key)
				return
			}
			if value == nil {
				continue
			}
			name, ok := value.(string)
			if !ok {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "display_name must be a string or null")
				return
			}
			patch.DisplayName = &name
		}

		if err := p.UpdateFields(r.Context(), patch); err != nil {
			writeMutationError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p.Cached())
	}
}

func handleUploadAvatar(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := pipeline(deps, w)
		if p == nil {
			return
		}

		mediaType := r.Header.Get("Content-Type")
		if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
			mediaType = parsed
		}

		// One byte of slack so the pipeline's own ceiling check fires with the
		// canonical error instead of a truncated read.
		r.Body = http.MaxBytesReader(w, r.Body, profile.MaxAvatarBytes+1)
		data, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "avatar exceeds the size limit")
			return
		}

		candidate := profile.AvatarCandidate{Data: data, MediaType: mediaType}
		if err := p.UploadAvatar(r.Context(), candidate); err != nil {
			writeMutationError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p.Cached())
	}
}

// mutationStateResponse is the wire form of one mutation state machine.
type mutationStateResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func mutationPayload(s profile.MutationState) mutationStateResponse {
	return mutationStateResponse{Status: s.Status.String(), Reason: s.Reason}
}

func handleGetMutations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := pipeline(deps, w)
		if p == nil {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]mutationStateResponse{
			"field_update":  mutationPayload(p.FieldUpdateState()),
			"avatar_upload": mutationPayload(p.AvatarUploadState()),
		})
	}
}

func writeMutationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, profile.ErrInvalidMediaType):
		httpError(w, http.StatusUnsupportedMediaType, "invalid_request_error", "%v", err)
	case errors.Is(err, profile.ErrPayloadTooLarge):
		httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "%v", err)
	case errors.Is(err, profile.ErrUploadInFlight):
		httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
	case errors.Is(err, profile.ErrNoProfile):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	default:
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
