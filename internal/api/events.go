package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lanternapp/lantern/internal/profile"
	"github.com/lanternapp/lantern/internal/session"
	"github.com/lanternapp/lantern/internal/theme"
)

// sseEvent is one named payload on the event stream.
type sseEvent struct {
	name string
	data []byte
}

// handleEvents streams session, theme, and profile changes as server-sent
// events. Listeners are registered on connect and released when the client
// disconnects; each subscription replays the current value first, so a fresh
// connection always starts from a complete picture.
func handleEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		// Buffered so a slow client drops events instead of blocking the
		// stores' notify loops.
		events := make(chan sseEvent, 16)
		send := func(name string, payload any) {
			data, err := json.Marshal(payload)
			if err != nil {
				return
			}
			select {
			case events <- sseEvent{name: name, data: data}:
			default:
			}
		}

		unsubSession := deps.Sessions.Subscribe(func(s session.Session) {
			send("session", sessionPayload(s))
		})
		defer unsubSession()

		unsubTheme := deps.Theme.Subscribe(func(st theme.State) {
			send("theme", st)
		})
		defer unsubTheme()

		if p := deps.Profile(); p != nil {
			unsubProfile := p.Subscribe(func(ev profile.Event) {
				send("profile", map[string]any{
					"record":        ev.Record,
					"field_update":  mutationPayload(ev.FieldUpdate),
					"avatar_upload": mutationPayload(ev.AvatarUpload),
				})
			})
			defer unsubProfile()
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case ev := <-events:
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
				flusher.Flush()
			}
		}
	}
}
