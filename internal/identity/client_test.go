package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lanternapp/lantern/internal/session"
)

func TestCurrentSessionAuthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/session" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"authenticated","user":{"id":"u-1","email":"ada@example.com"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-1")
	got, err := c.CurrentSession(context.Background())
	if err != nil {
		t.Fatalf("CurrentSession error: %v", err)
	}
	if got.Status != session.StatusAuthenticated {
		t.Errorf("status = %v, want authenticated", got.Status)
	}
	if got.User == nil || got.User.Email != "ada@example.com" {
		t.Errorf("user = %+v", got.User)
	}
}

func TestCurrentSessionExpiredTokenReadsUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "expired")
	got, err := c.CurrentSession(context.Background())
	if err != nil {
		t.Fatalf("CurrentSession error: %v", err)
	}
	if got.Status != session.StatusUnauthenticated {
		t.Errorf("status = %v, want unauthenticated", got.Status)
	}
}

func TestCurrentSessionWithoutTokenSkipsNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	got, err := c.CurrentSession(context.Background())
	if err != nil {
		t.Fatalf("CurrentSession error: %v", err)
	}
	if got.Status != session.StatusUnauthenticated {
		t.Errorf("status = %v, want unauthenticated", got.Status)
	}
	if calls != 0 {
		t.Errorf("provider contacted %d times without a token", calls)
	}
}

func TestSignOutSurfacesProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-1")
	if err := c.SignOut(context.Background()); err == nil {
		t.Fatal("expected error from rejected logout")
	}
}

func TestWatchDeliversPushedEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write([]byte("event: session\ndata: {\"status\":\"unauthenticated\"}\n\n"))
		flusher.Flush()
		w.Write([]byte("data: {\"status\":\"authenticated\",\"user\":{\"id\":\"u-1\",\"email\":\"ada@example.com\"}}\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c := New(srv.URL, "tok-1")
	ch, err := c.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}

	first, ok := <-ch
	if !ok {
		t.Fatal("stream closed before first event")
	}
	if first.Status != session.StatusUnauthenticated {
		t.Errorf("first status = %v, want unauthenticated", first.Status)
	}

	second, ok := <-ch
	if !ok {
		t.Fatal("stream closed before second event")
	}
	if second.Status != session.StatusAuthenticated {
		t.Errorf("second status = %v, want authenticated", second.Status)
	}
}
