// Package identity implements the identity-provider collaborator: current
// session fetch, sign-out, and the provider's pushed change stream.
package identity

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lanternapp/lantern/internal/session"
)

// Client communicates with the remote identity provider over HTTP.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	// streamClient has no timeout; the change stream is long-lived.
	streamClient *http.Client
	logger       *slog.Logger
}

// New creates a Client for the given provider base URL. An empty access token
// is valid: the provider is never contacted and the session reads as
// unauthenticated.
func New(baseURL, accessToken string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		accessToken:  accessToken,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		streamClient: &http.Client{},
		logger:       slog.Default(),
	}
}

// sessionPayload mirrors the provider's session JSON.
type sessionPayload struct {
	Status string `json:"status"`
	User   *struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func (p sessionPayload) toSession() session.Session {
	if p.Status == "authenticated" && p.User != nil {
		return session.Authenticated(p.User.ID, p.User.Email)
	}
	return session.Unauthenticated()
}

// CurrentSession fetches the provider's view of the session. A missing token
// or a 401 both read as unauthenticated, not as errors.
func (c *Client) CurrentSession(ctx context.Context) (session.Session, error) {
	if c.accessToken == "" {
		return session.Unauthenticated(), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/session", nil)
	if err != nil {
		return session.Session{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return session.Session{}, fmt.Errorf("fetching session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return session.Unauthenticated(), nil
	}
	if resp.StatusCode != http.StatusOK {
		return session.Session{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return session.Session{}, fmt.Errorf("decoding session: %w", err)
	}
	return payload.toSession(), nil
}

// SignOut terminates the session at the provider.
func (c *Client) SignOut(ctx context.Context) error {
	if c.accessToken == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/logout", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting logout: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("provider rejected logout: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Watch opens the provider's server-sent-event stream and forwards each
// pushed session value. The returned channel is closed when ctx is cancelled
// or the stream breaks; callers re-open as needed.
func (c *Client) Watch(ctx context.Context) (<-chan session.Session, error) {
	if c.accessToken == "" {
		// No credentials, nothing will ever be pushed. Block until cancel so
		// the caller doesn't spin on reconnects.
		ch := make(chan session.Session)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/session/events", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening change stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	ch := make(chan session.Session)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}

			var payload sessionPayload
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				c.logger.Warn("malformed session event, skipping", "error", err)
				continue
			}

			select {
			case ch <- payload.toSession():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
