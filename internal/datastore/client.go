// Package datastore talks to the remote data store that owns profile records
// and uploaded assets.
package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lanternapp/lantern/internal/profile"
)

// Client communicates with the data-store API over HTTP. It implements
// profile.DataStore.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// New creates a Client targeting the given data-store base URL. Requests are
// authenticated with the user's access token.
func New(baseURL, accessToken string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetProfile fetches the profile record for userID.
func (c *Client) GetProfile(ctx context.Context, userID string) (profile.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/profiles/"+userID, nil)
	if err != nil {
		return profile.Record{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return profile.Record{}, fmt.Errorf("requesting profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return profile.Record{}, statusError(resp)
	}

	var rec profile.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return profile.Record{}, fmt.Errorf("decoding profile: %w", err)
	}
	return rec, nil
}

// UpdateProfile applies a partial update and returns the record as the store
// confirmed it. Keys are column names; a nil value clears the column.
func (c *Client) UpdateProfile(ctx context.Context, userID string, fields map[string]any) (profile.Record, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return profile.Record{}, fmt.Errorf("encoding fields: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/v1/profiles/"+userID, bytes.NewReader(body))
	if err != nil {
		return profile.Record{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return profile.Record{}, fmt.Errorf("updating profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return profile.Record{}, statusError(resp)
	}

	var rec profile.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return profile.Record{}, fmt.Errorf("decoding confirmed profile: %w", err)
	}
	return rec, nil
}

// uploadResponse mirrors the JSON returned by POST /v1/assets/{object}.
type uploadResponse struct {
	URL string `json:"url"`
}

// UploadAsset stores the payload under a fresh object name and returns the
// durable URL the store assigned to it.
func (c *Client) UploadAsset(ctx context.Context, userID string, data []byte, mediaType string) (string, error) {
	object := fmt.Sprintf("avatars/%s/%s", userID, uuid.New().String())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/assets/"+object, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", mediaType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusError(resp)
	}

	var upload uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if upload.URL == "" {
		return "", fmt.Errorf("upload response missing url")
	}
	return upload.URL, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("data store returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("data store returned status %d: %s", resp.StatusCode, msg)
}
