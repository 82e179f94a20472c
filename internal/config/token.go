package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	secretService      = "lantern"
	accountAccessToken = "access_token"
	accountAPIToken    = "api_token"
)

// GetAPIToken returns the bearer token protecting the loopback API,
// generating and persisting one on first use.
func GetAPIToken() (string, error) {
	if raw, err := keychainGet(secretService, accountAPIToken); err == nil {
		tok := strings.TrimSpace(string(raw))
		if tok != "" {
			return tok, nil
		}
	}

	tok := uuid.NewString()
	if err := keychainSet(secretService, accountAPIToken, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

// SetAccessToken persists the remote identity-provider access token in the
// platform secret store.
func SetAccessToken(token string) error {
	if err := keychainSet(secretService, accountAccessToken, token); err != nil {
		return fmt.Errorf("storing access token: %w", err)
	}
	return nil
}
