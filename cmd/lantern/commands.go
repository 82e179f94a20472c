package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lanternapp/lantern/internal/config"
)

// --- login / logout ---

var loginCmd = &cobra.Command{
	Use:   "login <access-token>",
	Short: "Store the identity provider access token",
	Long: `Store the identity provider access token in the platform secret store.

The daemon reads the token on startup; restart it after logging in.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetAccessToken(args[0]); err != nil {
			return fmt.Errorf("storing access token: %w", err)
		}
		printSuccess("Access token stored")
		printWarning("Restart the daemon to pick up the new token")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Terminate the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/session/logout", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Signed out")
		return nil
	},
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect the authentication session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/session")
		if err != nil {
			return err
		}

		var sess struct {
			Status   string `json:"status"`
			Decision string `json:"decision"`
			User     *struct {
				ID    string `json:"id"`
				Email string `json:"email"`
			} `json:"user"`
		}
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}

		printStatus("Status", "%s", sess.Status)
		printStatus("Decision", "%s", sess.Decision)
		if sess.User != nil {
			printStatus("User", "%s (%s)", sess.User.Email, sess.User.ID)
		}
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd)
}

// --- theme ---

var themeCmd = &cobra.Command{
	Use:   "theme",
	Short: "Show or change the theme preference",
}

var themeGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the preference and the effective scheme",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/theme")
		if err != nil {
			return err
		}

		var state struct {
			Preference string `json:"preference"`
			Effective  string `json:"effective"`
		}
		if err := decodeJSON(resp, &state); err != nil {
			return err
		}

		printStatus("Preference", "%s", state.Preference)
		printStatus("Effective", "%s", state.Effective)
		return nil
	},
}

var themeSetCmd = &cobra.Command{
	Use:   "set <light|dark|system>",
	Short: "Set the theme preference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{"preference": args[0]}
		resp, err := client.put(cmd.Context(), "/theme", body)
		if err != nil {
			return err
		}

		var state struct {
			Preference string `json:"preference"`
			Effective  string `json:"effective"`
		}
		if err := decodeJSON(resp, &state); err != nil {
			return err
		}

		printSuccess("Theme set to %s (effective: %s)", state.Preference, state.Effective)
		return nil
	},
}

func init() {
	themeCmd.AddCommand(themeGetCmd)
	themeCmd.AddCommand(themeSetCmd)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect or update the user profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the cached profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profile")
		if err != nil {
			return err
		}

		var record any
		if err := decodeJSON(resp, &record); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

var profileSetNameCmd = &cobra.Command{
	Use:   "set-name [name]",
	Short: "Set the display name (omit the name to clear it)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"display_name": nil}
		if len(args) == 1 {
			body["display_name"] = args[0]
		}

		resp, err := client.patch(cmd.Context(), "/profile", body)
		if err != nil {
			return err
		}

		var record any
		if err := decodeJSON(resp, &record); err != nil {
			return err
		}

		if len(args) == 1 {
			printSuccess("Display name set to %q", args[0])
		} else {
			printSuccess("Display name cleared")
		}
		return nil
	},
}

var profileAvatarCmd = &cobra.Command{
	Use:   "avatar <file>",
	Short: "Upload a new avatar image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		mediaType := mime.TypeByExtension(filepath.Ext(args[0]))
		if mediaType == "" {
			mediaType = http.DetectContentType(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.do(cmd.Context(), "POST", "/profile/avatar", mediaType, bytes.NewReader(data))
		if err != nil {
			return err
		}

		var record struct {
			AvatarURL *string `json:"avatar_url"`
		}
		if err := decodeJSON(resp, &record); err != nil {
			return err
		}

		if record.AvatarURL != nil {
			printSuccess("Avatar uploaded: %s", *record.AvatarURL)
		} else {
			printSuccess("Avatar uploaded")
		}
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetNameCmd)
	profileCmd.AddCommand(profileAvatarCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			if k.Key == args[0] {
				fmt.Println(k.Value)
				return nil
			}
		}
		return fmt.Errorf("unknown key %q (valid: %v)", args[0], config.ValidKeys())
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}
