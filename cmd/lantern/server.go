package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lanternapp/lantern/internal/api"
	"github.com/lanternapp/lantern/internal/config"
	"github.com/lanternapp/lantern/internal/datastore"
	"github.com/lanternapp/lantern/internal/identity"
	"github.com/lanternapp/lantern/internal/profile"
	"github.com/lanternapp/lantern/internal/session"
	"github.com/lanternapp/lantern/internal/storage"
	"github.com/lanternapp/lantern/internal/theme"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the lantern daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running lantern daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lantern daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "lantern.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// profileState owns the pipeline for the currently signed-in user. Sign-in
// creates and loads a pipeline, sign-out drops it and clears the local
// snapshot.
type profileState struct {
	store  *datastore.Client
	local  *storage.Store
	logger *slog.Logger

	mu       sync.Mutex
	pipeline *profile.Pipeline
	userID   string
}

func (ps *profileState) current() *profile.Pipeline {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.pipeline
}

func (ps *profileState) onSession(ctx context.Context, s session.Session) {
	switch s.Status {
	case session.StatusAuthenticated:
		ps.mu.Lock()
		if ps.pipeline != nil && ps.userID == s.User.ID {
			ps.mu.Unlock()
			return
		}
		p := profile.NewPipeline(s.User.ID, ps.store, ps.local)
		ps.pipeline = p
		ps.userID = s.User.ID
		ps.mu.Unlock()

		go func() {
			if err := p.Load(ctx); err != nil {
				ps.logger.Warn("could not load profile", "error", err)
			}
		}()

	case session.StatusUnauthenticated:
		ps.mu.Lock()
		userID := ps.userID
		ps.pipeline = nil
		ps.userID = ""
		ps.mu.Unlock()

		if userID != "" {
			if err := ps.local.DeleteProfileSnapshot(userID); err != nil {
				ps.logger.Warn("could not clear profile snapshot", "error", err)
			}
		}
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "lantern version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure the local API token exists in the platform secret store.
	apiToken, err := config.GetAPIToken()
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Write PID file. Check if the daemon is already running via the health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("lantern is already running (PID %d)", pid)
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}
		printWarning("lantern is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("daemon already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open local storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Session store fed by the identity provider.
	identityClient := identity.New(cfg.Identity.BaseURL, cfg.Identity.AccessToken)
	sessions := session.NewStore(identityClient)

	// Theme store fed by the OS appearance signal when one is available.
	signalSource, err := theme.NewOSSignalSource()
	if err != nil {
		slog.Warn("no OS appearance signal, assuming light", "error", err)
		signalSource = theme.NewStaticSource(theme.SchemeLight)
	}
	themes := theme.NewStore(store, signalSource, theme.Preference(cfg.Theme.Default))

	// Profile pipeline, created on sign-in and dropped on sign-out.
	profiles := &profileState{
		store:  datastore.New(cfg.DataStore.BaseURL, cfg.Identity.AccessToken),
		local:  store,
		logger: slog.Default(),
	}
	unsubscribe := sessions.Subscribe(func(s session.Session) {
		profiles.onSession(ctx, s)
	})
	defer unsubscribe()

	deps := api.Deps{
		Sessions: sessions,
		Theme:    themes,
		Profile:  profiles.current,
		Token:    apiToken,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// MCP server over stdio so local assistants can inspect shell state.
	stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sessions.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("session watcher: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := themes.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("theme watcher: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "lantern listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("lantern is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop lantern (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to lantern (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Daemon", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Daemon", "running on port %d", cfg.Server.Port)
			running = true
		} else {
			printStatus("Daemon", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Identity provider", "%s", cfg.Identity.BaseURL)
	printStatus("Data store", "%s", cfg.DataStore.BaseURL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	if !running {
		return nil
	}

	c, err := newAPIClient()
	if err != nil {
		return nil
	}
	ctx := context.Background()

	if resp, err := c.get(ctx, "/session"); err == nil {
		var sess struct {
			Status string `json:"status"`
			User   *struct {
				Email string `json:"email"`
			} `json:"user"`
		}
		if decodeJSON(resp, &sess) == nil {
			if sess.User != nil {
				printStatus("Session", "%s (%s)", sess.Status, sess.User.Email)
			} else {
				printStatus("Session", "%s", sess.Status)
			}
		}
	}

	if resp, err := c.get(ctx, "/theme"); err == nil {
		var state struct {
			Preference string `json:"preference"`
			Effective  string `json:"effective"`
		}
		if decodeJSON(resp, &state) == nil {
			printStatus("Theme", "%s (effective: %s)", state.Preference, state.Effective)
		}
	}

	return nil
}
