package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/garmin-sync/garmin"
	"github.com/alexjbarnes/garmin-sync/internal/config"
	"github.com/alexjbarnes/garmin-sync/internal/logging"
	"github.com/alexjbarnes/garmin-sync/internal/mcpserver"
	"github.com/alexjbarnes/garmin-sync/internal/state"
)

var Version = "dev"

func main() {
	// Handle the interactive login subcommand before starting the daemon.
	if len(os.Args) > 1 && os.Args[1] == "login" {
		if err := runLogin(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runLogin signs in from the terminal, prompting for an MFA code when the
// account requires one, and leaves the token pair in the store for the
// daemon to pick up.
func runLogin() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cfg.HasCredentials() {
		return fmt.Errorf("GARMIN_EMAIL and GARMIN_PASSWORD must be set")
	}

	logger := logging.NewLogger(cfg.Environment)

	client, closeStore, err := buildClient(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := client.Login(ctx, cfg.Email, cfg.Password)
	if err != nil {
		return fmt.Errorf("signing in: %w", err)
	}

	if res.NeedsMFA {
		fmt.Fprint(os.Stderr, "Enter MFA code: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return fmt.Errorf("no input")
		}

		code := strings.TrimSpace(scanner.Text())
		if err := client.SubmitMFA(ctx, code, nil); err != nil {
			return fmt.Errorf("submitting MFA code: %w", err)
		}
	}

	fmt.Println("authenticated, tokens saved")

	return nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("garmin-sync starting",
		slog.String("version", Version),
		slog.String("domain", cfg.Domain),
		slog.String("backend", cfg.TokenBackend),
	)

	client, closeStore, err := buildClient(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A stored session is a convenience, not a requirement: the daemon
	// starts unauthenticated and waits for a login tool call or a token
	// drop from the login subcommand.
	if err := client.Resume(ctx); err != nil {
		logger.Info("no session resumed, login required", slog.String("reason", err.Error()))
	}

	gate := garmin.NewGate()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runMCP(gctx, cfg, client, gate, logger)
	})

	// The file backend gets a watcher so a login run in another terminal
	// is picked up without restarting the daemon.
	if cfg.TokenBackend == "file" {
		store, err := garmin.NewFileStore(cfg.TokenDir, storeCipher(cfg))
		if err != nil {
			return err
		}

		watcher := garmin.NewStoreWatcher(store, func(ctx context.Context) error {
			if err := client.Resume(ctx); err != nil {
				return err
			}
			gate.Notify()
			return nil
		}, logger)

		g.Go(func() error {
			return watcher.Watch(gctx)
		})
	}

	return g.Wait()
}

// buildClient assembles the token store and session client from config.
// The returned close function releases the bolt database when that backend
// is selected; for files it is a no-op.
func buildClient(cfg *config.Config, logger *slog.Logger) (*garmin.Client, func() error, error) {
	var (
		store      garmin.TokenStore
		closeStore = func() error { return nil }
	)

	switch cfg.TokenBackend {
	case "bolt":
		path, err := state.DefaultPath()
		if err != nil {
			return nil, nil, err
		}
		if cfg.TokenDir != "" {
			path = filepath.Join(cfg.TokenDir, "state.db")
		}

		boltStore, err := state.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening token db: %w", err)
		}

		store = boltStore
		closeStore = boltStore.Close

	default:
		fileStore, err := garmin.NewFileStore(cfg.TokenDir, storeCipher(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("creating token store: %w", err)
		}

		store = fileStore
	}

	var override *garmin.Consumer
	if cfg.ConsumerKey != "" {
		override = &garmin.Consumer{Key: cfg.ConsumerKey, Secret: cfg.ConsumerSecret}
	}

	client, err := garmin.NewClient(garmin.Options{
		Domain:   cfg.Domain,
		Store:    store,
		Consumer: garmin.NewConsumerSource(nil, override, logger),
		Logger:   logger,
	})
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("creating client: %w", err)
	}

	return client, closeStore, nil
}

func storeCipher(cfg *config.Config) *garmin.Cipher {
	if cfg.StorePassphrase == "" {
		return nil
	}

	return garmin.NewCipher(cfg.StorePassphrase)
}

// runMCP starts the MCP HTTP server.
func runMCP(ctx context.Context, cfg *config.Config, client *garmin.Client, gate *garmin.Gate, logger *slog.Logger) error {
	mcpLogger := logger.With(slog.String("service", "mcp"))

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "garmin-sync-mcp", Version: Version},
		nil,
	)

	mcpserver.RegisterTools(mcpServer, &mcpserver.Service{
		Client:      client,
		Gate:        gate,
		Email:       cfg.Email,
		Password:    cfg.Password,
		WaitTimeout: cfg.AuthWaitTimeout,
		Logger:      mcpLogger,
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpHandler)

	server := &http.Server{
		Addr:         cfg.MCPListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	mcpLogger.Info("starting MCP server", slog.String("listen", cfg.MCPListenAddr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		mcpLogger.Info("shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}
