package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pendergraft/whichdex/internal/config"
	"github.com/pendergraft/whichdex/internal/observability/metrics"
	"github.com/pendergraft/whichdex/internal/server"
	"github.com/pendergraft/whichdex/internal/storage"
)

var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "whichdex-server",
		Short:         "whichdex server - DEX pool bytecode analysis API",
		Long:          "Serves bytecode analysis, comparison and the reference fingerprint library over HTTP.\nConfiguration is read from the environment.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// No subcommand serves
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or upgrade the database schema and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openStore(cmd.Context())
				if err != nil {
					return err
				}
				defer store.Close()
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			},
		},
		newKeysCmd(),
	)

	return rootCmd
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys for reference registration",
	}

	var opts keyCreateOptions
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Create an API key. Keys are required to register or delete reference
fingerprints when AUTH_TYPE=api-key.

The key is shown once and cannot be retrieved later. By default it is written
to ./whichdex-key-<name>.txt with mode 0600.

EXAMPLES:
  whichdex-server keys create --name indexer
  whichdex-server keys create --name indexer --output /secure/path/key.txt
  whichdex-server keys create --name ci --quiet | gh secret set WHICHDEX_API_KEY
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store storage.Store) error {
				return runKeysCreate(cmd.Context(), cmd.OutOrStdout(), store, opts)
			})
		},
	}
	createCmd.Flags().StringVar(&opts.name, "name", "", "label for the key (required)")
	createCmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the key to this file")
	createCmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "print only the key")
	createCmd.Flags().BoolVar(&opts.show, "show", false, "print the key with a warning instead of writing a file")
	_ = createCmd.MarkFlagRequired("name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store storage.Store) error {
				return runKeysList(cmd.Context(), cmd.OutOrStdout(), store)
			})
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Long: `Revoke an API key. The id may be the full id or the 8 character prefix
shown by 'whichdex-server keys list'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store storage.Store) error {
				return runKeysRevoke(cmd.Context(), cmd.OutOrStdout(), store, args[0])
			})
		},
	}

	cmd.AddCommand(createCmd, listCmd, revokeCmd)
	return cmd
}

// openStore opens and migrates the configured store. Its logger only
// reports errors so key commands keep a clean stdout.
func openStore(ctx context.Context) (storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

func withStore(ctx context.Context, fn func(storage.Store) error) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

type keyCreateOptions struct {
	name   string
	output string
	quiet  bool
	show   bool
}

func runKeysCreate(ctx context.Context, w io.Writer, store storage.APIKeyStore, opts keyCreateOptions) error {
	key, err := store.CreateAPIKey(ctx, opts.name)
	if err != nil {
		return fmt.Errorf("creating API key: %w", err)
	}

	switch {
	case opts.quiet:
		fmt.Fprintln(w, key)
		return nil
	case opts.show:
		fmt.Fprintf(w, "API key %q (shown once, it cannot be retrieved later):\n\n    %s\n\n", opts.name, key)
		return nil
	}

	path := opts.output
	if path == "" {
		path = fmt.Sprintf("whichdex-key-%s.txt", opts.name)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0600); err != nil {
		return fmt.Errorf("writing key to file: %w", err)
	}

	fmt.Fprintf(w, "API key %q written to %s (mode 0600)\n", opts.name, path)
	fmt.Fprintln(w, "It cannot be retrieved later.")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  whichdex auth login --api-key \"$(cat %s)\"\n", path)
	return nil
}

func runKeysList(ctx context.Context, w io.Writer, store storage.APIKeyStore) error {
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing API keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Fprintln(w, "No API keys found")
		fmt.Fprintln(w, "Create one with: whichdex-server keys create --name <name>")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED\tLAST USED")
	for _, k := range keys {
		lastUsed := k.LastUsedAt
		if lastUsed == "" {
			lastUsed = "never"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", shortID(k.ID), k.Name, k.CreatedAt, lastUsed)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// errAmbiguousKey is returned when a revoke prefix matches several keys.
var errAmbiguousKey = errors.New("key id prefix is ambiguous")

func runKeysRevoke(ctx context.Context, w io.Writer, store storage.APIKeyStore, id string) error {
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing API keys: %w", err)
	}

	prefix := strings.TrimSuffix(id, "...")
	var matched []string
	for _, k := range keys {
		if k.ID == id {
			matched = []string{k.ID}
			break
		}
		if len(prefix) >= 8 && strings.HasPrefix(k.ID, prefix) {
			matched = append(matched, k.ID)
		}
	}

	switch len(matched) {
	case 0:
		return fmt.Errorf("key not found: %s", id)
	case 1:
	default:
		return fmt.Errorf("%w: %s", errAmbiguousKey, id)
	}

	if err := store.RevokeAPIKey(ctx, matched[0]); err != nil {
		return fmt.Errorf("revoking API key: %w", err)
	}
	fmt.Fprintf(w, "API key revoked: %s\n", matched[0])
	return nil
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(os.Stdout, cfg.Logging)
	logger.Info("starting whichdex-server",
		"version", version,
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
		"default_rpc", cfg.RPC.DefaultURL != "",
	)

	metrics.Init(cfg.Metrics.Enabled, "whichdex-server")

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.New(cfg, store, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
