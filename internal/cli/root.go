package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	analysisDomain "github.com/pendergraft/whichdex/internal/analysis/domain"
	"github.com/pendergraft/whichdex/internal/chains"
	"github.com/pendergraft/whichdex/internal/chains/evm"
	"github.com/pendergraft/whichdex/pkg/client"
)

var (
	cfgFile    string
	server     string
	apiKey     string
	rpcURL     string
	jsonOutput bool
	verbose    bool
)

// defaultRPCTimeout bounds each bytecode fetch the CLI makes.
const defaultRPCTimeout = 20 * time.Second

// Execute runs the CLI. Interrupts cancel in-flight RPC and server calls.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd(version).ExecuteContext(ctx)
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "whichdex",
		Short: "DEX pool bytecode analyzer",
		Long: `whichdex identifies which DEX protocol a pool contract implements from its
deployed bytecode, and measures how similar two contracts are.

Analysis runs locally against an RPC endpoint. Reference fingerprints are
stored on a whichdex server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: whichdex.toml)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "server URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc-url", "", "JSON-RPC endpoint used to fetch bytecode")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "write JSON to stdout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	// Add subcommands
	rootCmd.AddCommand(createAnalyzeCmd())
	rootCmd.AddCommand(createCompareCmd())
	rootCmd.AddCommand(createSelectorsCmd())
	rootCmd.AddCommand(createRefsCmd())
	rootCmd.AddCommand(createAuthCmd())
	rootCmd.AddCommand(createConfigCmd())

	return rootCmd
}

// getServer returns the server URL from flag, env, config file, or default
func getServer() string {
	// 1. Command line flag
	if server != "" {
		return server
	}

	// 2. Environment variable
	if env := os.Getenv("WHICHDEX_SERVER"); env != "" {
		return env
	}

	// 3. Project config file (TOML)
	if config := loadProjectConfigSilent(); config != nil && config.Server != "" {
		return config.Server
	}

	// 4. Default
	return "http://localhost:8080"
}

// getAPIKey returns the API key from flag, env, or credentials file
func getAPIKey() string {
	// 1. Command line flag
	if apiKey != "" {
		return apiKey
	}

	// 2. Environment variable
	if env := os.Getenv("WHICHDEX_API_KEY"); env != "" {
		return env
	}

	// 3. Credentials file (keyed by server URL)
	if cred := getCredential(getServer()); cred != "" {
		return cred
	}

	return ""
}

// getRPCURL returns the RPC endpoint from flag, env, or config file. Empty
// means offline: only inline bytecode can be analyzed.
func getRPCURL() string {
	if rpcURL != "" {
		return rpcURL
	}
	if env := os.Getenv("WHICHDEX_RPC_URL"); env != "" {
		return env
	}
	if config := loadProjectConfigSilent(); config != nil {
		return config.RPCURL
	}
	return ""
}

// getConcurrency returns the configured batch concurrency, or fallback.
func getConcurrency(fallback int) int {
	if config := loadProjectConfigSilent(); config != nil && config.Concurrency > 0 {
		return config.Concurrency
	}
	return fallback
}

func newClient() *client.Client {
	return client.New(getServer(), getAPIKey())
}

// newLogger logs to stderr so stdout stays machine readable.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// analyzer is the part of the analysis service the CLI drives locally.
type analyzer interface {
	AnalyzeCode(ctx context.Context, rpc, address string, code []byte) (*analysisDomain.AnalyzeReport, error)
	AnalyzeAddress(ctx context.Context, rpc, address string) (*analysisDomain.AnalyzeReport, error)
	AnalyzeMany(ctx context.Context, rpc string, addresses []string, concurrency int) []analysisDomain.ManyResult
	Compare(ctx context.Context, req analysisDomain.CompareRequest) (*analysisDomain.CompareReport, error)
}

// newFetcher builds the bytecode fetcher. Tests replace it.
var newFetcher = func() analysisDomain.CodeFetcher {
	return chains.NewFetcher(evm.NewChain(), defaultRPCTimeout)
}

func newAnalyzer(cmd *cobra.Command) analyzer {
	return analysisDomain.NewService(newFetcher(), getRPCURL(), newLogger(cmd.ErrOrStderr()))
}
