//go:build e2e

package e2e

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/whichdex/internal/chains/evm"
	"github.com/pendergraft/whichdex/internal/config"
	"github.com/pendergraft/whichdex/internal/observability/metrics"
	"github.com/pendergraft/whichdex/internal/server"
	"github.com/pendergraft/whichdex/internal/storage"
	"github.com/pendergraft/whichdex/pkg/client"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// fakeRPC is the default RPC URL the server is configured with. Requests
// never leave the process: the fake chain answers them.
const fakeRPC = "http://fake-rpc.invalid"

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	TestServer        *httptest.Server
	Store             storage.Store
	Chain             *fakeChain
}

// fakeChain serves deployed bytecode from memory in place of an RPC node.
// Unknown addresses have no code.
type fakeChain struct {
	mu   sync.Mutex
	code map[string][]byte
}

func newFakeChain() *fakeChain {
	return &fakeChain{code: make(map[string][]byte)}
}

func (c *fakeChain) GetDeployedBytecode(_ context.Context, _ string, address string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code[strings.ToLower(address)], nil
}

// deploy stores code at a fresh random address and returns it.
func (c *fakeChain) deploy(code []byte) string {
	id := uuid.New()
	address := "0x" + hex.EncodeToString(append(id[:], 0xde, 0xad, 0xbe, 0xef))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code[address] = code
	return address
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("whichdex"),
		postgres.WithUsername("whichdex"),
		postgres.WithPassword("whichdex"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// startServerE starts the whichdex server in-process against Postgres
func startServerE(connString string, chain *fakeChain) (*httptest.Server, storage.Store, error) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			RequestTimeout: 30,
		},
		Storage: config.StorageConfig{
			Type: "postgres",
			Postgres: config.PostgresConfig{
				URL: connString,
			},
		},
		Auth:      config.AuthConfig{Type: "api-key"},
		RPC:       config.RPCConfig{DefaultURL: fakeRPC, TimeoutSeconds: 5},
		Logging:   config.LoggingConfig{Level: "debug", Format: "text"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Security:  config.SecurityConfig{MaxBodySizeMB: 1},
		Proxy:     config.ProxyConfig{TrustProxy: false},
		Metrics:   config.MetricsConfig{Enabled: true},
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	metrics.Init(cfg.Metrics.Enabled, "whichdex-e2e")
	srv := server.New(cfg, store, logger, server.WithFetcher(chain))

	return httptest.NewServer(srv.Handler()), store, nil
}

// newClient creates a new API client for the test server
func newClient(testServer *httptest.Server, apiKey string) *client.Client {
	return client.New(testServer.URL, apiKey)
}

// createTestAPIKey creates a test API key using the store directly
func createTestAPIKey(t *testing.T, store storage.Store, name string) string {
	key, err := store.CreateAPIKey(context.Background(), name)
	require.NoError(t, err, "Failed to create API key")
	return key
}

// uniqueName suffixes name so tests sharing the database do not collide
func uniqueName(name string) string {
	return name + "-" + uuid.NewString()[:8]
}

// poolCode builds dispatcher-shaped bytecode exposing sels. The filler after
// the dispatcher is derived from seed so different seeds give unrelated
// fingerprints.
func poolCode(seed int, sels ...evm.Selector) []byte {
	code := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	for _, s := range sels {
		code = append(code, 0x63)
		code = append(code, s[:]...)
		code = append(code, 0x14, 0x61, 0x00, 0x00, 0x57)
	}
	for i := 0; i < 800; i++ {
		b := byte(i*131 + i/7 + seed*i*i)
		if b >= 0x60 && b <= 0x7f || b == 0xa1 || b == 0xa2 {
			b ^= 0x80
		}
		code = append(code, b)
	}
	return code
}

func v2Code(seed int) []byte {
	return poolCode(seed, evm.SelToken0, evm.SelToken1, evm.SelGetReserves, evm.SelKLast)
}

func v3Code(seed int) []byte {
	return poolCode(seed, evm.SelToken0, evm.SelToken1, evm.SelSlot0, evm.SelFee, evm.SelTickSpacing, evm.SelLiquidity)
}

// proxyCode builds an EIP-1167 minimal proxy delegating to target
func proxyCode(target string) []byte {
	t, _ := hex.DecodeString(strings.TrimPrefix(target, "0x"))
	code, _ := hex.DecodeString("363d3d373d3d3d363d73")
	code = append(code, t...)
	tail, _ := hex.DecodeString("5af43d82803e903d91602b57fd5bf3")
	return append(code, tail...)
}

func hexOf(code []byte) string {
	return "0x" + hex.EncodeToString(code)
}

// assertHTTPError asserts that an error is an APIError with the expected code
func assertHTTPError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	require.Error(t, err, "Expected an error")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "Error should be an APIError")
	require.Equal(t, expectedCode, apiErr.Code, "Error code mismatch")
}

// getErrorCode extracts the error code from an API error
func getErrorCode(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
