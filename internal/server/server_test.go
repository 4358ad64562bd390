package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/whichdex/internal/chains/evm"
	"github.com/pendergraft/whichdex/internal/config"
	"github.com/pendergraft/whichdex/internal/storage"
)

const poolAddr = "0x1111111111111111111111111111111111111111"

type stubFetcher map[string][]byte

func (f stubFetcher) GetDeployedBytecode(_ context.Context, _ string, address string) ([]byte, error) {
	return f[strings.ToLower(address)], nil
}

func v2Code() []byte {
	code := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	for _, s := range []evm.Selector{evm.SelToken0, evm.SelToken1, evm.SelGetReserves, evm.SelKLast} {
		code = append(code, 0x63)
		code = append(code, s[:]...)
		code = append(code, 0x14, 0x61, 0x00, 0x00, 0x57)
	}
	for i := 0; i < 600; i++ {
		b := byte(i*131 + i/7)
		if b >= 0x60 && b <= 0x7f || b == 0xa1 || b == 0xa2 {
			b ^= 0x80
		}
		code = append(code, b)
	}
	return code
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{RequestTimeout: 10},
		Storage:  config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")}},
		Auth:     config.AuthConfig{Type: "api-key"},
		RPC:      config.RPCConfig{DefaultURL: "http://localhost:8545", TimeoutSeconds: 5},
		Security: config.SecurityConfig{MaxBodySizeMB: 1},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, storage.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.New(cfg.Storage, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	srv := New(cfg, store, logger, WithFetcher(stubFetcher{poolAddr: v2Code()}))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func request(t *testing.T, method, url, apiKey string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_Health(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(t))

	for _, path := range []string{"/health", "/healthz", "/readyz"} {
		resp := request(t, http.MethodGet, ts.URL+path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestServer_Analyze(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(t))

	resp := request(t, http.MethodPost, ts.URL+"/api/v1/analyze", "", map[string]string{"address": poolAddr})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report struct {
		Address  string `json:"address"`
		Analysis struct {
			Protocol string `json:"protocol"`
		} `json:"analysis"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, poolAddr, report.Address)
	assert.Equal(t, "UniswapV2", report.Analysis.Protocol)
}

func TestServer_ReferenceLifecycle(t *testing.T) {
	ts, store := newTestServer(t, testConfig(t))
	refsURL := ts.URL + "/api/v1/references"
	body := map[string]any{"name": "uniswap-v2-pair", "chainId": 1, "bytecode": "0x" + hex.EncodeToString(v2Code())}

	// Writes need a key
	resp := request(t, http.MethodPost, refsURL, "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	key, err := store.CreateAPIKey(context.Background(), "test")
	require.NoError(t, err)

	resp = request(t, http.MethodPost, refsURL, key, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var ref struct {
		ID          string `json:"id"`
		Protocol    string `json:"protocol"`
		Fingerprint string `json:"fingerprint"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ref))
	assert.Equal(t, "UniswapV2", ref.Protocol)

	resp = request(t, http.MethodPost, refsURL, key, body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Reads are open
	resp = request(t, http.MethodGet, refsURL+"/"+ref.ID, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = request(t, http.MethodPost, refsURL+"/match", "", map[string]any{"fingerprint": ref.Fingerprint})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var match struct {
		Matches []struct {
			Distance   int    `json:"distance"`
			Similarity string `json:"similarity"`
		} `json:"matches"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&match))
	require.Len(t, match.Matches, 1)
	assert.Equal(t, "Identical", match.Matches[0].Similarity)

	resp = request(t, http.MethodDelete, refsURL+"/"+ref.ID, key, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = request(t, http.MethodGet, refsURL+"/"+ref.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_AuthDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Type = "none"
	ts, _ := newTestServer(t, cfg)

	resp := request(t, http.MethodPost, ts.URL+"/api/v1/references", "", map[string]any{
		"name": "open", "chainId": 1, "bytecode": "0x" + hex.EncodeToString(v2Code()),
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestServer_MetricsRoute(t *testing.T) {
	cfg := testConfig(t)
	ts, _ := newTestServer(t, cfg)
	resp := request(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_RequestCost(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.RPCCost = 3
	s := &Server{cfg: cfg}

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/api/v1/analyze", 3},
		{http.MethodPost, "/api/v1/compare", 3},
		{http.MethodPost, "/api/v1/references/", 3},
		{http.MethodPost, "/api/v1/references/match", 1},
		{http.MethodGet, "/api/v1/references", 1},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		assert.Equal(t, tt.want, s.requestCost(req), tt.method+" "+tt.path)
	}
}
