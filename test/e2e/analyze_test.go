//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/whichdex/internal/chains/evm"
	"github.com/pendergraft/whichdex/pkg/client"
)

func analyzeInline(code []byte) client.AnalyzeRequest {
	return client.AnalyzeRequest{Bytecode: hexOf(code)}
}

// TestAnalyze_InlineBytecode tests classification and fingerprinting of posted bytecode
func TestAnalyze_InlineBytecode(t *testing.T) {
	c := newClient(testCtx.TestServer, "")

	t.Run("uniswap v2 pool", func(t *testing.T) {
		report, err := c.Analyze(context.Background(), analyzeInline(v2Code(1)))
		require.NoError(t, err)

		assert.False(t, report.IsEIP1167Proxy)
		assert.Equal(t, "UniswapV2", report.Analysis.Protocol)
		assert.True(t, report.Analysis.IsPoolLikely)
		assert.Equal(t, len(v2Code(1)), report.Analysis.CodeSize)
		assert.Equal(t, evm.SelectorTableVersion, report.SelectorTableVersion)
		require.NotNil(t, report.Analysis.Fingerprint)
		assert.NotEmpty(t, report.Analysis.Fingerprint.Hash)
		assert.Equal(t, "v1.0.0", report.Analysis.Fingerprint.Version)
	})

	t.Run("uniswap v3 pool", func(t *testing.T) {
		report, err := c.Analyze(context.Background(), analyzeInline(v3Code(1)))
		require.NoError(t, err)

		assert.Equal(t, "UniswapV3", report.Analysis.Protocol)
		assert.Contains(t, report.Analysis.Selectors, evm.SelSlot0.String())
	})

	t.Run("non-pool bytecode", func(t *testing.T) {
		report, err := c.Analyze(context.Background(), analyzeInline(poolCode(7, evm.SelToken0)))
		require.NoError(t, err)

		assert.Equal(t, "Unknown", report.Analysis.Protocol)
		assert.False(t, report.Analysis.IsPoolLikely)
	})

	t.Run("tiny bytecode reports a fingerprint error", func(t *testing.T) {
		report, err := c.Analyze(context.Background(), analyzeInline([]byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x00}))
		require.NoError(t, err)

		assert.Nil(t, report.Analysis.Fingerprint)
		assert.NotEmpty(t, report.Analysis.FingerprintError)
	})

	t.Run("malformed hex is rejected", func(t *testing.T) {
		_, err := c.Analyze(context.Background(), client.AnalyzeRequest{Bytecode: "0xzz"})
		assertHTTPError(t, err, "INVALID_REQUEST")
	})

	t.Run("empty request is rejected", func(t *testing.T) {
		_, err := c.Analyze(context.Background(), client.AnalyzeRequest{})
		assertHTTPError(t, err, "INVALID_REQUEST")
	})
}

// TestAnalyze_Address tests analysis of code fetched from the chain
func TestAnalyze_Address(t *testing.T) {
	c := newClient(testCtx.TestServer, "")
	impl := testCtx.Chain.deploy(v3Code(2))
	proxy := testCtx.Chain.deploy(proxyCode(impl))

	t.Run("direct pool", func(t *testing.T) {
		report, err := c.Analyze(context.Background(), client.AnalyzeRequest{Address: impl})
		require.NoError(t, err)

		assert.Equal(t, impl, report.Address)
		assert.Equal(t, fakeRPC, report.RPCURL)
		assert.Equal(t, "UniswapV3", report.Analysis.Protocol)
	})

	t.Run("minimal proxy is resolved", func(t *testing.T) {
		report, err := c.Analyze(context.Background(), client.AnalyzeRequest{Address: proxy})
		require.NoError(t, err)

		assert.True(t, report.IsEIP1167Proxy)
		assert.Equal(t, impl, report.ImplementationAddress)
		assert.Equal(t, "UniswapV3", report.Analysis.Protocol)
		require.NotNil(t, report.ProxyAnalysis)
		assert.Equal(t, "Unknown", report.ProxyAnalysis.Protocol)
	})

	t.Run("proxy to an empty implementation", func(t *testing.T) {
		dangling := testCtx.Chain.deploy(proxyCode("0x00000000000000000000000000000000000000ff"))
		_, err := c.Analyze(context.Background(), client.AnalyzeRequest{Address: dangling})
		assertHTTPError(t, err, "NO_CODE")
	})

	t.Run("address without code", func(t *testing.T) {
		_, err := c.Analyze(context.Background(), client.AnalyzeRequest{Address: "0x000000000000000000000000000000000000dead"})
		assertHTTPError(t, err, "NO_CODE")
	})

	t.Run("malformed address", func(t *testing.T) {
		_, err := c.Analyze(context.Background(), client.AnalyzeRequest{Address: "0x1234"})
		assertHTTPError(t, err, "INVALID_REQUEST")
	})

	t.Run("malformed rpc url", func(t *testing.T) {
		_, err := c.Analyze(context.Background(), client.AnalyzeRequest{Address: impl, RPCURL: "ftp://node"})
		assertHTTPError(t, err, "INVALID_REQUEST")
	})
}

// TestCompare tests structural and fingerprint comparison of two contracts
func TestCompare(t *testing.T) {
	c := newClient(testCtx.TestServer, "")

	t.Run("identical bytecode", func(t *testing.T) {
		code := hexOf(v2Code(3))
		report, err := c.Compare(context.Background(), client.CompareRequest{
			A: client.AnalyzeRequest{Bytecode: code},
			B: client.AnalyzeRequest{Bytecode: code},
		})
		require.NoError(t, err)

		assert.True(t, report.Match)
		assert.Equal(t, "full", report.MatchType)
		require.NotNil(t, report.Distance)
		assert.Equal(t, 0, *report.Distance)
		assert.Equal(t, "Identical", report.Similarity)
		assert.True(t, report.SameFamilyLikely)
	})

	t.Run("different protocols", func(t *testing.T) {
		report, err := c.Compare(context.Background(), client.CompareRequest{
			A: client.AnalyzeRequest{Bytecode: hexOf(v2Code(3))},
			B: client.AnalyzeRequest{Bytecode: hexOf(v3Code(4))},
		})
		require.NoError(t, err)

		assert.False(t, report.Match)
		assert.Equal(t, "none", report.MatchType)
		assert.Equal(t, "UniswapV2", report.A.Protocol)
		assert.Equal(t, "UniswapV3", report.B.Protocol)
	})

	t.Run("proxy is compared through its implementation", func(t *testing.T) {
		code := v3Code(5)
		impl := testCtx.Chain.deploy(code)
		proxy := testCtx.Chain.deploy(proxyCode(impl))

		report, err := c.Compare(context.Background(), client.CompareRequest{
			A: client.AnalyzeRequest{Address: proxy},
			B: client.AnalyzeRequest{Bytecode: hexOf(code)},
		})
		require.NoError(t, err)

		assert.True(t, report.Match)
		assert.Equal(t, impl, report.A.ImplementationAddress)
	})

	t.Run("missing side is rejected", func(t *testing.T) {
		_, err := c.Compare(context.Background(), client.CompareRequest{
			A: client.AnalyzeRequest{Bytecode: hexOf(v2Code(3))},
		})
		assertHTTPError(t, err, "INVALID_REQUEST")
	})
}

// TestRequestLimits tests request body limits and malformed JSON
func TestRequestLimits(t *testing.T) {
	t.Run("oversized body returns 413", func(t *testing.T) {
		body := `{"bytecode":"0x` + strings.Repeat("ab", 1<<20) + `"}`
		resp, err := http.Post(testCtx.TestServer.URL+"/api/v1/analyze", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})

	t.Run("invalid JSON returns 400", func(t *testing.T) {
		resp, err := http.Post(testCtx.TestServer.URL+"/api/v1/analyze", "application/json", bytes.NewBufferString("{"))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
