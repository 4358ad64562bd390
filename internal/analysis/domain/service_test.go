package domain

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/whichdex/internal/chains/evm"
)

const (
	testRPC  = "http://localhost:8545"
	poolAddr = "0x1111111111111111111111111111111111111111"
	implAddr = "0x95885af5492195f0754be71ad1545fe81364e531"
)

// mockFetcher implements CodeFetcher for testing
type mockFetcher struct {
	mu    sync.Mutex
	code  map[string][]byte
	errs  map[string]error
	calls []string
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		code: make(map[string][]byte),
		errs: make(map[string]error),
	}
}

func (m *mockFetcher) GetDeployedBytecode(_ context.Context, _ string, address string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	address = strings.ToLower(address)
	m.calls = append(m.calls, address)
	if err, ok := m.errs[address]; ok {
		return nil, err
	}
	return m.code[address], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// poolCode builds a dispatcher exposing the given selectors followed by
// enough filler to be fingerprinted.
func poolCode(sels ...evm.Selector) []byte {
	code := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	for _, s := range sels {
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

func v2Code() []byte {
	return poolCode(evm.SelToken0, evm.SelToken1, evm.SelGetReserves, evm.SelKLast)
}

func proxyCode(target string) []byte {
	t, _ := hex.DecodeString(strings.TrimPrefix(target, "0x"))
	code, _ := hex.DecodeString("363d3d373d3d3d363d73")
	code = append(code, t...)
	tail, _ := hex.DecodeString("5af43d82803e903d91602b57fd5bf3")
	return append(code, tail...)
}

func TestService_AnalyzeAddress(t *testing.T) {
	ctx := context.Background()

	t.Run("uniswap v2 pool", func(t *testing.T) {
		fetcher := newMockFetcher()
		fetcher.code[poolAddr] = v2Code()
		svc := NewService(fetcher, "", discardLogger())

		report, err := svc.AnalyzeAddress(ctx, testRPC, poolAddr)
		require.NoError(t, err)

		assert.Equal(t, poolAddr, report.Address)
		assert.False(t, report.IsEIP1167Proxy)
		assert.Nil(t, report.ProxyAnalysis)
		assert.Equal(t, "UniswapV2", report.Analysis.Protocol)
		assert.True(t, report.Analysis.IsPoolLikely)
		assert.Empty(t, report.Analysis.Candidates)
		require.NotNil(t, report.Analysis.Fingerprint)
		assert.NotEmpty(t, report.Analysis.Fingerprint.Hash)
		assert.Equal(t, len(v2Code()), report.Analysis.CodeSize)
		assert.Contains(t, report.Analysis.Selectors, "0x0dfe1681")
		assert.Equal(t, evm.SelectorTableVersion, report.SelectorTableVersion)
	})

	t.Run("resolves minimal proxy", func(t *testing.T) {
		fetcher := newMockFetcher()
		fetcher.code[poolAddr] = proxyCode(implAddr)
		fetcher.code[implAddr] = v2Code()
		svc := NewService(fetcher, "", discardLogger())

		report, err := svc.AnalyzeAddress(ctx, testRPC, poolAddr)
		require.NoError(t, err)

		assert.True(t, report.IsEIP1167Proxy)
		assert.Equal(t, implAddr, report.ImplementationAddress)
		assert.Equal(t, implAddr, report.Analysis.Address)
		assert.Equal(t, "UniswapV2", report.Analysis.Protocol)

		require.NotNil(t, report.ProxyAnalysis)
		assert.Equal(t, poolAddr, report.ProxyAnalysis.Address)
		assert.Equal(t, 45, report.ProxyAnalysis.CodeSize)
		assert.Equal(t, "Unknown", report.ProxyAnalysis.Protocol)
		assert.Nil(t, report.ProxyAnalysis.Fingerprint)
		assert.Contains(t, report.ProxyAnalysis.FingerprintError, "too small")

		assert.Equal(t, []string{poolAddr, implAddr}, fetcher.calls)
	})

	t.Run("proxy implementation without code", func(t *testing.T) {
		fetcher := newMockFetcher()
		fetcher.code[poolAddr] = proxyCode(implAddr)
		svc := NewService(fetcher, "", discardLogger())

		_, err := svc.AnalyzeAddress(ctx, testRPC, poolAddr)
		assert.ErrorIs(t, err, ErrNoDeployedCode)

		var proxyErr *ProxyResolutionError
		require.ErrorAs(t, err, &proxyErr)
		assert.Equal(t, poolAddr, proxyErr.Proxy)
		assert.Equal(t, implAddr, proxyErr.Implementation)
		require.NotNil(t, proxyErr.ProxyAnalysis)
		assert.Equal(t, 45, proxyErr.ProxyAnalysis.CodeSize)
	})

	t.Run("proxy implementation fetch fails", func(t *testing.T) {
		fetcher := newMockFetcher()
		fetcher.code[poolAddr] = proxyCode(implAddr)
		fetcher.errs[implAddr] = errors.New("timeout")
		svc := NewService(fetcher, "", discardLogger())

		_, err := svc.AnalyzeAddress(ctx, testRPC, poolAddr)
		assert.ErrorIs(t, err, ErrTransport)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("no deployed code", func(t *testing.T) {
		svc := NewService(newMockFetcher(), "", discardLogger())

		_, err := svc.AnalyzeAddress(ctx, testRPC, poolAddr)
		assert.ErrorIs(t, err, ErrNoDeployedCode)
	})

	t.Run("transport failure", func(t *testing.T) {
		fetcher := newMockFetcher()
		fetcher.errs[poolAddr] = errors.New("connection refused")
		svc := NewService(fetcher, "", discardLogger())

		_, err := svc.AnalyzeAddress(ctx, testRPC, poolAddr)
		assert.ErrorIs(t, err, ErrTransport)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("malformed input is rejected before fetching", func(t *testing.T) {
		fetcher := newMockFetcher()
		svc := NewService(fetcher, "", discardLogger())

		_, err := svc.AnalyzeAddress(ctx, testRPC, "vitalik.eth")
		assert.ErrorIs(t, err, ErrMalformedInput)

		_, err = svc.AnalyzeAddress(ctx, "not-a-url", poolAddr)
		assert.ErrorIs(t, err, ErrMalformedInput)

		_, err = svc.AnalyzeAddress(ctx, "", poolAddr)
		assert.ErrorIs(t, err, ErrMalformedInput)

		assert.Empty(t, fetcher.calls)
	})
}

func TestService_Analyze(t *testing.T) {
	ctx := context.Background()

	t.Run("inline bytecode", func(t *testing.T) {
		fetcher := newMockFetcher()
		svc := NewService(fetcher, "", discardLogger())

		report, err := svc.Analyze(ctx, AnalyzeRequest{Bytecode: "0x" + hex.EncodeToString(v2Code())})
		require.NoError(t, err)

		assert.Equal(t, "UniswapV2", report.Analysis.Protocol)
		assert.Empty(t, report.Address)
		assert.Empty(t, fetcher.calls)
	})

	t.Run("inline proxy without rpc is analyzed shallowly", func(t *testing.T) {
		svc := NewService(newMockFetcher(), "", discardLogger())

		report, err := svc.Analyze(ctx, AnalyzeRequest{Bytecode: hex.EncodeToString(proxyCode(implAddr))})
		require.NoError(t, err)

		assert.True(t, report.IsEIP1167Proxy)
		assert.Equal(t, implAddr, report.ImplementationAddress)
		assert.Equal(t, 45, report.Analysis.CodeSize)
		assert.Nil(t, report.ProxyAnalysis)
	})

	t.Run("address uses default rpc", func(t *testing.T) {
		fetcher := newMockFetcher()
		fetcher.code[poolAddr] = v2Code()
		svc := NewService(fetcher, testRPC, discardLogger())

		report, err := svc.Analyze(ctx, AnalyzeRequest{Address: poolAddr})
		require.NoError(t, err)

		assert.Equal(t, testRPC, report.RPCURL)
		assert.Equal(t, "UniswapV2", report.Analysis.Protocol)
	})

	t.Run("empty request", func(t *testing.T) {
		svc := NewService(newMockFetcher(), testRPC, discardLogger())

		_, err := svc.Analyze(ctx, AnalyzeRequest{})
		assert.ErrorIs(t, err, ErrMalformedInput)
	})

	t.Run("invalid bytecode", func(t *testing.T) {
		svc := NewService(newMockFetcher(), "", discardLogger())

		_, err := svc.Analyze(ctx, AnalyzeRequest{Bytecode: "0xnope"})
		assert.ErrorIs(t, err, ErrMalformedInput)
	})
}

func TestService_AnalyzeMany(t *testing.T) {
	fetcher := newMockFetcher()
	addrs := []string{
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
		"0x3333333333333333333333333333333333333333",
		"0x4444444444444444444444444444444444444444",
	}
	fetcher.code[addrs[0]] = v2Code()
	fetcher.code[addrs[1]] = poolCode(evm.SelToken0, evm.SelToken1, evm.SelGetReserves, evm.SelStable)
	fetcher.errs[addrs[2]] = errors.New("boom")
	svc := NewService(fetcher, "", discardLogger())

	results := svc.AnalyzeMany(context.Background(), testRPC, addrs, 2)

	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, addrs[i], r.Address)
	}
	assert.Equal(t, "UniswapV2", results[0].Report.Analysis.Protocol)
	assert.Equal(t, "Solidly", results[1].Report.Analysis.Protocol)
	assert.ErrorIs(t, results[2].Err, ErrTransport)
	assert.ErrorIs(t, results[3].Err, ErrNoDeployedCode)
}

func TestService_Compare(t *testing.T) {
	ctx := context.Background()

	t.Run("proxy resolved before comparing", func(t *testing.T) {
		fetcher := newMockFetcher()
		fetcher.code[poolAddr] = proxyCode(implAddr)
		fetcher.code[implAddr] = v2Code()
		svc := NewService(fetcher, testRPC, discardLogger())

		report, err := svc.Compare(ctx, CompareRequest{
			A: CodeSource{Address: poolAddr},
			B: CodeSource{Bytecode: hex.EncodeToString(v2Code())},
		})
		require.NoError(t, err)

		assert.True(t, report.Match)
		assert.Equal(t, "full", report.MatchType)
		assert.Equal(t, implAddr, report.A.ImplementationAddress)
		assert.Equal(t, "UniswapV2", report.A.Protocol)
		require.NotNil(t, report.Distance)
		assert.Equal(t, 0, *report.Distance)
	})

	t.Run("different protocols", func(t *testing.T) {
		svc := NewService(newMockFetcher(), "", discardLogger())
		v3 := poolCode(evm.SelToken0, evm.SelToken1, evm.SelSlot0, evm.SelFee, evm.SelTickSpacing, evm.SelLiquidity)

		report, err := svc.Compare(ctx, CompareRequest{
			A: CodeSource{Bytecode: hex.EncodeToString(v2Code())},
			B: CodeSource{Bytecode: hex.EncodeToString(v3)},
		})
		require.NoError(t, err)

		assert.False(t, report.Match)
		assert.Equal(t, "UniswapV2", report.A.Protocol)
		assert.Equal(t, "UniswapV3", report.B.Protocol)
	})

	t.Run("missing side", func(t *testing.T) {
		svc := NewService(newMockFetcher(), "", discardLogger())

		_, err := svc.Compare(ctx, CompareRequest{A: CodeSource{Bytecode: "6080"}})
		assert.ErrorIs(t, err, ErrMalformedInput)
		assert.Contains(t, err.Error(), "side b")
	})
}

func TestAnalyzeBytecode_Ambiguous(t *testing.T) {
	code := poolCode(evm.SelToken0, evm.SelToken1, evm.SelGetReserves, evm.SelStable,
		evm.SelGlobalState, evm.SelTickSpacing, evm.SelLiquidity, evm.SelPlugin, evm.SelGetFee)

	analysis := AnalyzeBytecode("", code)

	assert.Equal(t, "Unknown", analysis.Protocol)
	assert.False(t, analysis.IsPoolLikely)
	assert.Equal(t, []ProtocolCandidate{
		{Protocol: "AlgebraIntegral", Confidence: 7},
		{Protocol: "Solidly", Confidence: 4},
	}, analysis.Candidates)
}

func TestService_DebugEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	fetcher := newMockFetcher()
	fetcher.code[poolAddr] = v2Code()
	svc := NewService(fetcher, "", logger)

	_, err := svc.AnalyzeAddress(context.Background(), testRPC, poolAddr)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "fetched_code")
	assert.Contains(t, out, "key_selector_presence")
	assert.Contains(t, out, "selector_fingerprint_matches")
	assert.Contains(t, out, "token0=true")
	assert.Contains(t, out, "slot0=false")
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	fetcher := newMockFetcher()
	fetcher.code[poolAddr] = v2Code()
	svc := LoggingMiddleware(logger)(NewService(fetcher, testRPC, discardLogger()))

	report, err := svc.Analyze(context.Background(), AnalyzeRequest{Address: poolAddr})
	require.NoError(t, err)
	assert.Equal(t, "UniswapV2", report.Analysis.Protocol)

	assert.Contains(t, buf.String(), "msg=Analyze")
	assert.Contains(t, buf.String(), "protocol=UniswapV2")
}
