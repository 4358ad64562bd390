package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/pendergraft/whichdex/internal/chains/evm"
	"github.com/pendergraft/whichdex/internal/observability/metrics"
	"github.com/pendergraft/whichdex/internal/validation"
)

// CodeFetcher retrieves deployed bytecode. An empty result means the address
// has no code.
type CodeFetcher interface {
	GetDeployedBytecode(ctx context.Context, rpc string, address string) ([]byte, error)
}

type service struct {
	fetcher    CodeFetcher
	defaultRPC string
	logger     *slog.Logger
}

// NewService creates a new analysis service. defaultRPC is used when a
// request names an address without an RPC URL.
func NewService(fetcher CodeFetcher, defaultRPC string, logger *slog.Logger) *service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		fetcher:    fetcher,
		defaultRPC: defaultRPC,
		logger:     logger,
	}
}

// Analyze identifies the DEX protocol of a contract given inline or by address.
func (s *service) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeReport, error) {
	rpc := req.RPCURL
	if rpc == "" {
		rpc = s.defaultRPC
	}

	if req.Bytecode != "" {
		code, err := decodeBytecode(req.Bytecode)
		if err != nil {
			return nil, err
		}
		if req.Address != "" {
			if err := validation.ValidateAddress(req.Address); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
			}
		}
		if rpc != "" {
			if err := validation.ValidateRPCURL(rpc); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
			}
		}
		return s.AnalyzeCode(ctx, rpc, req.Address, code)
	}

	if req.Address == "" {
		return nil, fmt.Errorf("%w: either bytecode or address is required", ErrMalformedInput)
	}
	return s.AnalyzeAddress(ctx, rpc, req.Address)
}

// AnalyzeAddress fetches the code at address and analyzes it.
func (s *service) AnalyzeAddress(ctx context.Context, rpc, address string) (*AnalyzeReport, error) {
	if err := validation.ValidateRPCURL(rpc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if err := validation.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	code, err := s.fetch(ctx, rpc, address)
	if err != nil {
		return nil, err
	}
	return s.AnalyzeCode(ctx, rpc, address, code)
}

// AnalyzeCode analyzes already fetched bytecode. A minimal proxy is resolved
// through rpc when one is given; otherwise the proxy itself is analyzed.
func (s *service) AnalyzeCode(ctx context.Context, rpc, address string, code []byte) (*AnalyzeReport, error) {
	if len(code) == 0 {
		return nil, ErrNoDeployedCode
	}

	report := &AnalyzeReport{
		RPCURL:               rpc,
		Address:              formatAddress(address),
		SelectorTableVersion: evm.SelectorTableVersion,
	}

	if target, ok := evm.MinimalProxyTarget(code); ok {
		impl := formatAddress(target.Hex())
		report.IsEIP1167Proxy = true
		report.ImplementationAddress = impl

		s.logger.Debug("eip1167_proxy_resolved", "proxy", report.Address, "implementation", impl)

		if rpc == "" {
			report.Analysis = s.analyzeBytecode(report.Address, code)
			metrics.Analysis(report.Analysis.Protocol, true)
			return report, nil
		}

		proxyAnalysis := s.analyzeBytecode(report.Address, code)
		implCode, err := s.fetch(ctx, rpc, impl)
		if err != nil {
			return nil, &ProxyResolutionError{
				Proxy:          report.Address,
				Implementation: impl,
				ProxyAnalysis:  &proxyAnalysis,
				Err:            err,
			}
		}

		report.Analysis = s.analyzeBytecode(impl, implCode)
		report.ProxyAnalysis = &proxyAnalysis
		metrics.Analysis(report.Analysis.Protocol, true)
		return report, nil
	}

	s.logger.Debug("key_selector_presence",
		"token0", evm.SelToken0.In(code),
		"token1", evm.SelToken1.In(code),
		"globalState", evm.SelGlobalState.In(code),
		"plugin", evm.SelPlugin.In(code),
		"fee", evm.SelFee.In(code),
		"slot0", evm.SelSlot0.In(code),
		"safelyGetStateOfAMM", evm.SelSafelyGetStateOfAMM.In(code),
	)

	report.Analysis = s.analyzeBytecode(report.Address, code)
	metrics.Analysis(report.Analysis.Protocol, false)
	return report, nil
}

// AnalyzeMany analyzes addresses concurrently, at most concurrency at a time.
// Results are returned in input order; a failure for one address does not
// stop the others.
func (s *service) AnalyzeMany(ctx context.Context, rpc string, addresses []string, concurrency int) []ManyResult {
	results := make([]ManyResult, len(addresses))

	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for i, addr := range addresses {
		g.Go(func() error {
			report, err := s.AnalyzeAddress(ctx, rpc, addr)
			results[i] = ManyResult{Address: addr, Report: report, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Compare compares two contracts by code structure and fingerprint distance.
func (s *service) Compare(ctx context.Context, req CompareRequest) (*CompareReport, error) {
	a, codeA, err := s.resolveSource(ctx, req.A)
	if err != nil {
		return nil, fmt.Errorf("side a: %w", err)
	}
	b, codeB, err := s.resolveSource(ctx, req.B)
	if err != nil {
		return nil, fmt.Errorf("side b: %w", err)
	}

	result := evm.CompareBytecode(codeA, codeB)
	metrics.Compare(result.MatchType)

	return &CompareReport{
		A:             a,
		B:             b,
		CompareResult: result,
	}, nil
}

// resolveSource loads the code for one side of a comparison, following a
// minimal proxy to its implementation when an RPC URL is available.
func (s *service) resolveSource(ctx context.Context, src CodeSource) (CompareSide, []byte, error) {
	rpc := src.RPCURL
	if rpc == "" {
		rpc = s.defaultRPC
	}

	var code []byte
	switch {
	case src.Bytecode != "":
		decoded, err := decodeBytecode(src.Bytecode)
		if err != nil {
			return CompareSide{}, nil, err
		}
		code = decoded
	case src.Address != "":
		if err := validation.ValidateRPCURL(rpc); err != nil {
			return CompareSide{}, nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		if err := validation.ValidateAddress(src.Address); err != nil {
			return CompareSide{}, nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		fetched, err := s.fetch(ctx, rpc, src.Address)
		if err != nil {
			return CompareSide{}, nil, err
		}
		code = fetched
	default:
		return CompareSide{}, nil, fmt.Errorf("%w: either bytecode or address is required", ErrMalformedInput)
	}

	side := CompareSide{Address: formatAddress(src.Address)}
	if target, ok := evm.MinimalProxyTarget(code); ok && rpc != "" {
		side.ImplementationAddress = formatAddress(target.Hex())
		implCode, err := s.fetch(ctx, rpc, side.ImplementationAddress)
		if err != nil {
			return CompareSide{}, nil, err
		}
		code = implCode
	}

	side.CodeSize = len(code)
	side.Protocol = evm.Classify(code).Protocol.String()
	return side, code, nil
}

func (s *service) fetch(ctx context.Context, rpc, address string) ([]byte, error) {
	code, err := s.fetcher.GetDeployedBytecode(ctx, rpc, address)
	if err != nil {
		metrics.RPCFetchError()
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	s.logger.Debug("fetched_code", "address", formatAddress(address), "code_size", len(code))
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDeployedCode, formatAddress(address))
	}
	return code, nil
}

func (s *service) analyzeBytecode(address string, code []byte) BytecodeAnalysis {
	analysis := AnalyzeBytecode(address, code)
	s.logger.Debug("selector_fingerprint_matches",
		"address", analysis.Address,
		"protocol", analysis.Protocol,
		"candidates", analysis.Candidates,
	)
	return analysis
}

// AnalyzeBytecode classifies and fingerprints one bytecode blob. Fingerprint
// failures are recorded in the result rather than returned.
func AnalyzeBytecode(address string, code []byte) BytecodeAnalysis {
	classification := evm.Classify(code)

	analysis := BytecodeAnalysis{
		Address:      formatAddress(address),
		CodeSize:     len(code),
		Protocol:     classification.Protocol.String(),
		IsPoolLikely: classification.Protocol != evm.Unknown,
	}
	for _, c := range classification.Candidates {
		analysis.Candidates = append(analysis.Candidates, ProtocolCandidate{
			Protocol:   c.Protocol.String(),
			Confidence: c.Confidence,
		})
	}

	fp, err := evm.NewFingerprint(code)
	if err != nil {
		analysis.FingerprintError = err.Error()
	} else {
		analysis.Fingerprint = &FingerprintReport{
			Hash:           fp.Hash(),
			Version:        fp.Version(),
			OriginalSize:   fp.OriginalSize(),
			NormalizedSize: fp.NormalizedSize(),
		}
	}

	for _, sel := range evm.ExtractSelectors(code) {
		analysis.Selectors = append(analysis.Selectors, sel.String())
	}

	return analysis
}

func decodeBytecode(s string) ([]byte, error) {
	if err := validation.ValidateBytecodeHex(s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	code, err := evm.DecodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return code, nil
}

// formatAddress renders an address in lowercase 0x form, or "" when unset.
func formatAddress(address string) string {
	if address == "" {
		return ""
	}
	return strings.ToLower(common.HexToAddress(address).Hex())
}
