// Package domain contains the business logic for the reference fingerprint library.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/whichdex/internal/chains/evm"
	"github.com/pendergraft/whichdex/internal/observability/metrics"
	"github.com/pendergraft/whichdex/internal/storage"
	"github.com/pendergraft/whichdex/internal/validation"
)

const (
	defaultMatchLimit = 10
	maxMatchLimit     = 100
)

// Store is the persistence the reference service needs.
type Store interface {
	CreateReference(ctx context.Context, ref *storage.Reference) error
	GetReference(ctx context.Context, id string) (*storage.Reference, error)
	ListReferences(ctx context.Context, filter storage.ReferenceFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Reference], error)
	AllReferences(ctx context.Context, filter storage.ReferenceFilter) ([]storage.Reference, error)
	DeleteReference(ctx context.Context, id string) error
}

// CodeFetcher retrieves deployed bytecode.
type CodeFetcher interface {
	GetDeployedBytecode(ctx context.Context, rpc string, address string) ([]byte, error)
}

type service struct {
	store      Store
	fetcher    CodeFetcher
	digester   evm.Digester
	defaultRPC string
	logger     *slog.Logger
}

// Option configures the reference service.
type Option func(*service)

// WithDigester overrides the fingerprint algorithm.
func WithDigester(d evm.Digester) Option {
	return func(s *service) { s.digester = d }
}

// NewService creates a new reference service.
func NewService(store Store, fetcher CodeFetcher, defaultRPC string, logger *slog.Logger, opts ...Option) *service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &service{
		store:      store,
		fetcher:    fetcher,
		digester:   evm.DefaultDigester,
		defaultRPC: defaultRPC,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register fingerprints a contract and stores it under a unique name per chain.
func (s *service) Register(ctx context.Context, req RegisterRequest) (*Reference, error) {
	if err := validation.ValidateReferenceName(req.Name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := validation.ValidateChainID(req.ChainID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Address != "" {
		if err := validation.ValidateAddress(req.Address); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	var protocol string
	if req.Protocol != "" {
		p, err := evm.ParseProtocol(req.Protocol)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		protocol = p.String()
	}

	code, err := s.loadCode(ctx, req)
	if err != nil {
		return nil, err
	}

	fp, err := evm.NewFingerprintWith(s.digester, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFingerprint, err)
	}

	if protocol == "" {
		protocol = evm.Classify(code).Protocol.String()
	}

	ref := &storage.Reference{
		Name:            req.Name,
		Protocol:        protocol,
		ChainID:         req.ChainID,
		Address:         formatAddress(req.Address),
		FingerprintHash: fp.Hash(),
		DigestVersion:   fp.Version(),
		OriginalSize:    fp.OriginalSize(),
		NormalizedSize:  fp.NormalizedSize(),
	}
	if err := s.store.CreateReference(ctx, ref); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			metrics.ReferenceRegister(protocol, "duplicate")
			return nil, fmt.Errorf("%w: %s on chain %d", ErrDuplicate, req.Name, req.ChainID)
		}
		metrics.ReferenceRegister(protocol, "error")
		return nil, fmt.Errorf("storing reference: %w", err)
	}

	metrics.ReferenceRegister(protocol, "created")
	return toReference(ref), nil
}

// loadCode returns the bytecode to fingerprint. Minimal proxies are followed to
// their implementation when an RPC URL is available.
func (s *service) loadCode(ctx context.Context, req RegisterRequest) ([]byte, error) {
	rpc := req.RPCURL
	if rpc == "" {
		rpc = s.defaultRPC
	}

	var code []byte
	switch {
	case req.Bytecode != "":
		if err := validation.ValidateBytecodeHex(req.Bytecode); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		decoded, err := evm.DecodeHex(req.Bytecode)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		code = decoded
	case req.Address != "":
		if err := validation.ValidateRPCURL(rpc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		fetched, err := s.fetch(ctx, rpc, req.Address)
		if err != nil {
			return nil, err
		}
		code = fetched
	default:
		return nil, fmt.Errorf("%w: either bytecode or address is required", ErrInvalidRequest)
	}

	if target, ok := evm.MinimalProxyTarget(code); ok && rpc != "" {
		impl := formatAddress(target.Hex())
		s.logger.Debug("eip1167_proxy_resolved", "proxy", formatAddress(req.Address), "implementation", impl)
		return s.fetch(ctx, rpc, impl)
	}
	return code, nil
}

func (s *service) fetch(ctx context.Context, rpc, address string) ([]byte, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("%w: no bytecode fetcher configured", ErrTransport)
	}
	code, err := s.fetcher.GetDeployedBytecode(ctx, rpc, address)
	if err != nil {
		metrics.RPCFetchError()
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDeployedCode, formatAddress(address))
	}
	return code, nil
}

// Get retrieves a reference by ID.
func (s *service) Get(ctx context.Context, id string) (*Reference, error) {
	ref, err := s.store.GetReference(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting reference: %w", err)
	}
	return toReference(ref), nil
}

// List lists references with filtering and pagination.
func (s *service) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	result, err := s.store.ListReferences(ctx, storage.ReferenceFilter{
		Protocol: filter.Protocol,
		ChainID:  filter.ChainID,
		Query:    filter.Query,
	}, storage.PaginationParams{
		Limit:  pagination.Limit,
		Cursor: pagination.Cursor,
	})
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}

	refs := make([]Reference, len(result.Data))
	for i := range result.Data {
		refs[i] = *toReference(&result.Data[i])
	}
	return &ListResult{
		References: refs,
		HasMore:    result.HasMore,
		NextCursor: result.NextCursor,
	}, nil
}

// Delete removes a reference.
func (s *service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteReference(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting reference: %w", err)
	}
	return nil
}

// Match compares a fingerprint against every stored reference with a
// compatible digest version. Matches in the Different tier are dropped; the
// rest are ordered by distance then name.
func (s *service) Match(ctx context.Context, fingerprintHash string, limit int) (*MatchResult, error) {
	fingerprintHash = strings.TrimSpace(fingerprintHash)
	if fingerprintHash == "" {
		return nil, fmt.Errorf("%w: fingerprint is required", ErrInvalidRequest)
	}
	query, err := evm.ParseFingerprint(s.digester, fingerprintHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	switch {
	case limit <= 0:
		limit = defaultMatchLimit
	case limit > maxMatchLimit:
		limit = maxMatchLimit
	}

	refs, err := s.store.AllReferences(ctx, storage.ReferenceFilter{})
	if err != nil {
		return nil, fmt.Errorf("loading references: %w", err)
	}

	matches := []Match{}
	for i := range refs {
		ref := &refs[i]
		if !evm.DigestVersionsCompatible(query.Version(), ref.DigestVersion) {
			continue
		}
		stored, err := evm.ParseFingerprint(s.digester, ref.FingerprintHash)
		if err != nil {
			s.logger.Warn("skipping unparsable reference fingerprint", "id", ref.ID, "name", ref.Name, "error", err)
			continue
		}

		distance := query.Distance(stored)
		similarity := evm.SimilarityFromDistance(distance)
		if similarity == evm.Different {
			continue
		}
		matches = append(matches, Match{
			Reference:        *toReference(ref),
			Distance:         distance,
			Similarity:       similarity.String(),
			SameFamilyLikely: similarity.IsSameFamily(),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Reference.Name < matches[j].Reference.Name
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	if len(matches) > 0 {
		metrics.ReferenceMatch(matches[0].Similarity)
	} else {
		metrics.ReferenceMatch("none")
	}

	return &MatchResult{
		Fingerprint:   query.Hash(),
		DigestVersion: query.Version(),
		Matches:       matches,
	}, nil
}

func toReference(r *storage.Reference) *Reference {
	return &Reference{
		ID:              r.ID,
		Name:            r.Name,
		Protocol:        r.Protocol,
		ChainID:         r.ChainID,
		Address:         r.Address,
		FingerprintHash: r.FingerprintHash,
		DigestVersion:   r.DigestVersion,
		OriginalSize:    r.OriginalSize,
		NormalizedSize:  r.NormalizedSize,
		CreatedAt:       r.CreatedAt,
	}
}

func formatAddress(address string) string {
	if address == "" {
		return ""
	}
	return strings.ToLower(common.HexToAddress(address).Hex())
}
