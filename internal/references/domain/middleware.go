package domain

import (
	"context"
	"log/slog"
	"time"
)

// loggingService is the interface required for logging middleware.
type loggingService interface {
	Register(ctx context.Context, req RegisterRequest) (*Reference, error)
	Get(ctx context.Context, id string) (*Reference, error)
	List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error)
	Delete(ctx context.Context, id string) error
	Match(ctx context.Context, fingerprintHash string, limit int) (*MatchResult, error)
}

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(loggingService) *loggingMiddleware {
	return func(next loggingService) *loggingMiddleware {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   loggingService
	logger *slog.Logger
}

func (m *loggingMiddleware) Register(ctx context.Context, req RegisterRequest) (*Reference, error) {
	start := time.Now()
	ref, err := m.next.Register(ctx, req)
	attrs := []any{
		"name", req.Name,
		"chainId", req.ChainID,
		"address", req.Address,
		"duration", time.Since(start),
		"error", err,
	}
	if ref != nil {
		attrs = append(attrs, "id", ref.ID, "protocol", ref.Protocol)
	}
	m.logger.Info("Register", attrs...)
	return ref, err
}

func (m *loggingMiddleware) Get(ctx context.Context, id string) (*Reference, error) {
	start := time.Now()
	ref, err := m.next.Get(ctx, id)
	m.logger.Debug("Get",
		"id", id,
		"duration", time.Since(start),
		"error", err,
	)
	return ref, err
}

func (m *loggingMiddleware) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	start := time.Now()
	result, err := m.next.List(ctx, filter, pagination)
	m.logger.Debug("List",
		"protocol", filter.Protocol,
		"chainId", filter.ChainID,
		"query", filter.Query,
		"limit", pagination.Limit,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := m.next.Delete(ctx, id)
	m.logger.Info("Delete",
		"id", id,
		"duration", time.Since(start),
		"error", err,
	)
	return err
}

func (m *loggingMiddleware) Match(ctx context.Context, fingerprintHash string, limit int) (*MatchResult, error) {
	start := time.Now()
	result, err := m.next.Match(ctx, fingerprintHash, limit)
	matches := 0
	if result != nil {
		matches = len(result.Matches)
	}
	m.logger.Info("Match",
		"limit", limit,
		"matches", matches,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}
