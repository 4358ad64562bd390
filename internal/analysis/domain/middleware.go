package domain

import (
	"context"
	"log/slog"
	"time"
)

// loggingService is the interface required for logging middleware.
type loggingService interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeReport, error)
	AnalyzeAddress(ctx context.Context, rpc, address string) (*AnalyzeReport, error)
	AnalyzeMany(ctx context.Context, rpc string, addresses []string, concurrency int) []ManyResult
	Compare(ctx context.Context, req CompareRequest) (*CompareReport, error)
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

func (m *loggingMiddleware) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeReport, error) {
	start := time.Now()
	report, err := m.next.Analyze(ctx, req)
	m.logger.Info("Analyze",
		"address", req.Address,
		"inline", req.Bytecode != "",
		"protocol", reportProtocol(report),
		"duration", time.Since(start),
		"error", err,
	)
	return report, err
}

func (m *loggingMiddleware) AnalyzeAddress(ctx context.Context, rpc, address string) (*AnalyzeReport, error) {
	start := time.Now()
	report, err := m.next.AnalyzeAddress(ctx, rpc, address)
	m.logger.Info("AnalyzeAddress",
		"address", address,
		"protocol", reportProtocol(report),
		"duration", time.Since(start),
		"error", err,
	)
	return report, err
}

func (m *loggingMiddleware) AnalyzeMany(ctx context.Context, rpc string, addresses []string, concurrency int) []ManyResult {
	start := time.Now()
	results := m.next.AnalyzeMany(ctx, rpc, addresses, concurrency)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	m.logger.Info("AnalyzeMany",
		"count", len(addresses),
		"failed", failed,
		"concurrency", concurrency,
		"duration", time.Since(start),
	)
	return results
}

func (m *loggingMiddleware) Compare(ctx context.Context, req CompareRequest) (*CompareReport, error) {
	start := time.Now()
	report, err := m.next.Compare(ctx, req)
	var matchType string
	if report != nil {
		matchType = report.MatchType
	}
	m.logger.Info("Compare",
		"a", req.A.Address,
		"b", req.B.Address,
		"matchType", matchType,
		"duration", time.Since(start),
		"error", err,
	)
	return report, err
}

func reportProtocol(report *AnalyzeReport) string {
	if report == nil {
		return ""
	}
	return report.Analysis.Protocol
}
