package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/whichdex/internal/config"
)

// ReferenceStore handles reference fingerprint operations
type ReferenceStore interface {
	CreateReference(ctx context.Context, ref *Reference) error
	GetReference(ctx context.Context, id string) (*Reference, error)
	ListReferences(ctx context.Context, filter ReferenceFilter, pagination PaginationParams) (*PaginatedResult[Reference], error)
	AllReferences(ctx context.Context, filter ReferenceFilter) ([]Reference, error)
	DeleteReference(ctx context.Context, id string) error
}

// APIKeyStore handles API key operations
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, name string) (key string, err error)
	ValidateAPIKey(ctx context.Context, key string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	ReferenceStore
	APIKeyStore

	// Lifecycle
	Close() error
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
}

// Reference is a labelled fingerprint of a known contract
type Reference struct {
	ID              string
	Name            string
	Protocol        string
	ChainID         int64
	Address         string // optional
	FingerprintHash string
	DigestVersion   string
	OriginalSize    int
	NormalizedSize  int
	CreatedAt       string
}

// APIKey represents an API key
type APIKey struct {
	ID         string
	Name       string
	KeyHash    string
	CreatedAt  string
	LastUsedAt string
	RevokedAt  string
}

// ReferenceFilter contains filter options for listing references
type ReferenceFilter struct {
	Protocol string
	ChainID  int64
	Query    string // substring of name
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
