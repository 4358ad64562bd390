package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Reference fingerprints
	CREATE TABLE IF NOT EXISTS reference_fingerprints (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		protocol TEXT NOT NULL,
		chain_id INTEGER NOT NULL,
		address TEXT,
		fingerprint_hash TEXT NOT NULL,
		digest_version TEXT NOT NULL,
		original_size INTEGER NOT NULL,
		normalized_size INTEGER NOT NULL,
		created_at TEXT DEFAULT (datetime('now')),
		UNIQUE(chain_id, name)
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now')),
		last_used_at TEXT,
		revoked_at TEXT
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_references_protocol ON reference_fingerprints(protocol);
	CREATE INDEX IF NOT EXISTS idx_references_digest_version ON reference_fingerprints(digest_version);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations completed")
	return nil
}

// CreateReference stores a reference fingerprint
func (s *SQLiteStore) CreateReference(ctx context.Context, ref *Reference) error {
	if ref.ID == "" {
		ref.ID = generateID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reference_fingerprints
			(id, name, protocol, chain_id, address, fingerprint_hash, digest_version, original_size, normalized_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ref.ID, ref.Name, ref.Protocol, ref.ChainID, nullString(ref.Address),
		ref.FingerprintHash, ref.DigestVersion, ref.OriginalSize, ref.NormalizedSize,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
		return err
	}
	return s.db.QueryRowContext(ctx, "SELECT created_at FROM reference_fingerprints WHERE id = ?", ref.ID).Scan(&ref.CreatedAt)
}

const sqliteReferenceColumns = `id, name, protocol, chain_id, address, fingerprint_hash, digest_version, original_size, normalized_size, created_at`

// GetReference gets a reference by ID
func (s *SQLiteStore) GetReference(ctx context.Context, id string) (*Reference, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteReferenceColumns+" FROM reference_fingerprints WHERE id = ?", id)
	ref, err := scanReference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ref, err
}

// ListReferences lists references ordered by name
func (s *SQLiteStore) ListReferences(ctx context.Context, filter ReferenceFilter, pagination PaginationParams) (*PaginatedResult[Reference], error) {
	where, args := sqliteReferenceWhere(filter)
	limit := pageLimit(pagination.Limit)
	offset := parseCursor(pagination.Cursor)

	query := "SELECT " + sqliteReferenceColumns + " FROM reference_fingerprints" + where +
		" ORDER BY name ASC, chain_id ASC LIMIT ? OFFSET ?"
	refs, err := s.queryReferences(ctx, query, append(args, limit+1, offset)...)
	if err != nil {
		return nil, err
	}
	return paginate(refs, offset, limit), nil
}

// AllReferences returns every reference matching filter
func (s *SQLiteStore) AllReferences(ctx context.Context, filter ReferenceFilter) ([]Reference, error) {
	where, args := sqliteReferenceWhere(filter)
	query := "SELECT " + sqliteReferenceColumns + " FROM reference_fingerprints" + where + " ORDER BY name ASC, chain_id ASC"
	return s.queryReferences(ctx, query, args...)
}

// DeleteReference deletes a reference by ID
func (s *SQLiteStore) DeleteReference(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM reference_fingerprints WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) queryReferences(ctx context.Context, query string, args ...any) ([]Reference, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []Reference
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, *ref)
	}
	return refs, rows.Err()
}

func sqliteReferenceWhere(filter ReferenceFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Protocol != "" {
		conds = append(conds, "protocol = ?")
		args = append(args, filter.Protocol)
	}
	if filter.ChainID != 0 {
		conds = append(conds, "chain_id = ?")
		args = append(args, filter.ChainID)
	}
	if filter.Query != "" {
		conds = append(conds, `name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(filter.Query)+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReference(row rowScanner) (*Reference, error) {
	var ref Reference
	var address sql.NullString
	err := row.Scan(&ref.ID, &ref.Name, &ref.Protocol, &ref.ChainID, &address,
		&ref.FingerprintHash, &ref.DigestVersion, &ref.OriginalSize, &ref.NormalizedSize, &ref.CreatedAt)
	if err != nil {
		return nil, err
	}
	ref.Address = address.String
	return &ref, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateAPIKey creates a new API key
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	hash := hashAPIKey(key)
	id := generateID()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name, created_at) VALUES (?, ?, ?, datetime('now'))", id, hash, name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *SQLiteStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	hash := hashAPIKey(key)
	var ak APIKey
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL", hash).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &ak.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// Update last used
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = datetime('now') WHERE id = ?", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all active API keys
func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullString
		if err := rows.Scan(&k.ID, &k.Name, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		k.LastUsedAt = lastUsed.String
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = datetime('now') WHERE id = ? AND revoked_at IS NULL", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
