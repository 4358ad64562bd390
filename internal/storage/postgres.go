package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// pgUniqueViolation is the SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

const pgTimeFormat = "2006-01-02 15:04:05"

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Reference fingerprints
	CREATE TABLE IF NOT EXISTS reference_fingerprints (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name TEXT NOT NULL,
		protocol TEXT NOT NULL,
		chain_id BIGINT NOT NULL,
		address TEXT,
		fingerprint_hash TEXT NOT NULL,
		digest_version TEXT NOT NULL,
		original_size INTEGER NOT NULL,
		normalized_size INTEGER NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		UNIQUE(chain_id, name)
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		last_used_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ
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
func (s *PostgresStore) CreateReference(ctx context.Context, ref *Reference) error {
	if ref.ID == "" {
		ref.ID = generateID()
	}
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO reference_fingerprints
			(id, name, protocol, chain_id, address, fingerprint_hash, digest_version, original_size, normalized_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		ref.ID, ref.Name, ref.Protocol, ref.ChainID, nullString(ref.Address),
		ref.FingerprintHash, ref.DigestVersion, ref.OriginalSize, ref.NormalizedSize,
	).Scan(&createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return err
	}
	ref.CreatedAt = createdAt.Format(pgTimeFormat)
	return nil
}

const pgReferenceColumns = `id::text, name, protocol, chain_id, address, fingerprint_hash, digest_version, original_size, normalized_size, created_at`

// GetReference gets a reference by ID
func (s *PostgresStore) GetReference(ctx context.Context, id string) (*Reference, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+pgReferenceColumns+" FROM reference_fingerprints WHERE id::text = $1", id)
	ref, err := scanPgReference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ref, err
}

// ListReferences lists references ordered by name
func (s *PostgresStore) ListReferences(ctx context.Context, filter ReferenceFilter, pagination PaginationParams) (*PaginatedResult[Reference], error) {
	where, args := pgReferenceWhere(filter)
	limit := pageLimit(pagination.Limit)
	offset := parseCursor(pagination.Cursor)

	n := len(args)
	query := fmt.Sprintf("SELECT %s FROM reference_fingerprints%s ORDER BY name ASC, chain_id ASC LIMIT $%d OFFSET $%d",
		pgReferenceColumns, where, n+1, n+2)
	refs, err := s.queryReferences(ctx, query, append(args, limit+1, offset)...)
	if err != nil {
		return nil, err
	}
	return paginate(refs, offset, limit), nil
}

// AllReferences returns every reference matching filter
func (s *PostgresStore) AllReferences(ctx context.Context, filter ReferenceFilter) ([]Reference, error) {
	where, args := pgReferenceWhere(filter)
	query := "SELECT " + pgReferenceColumns + " FROM reference_fingerprints" + where + " ORDER BY name ASC, chain_id ASC"
	return s.queryReferences(ctx, query, args...)
}

// DeleteReference deletes a reference by ID
func (s *PostgresStore) DeleteReference(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM reference_fingerprints WHERE id::text = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) queryReferences(ctx context.Context, query string, args ...any) ([]Reference, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []Reference
	for rows.Next() {
		ref, err := scanPgReference(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, *ref)
	}
	return refs, rows.Err()
}

func pgReferenceWhere(filter ReferenceFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Protocol != "" {
		args = append(args, filter.Protocol)
		conds = append(conds, fmt.Sprintf("protocol = $%d", len(args)))
	}
	if filter.ChainID != 0 {
		args = append(args, filter.ChainID)
		conds = append(conds, fmt.Sprintf("chain_id = $%d", len(args)))
	}
	if filter.Query != "" {
		args = append(args, "%"+escapeLike(filter.Query)+"%")
		conds = append(conds, fmt.Sprintf(`name LIKE $%d ESCAPE '\'`, len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanPgReference(row rowScanner) (*Reference, error) {
	var ref Reference
	var address sql.NullString
	var createdAt time.Time
	err := row.Scan(&ref.ID, &ref.Name, &ref.Protocol, &ref.ChainID, &address,
		&ref.FingerprintHash, &ref.DigestVersion, &ref.OriginalSize, &ref.NormalizedSize, &createdAt)
	if err != nil {
		return nil, err
	}
	ref.Address = address.String
	ref.CreatedAt = createdAt.Format(pgTimeFormat)
	return &ref, nil
}

// CreateAPIKey creates a new API key
func (s *PostgresStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	hash := hashAPIKey(key)
	id := generateID()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name) VALUES ($1, $2, $3)", id, hash, name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *PostgresStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	hash := hashAPIKey(key)
	var ak APIKey
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, "SELECT id::text, key_hash, name, created_at FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL", hash).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ak.CreatedAt = createdAt.Format(pgTimeFormat)
	// Update last used
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = NOW() WHERE id::text = $1", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all active API keys
func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id::text, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var createdAt time.Time
		var lastUsed sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &createdAt, &lastUsed); err != nil {
			return nil, err
		}
		k.CreatedAt = createdAt.Format(pgTimeFormat)
		if lastUsed.Valid {
			k.LastUsedAt = lastUsed.Time.Format(pgTimeFormat)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = NOW() WHERE id::text = $1 AND revoked_at IS NULL", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
