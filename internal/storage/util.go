package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// APIKeyPrefix is prepended to every generated API key.
const APIKeyPrefix = "wd_key_"

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey generates a new API key
func generateAPIKey() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s%s", APIKeyPrefix, hex.EncodeToString(b))
}

// hashAPIKey hashes an API key for storage
func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// parseCursor decodes an offset cursor; anything invalid restarts at zero.
func parseCursor(cursor string) int {
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// pageLimit clamps a requested page size.
func pageLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}

// paginate trims one look-ahead row and builds the next cursor.
func paginate[T any](rows []T, offset, limit int) *PaginatedResult[T] {
	result := &PaginatedResult[T]{Data: rows}
	if len(rows) > limit {
		result.Data = rows[:limit]
		result.HasMore = true
		result.NextCursor = strconv.Itoa(offset + limit)
	}
	return result
}

// escapeLike escapes LIKE wildcards in user input.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
