package domain

// Reference is a labelled fingerprint of a known contract implementation.
type Reference struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Protocol        string `json:"protocol"`
	ChainID         int64  `json:"chainId"`
	Address         string `json:"address,omitempty"`
	FingerprintHash string `json:"fingerprint"`
	DigestVersion   string `json:"digestVersion"`
	OriginalSize    int    `json:"originalSize"`
	NormalizedSize  int    `json:"normalizedSize"`
	CreatedAt       string `json:"createdAt"`
}

// RegisterRequest registers a reference from inline bytecode or from the code
// deployed at Address.
type RegisterRequest struct {
	Name     string
	Protocol string // classified from the code when empty
	ChainID  int64
	Address  string
	RPCURL   string
	Bytecode string
}

// ListFilter contains filter options for listing references.
type ListFilter struct {
	Protocol string
	ChainID  int64
	Query    string
}

// PaginationParams contains pagination options.
type PaginationParams struct {
	Limit  int
	Cursor string
}

// ListResult contains a page of references.
type ListResult struct {
	References []Reference
	HasMore    bool
	NextCursor string
}

// Match is one stored reference close to a queried fingerprint.
type Match struct {
	Reference        Reference `json:"reference"`
	Distance         int       `json:"distance"`
	Similarity       string    `json:"similarity"`
	SameFamilyLikely bool      `json:"sameFamilyLikely"`
}

// MatchResult lists references ordered by distance.
type MatchResult struct {
	Fingerprint   string  `json:"fingerprint"`
	DigestVersion string  `json:"digestVersion"`
	Matches       []Match `json:"matches"`
}
