// Package transport provides HTTP request/response types for the reference library.
package transport

import "github.com/pendergraft/whichdex/internal/references/domain"

// RegisterRequest is the HTTP request body for registering a reference.
type RegisterRequest struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol,omitempty"`
	ChainID  int64  `json:"chainId"`
	Address  string `json:"address,omitempty"`
	RPCURL   string `json:"rpcUrl,omitempty"`
	Bytecode string `json:"bytecode,omitempty"`
}

// ToDomain converts RegisterRequest to domain.RegisterRequest.
func (r RegisterRequest) ToDomain() domain.RegisterRequest {
	return domain.RegisterRequest{
		Name:     r.Name,
		Protocol: r.Protocol,
		ChainID:  r.ChainID,
		Address:  r.Address,
		RPCURL:   r.RPCURL,
		Bytecode: r.Bytecode,
	}
}

// MatchRequest is the HTTP request body for matching a fingerprint.
type MatchRequest struct {
	Fingerprint string `json:"fingerprint"`
	Limit       int    `json:"limit,omitempty"`
}

// ListResponse is a page of references.
type ListResponse struct {
	Data       []domain.Reference `json:"data"`
	Pagination Pagination         `json:"pagination"`
}

// Pagination describes how to fetch the next page.
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
