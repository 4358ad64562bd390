// Package transport provides HTTP request/response types for the analysis domain.
package transport

import "github.com/pendergraft/whichdex/internal/analysis/domain"

// AnalyzeRequest is the HTTP request body for analyzing a contract.
type AnalyzeRequest struct {
	RPCURL   string `json:"rpcUrl,omitempty"`
	Address  string `json:"address,omitempty"`
	Bytecode string `json:"bytecode,omitempty"`
}

// ToDomain converts AnalyzeRequest to domain.AnalyzeRequest.
func (r AnalyzeRequest) ToDomain() domain.AnalyzeRequest {
	return domain.AnalyzeRequest{
		RPCURL:   r.RPCURL,
		Address:  r.Address,
		Bytecode: r.Bytecode,
	}
}

// CompareRequest is the HTTP request body for comparing two contracts.
type CompareRequest struct {
	A AnalyzeRequest `json:"a"`
	B AnalyzeRequest `json:"b"`
}

// ToDomain converts CompareRequest to domain.CompareRequest.
func (r CompareRequest) ToDomain() domain.CompareRequest {
	return domain.CompareRequest{
		A: domain.CodeSource(r.A.ToDomain()),
		B: domain.CodeSource(r.B.ToDomain()),
	}
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
