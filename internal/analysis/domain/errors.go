package domain

import (
	"errors"
	"fmt"
)

// Common errors returned by the analysis service.
var (
	// ErrMalformedInput is returned before any network or analysis work when an
	// address, RPC URL or bytecode string is syntactically invalid.
	ErrMalformedInput = errors.New("malformed input")
	// ErrNoDeployedCode is returned when an address has no bytecode.
	ErrNoDeployedCode = errors.New("address has no deployed bytecode")
	// ErrTransport wraps failures of the bytecode fetcher.
	ErrTransport = errors.New("rpc error")
)

// ProxyResolutionError reports a minimal proxy whose implementation could not
// be analyzed. The proxy's own facts remain available.
type ProxyResolutionError struct {
	Proxy          string
	Implementation string
	ProxyAnalysis  *BytecodeAnalysis
	Err            error
}

func (e *ProxyResolutionError) Error() string {
	return fmt.Sprintf("resolving implementation %s of proxy %s: %v", e.Implementation, e.Proxy, e.Err)
}

func (e *ProxyResolutionError) Unwrap() error {
	return e.Err
}
