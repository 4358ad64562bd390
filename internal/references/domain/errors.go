package domain

import "errors"

// Errors returned by the reference service.
var (
	ErrNotFound       = errors.New("reference not found")
	ErrDuplicate      = errors.New("reference already exists")
	ErrInvalidRequest = errors.New("invalid request")
	ErrNoDeployedCode = errors.New("address has no deployed bytecode")
	ErrTransport      = errors.New("rpc error")
	ErrFingerprint    = errors.New("cannot fingerprint bytecode")
)
