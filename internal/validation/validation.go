// Package validation provides input validation for whichdex.
package validation

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/mod/semver"
)

// Reference name validation
// Lowercase alphanumeric with hyphens, dots or underscores, 2-64 chars
var referenceNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,62}[a-z0-9]$`)

// ValidateReferenceName validates the label of a reference fingerprint
func ValidateReferenceName(name string) error {
	if len(name) < 2 {
		return errors.New("reference name too short (min 2 chars)")
	}
	if len(name) > 64 {
		return errors.New("reference name too long (max 64 chars)")
	}
	if !referenceNameRegex.MatchString(name) {
		return errors.New("invalid reference name: must be lowercase alphanumeric with '.', '_' or '-'")
	}
	if strings.Contains(name, "..") {
		return errors.New("invalid characters in reference name")
	}
	return nil
}

// ValidateDigestVersion validates a digest algorithm version (vX.Y.Z)
func ValidateDigestVersion(v string) error {
	if v == "" {
		return errors.New("digest version cannot be empty")
	}
	if !strings.HasPrefix(v, "v") || !semver.IsValid(v) {
		return errors.New("invalid digest version: must be in format vX.Y.Z")
	}
	if strings.Count(strings.SplitN(v, "-", 2)[0], ".") < 2 {
		return errors.New("invalid digest version: must be in format vX.Y.Z (major.minor.patch)")
	}
	return nil
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return errors.New("invalid address: must start with 0x")
	}
	if !common.IsHexAddress(addr) {
		return errors.New("invalid address: contains non-hex characters")
	}
	return nil
}

// ValidateRPCURL validates a JSON-RPC endpoint
func ValidateRPCURL(raw string) error {
	if raw == "" {
		return errors.New("RPC URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid RPC URL")
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return errors.New("invalid RPC URL: scheme must be http, https, ws or wss")
	}
	if u.Host == "" {
		return errors.New("invalid RPC URL: missing host")
	}
	return nil
}

// ValidateBytecodeHex validates hex encoded bytecode (0x prefix optional)
func ValidateBytecodeHex(s string) error {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return errors.New("bytecode cannot be empty")
	}
	if len(s)%2 != 0 {
		return errors.New("invalid bytecode: odd number of hex digits")
	}
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return errors.New("invalid bytecode: contains non-hex characters")
		}
	}
	return nil
}

// ValidateChainID validates a chain ID
func ValidateChainID(chainID int64) error {
	if chainID <= 0 {
		return errors.New("chain ID must be positive")
	}
	return nil
}
