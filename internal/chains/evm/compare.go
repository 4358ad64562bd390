package evm

import (
	"bytes"
	"errors"
)

// CompareResult describes how two bytecode blobs relate.
type CompareResult struct {
	Match     bool   `json:"match"`
	MatchType string `json:"matchType"` // "full", "partial", "normalized", "none"
	Message   string `json:"message"`

	Distance         *int   `json:"distance,omitempty"`
	Similarity       string `json:"similarity,omitempty"`
	FingerprintA     string `json:"fingerprintA,omitempty"`
	FingerprintB     string `json:"fingerprintB,omitempty"`
	FingerprintErr   string `json:"fingerprintError,omitempty"`
	SameFamilyLikely bool   `json:"sameFamilyLikely"`
}

// CompareBytecode compares two runtime bytecodes, first byte for byte, then with
// metadata stripped, then fully normalized, and finally by fingerprint distance.
func CompareBytecode(a, b []byte) *CompareResult {
	result := &CompareResult{MatchType: "none", Message: "Bytecode does not match"}

	switch {
	case bytes.Equal(a, b):
		result.Match = true
		result.MatchType = "full"
		result.Message = "Bytecode matches exactly including metadata"
	case bytes.Equal(StripMetadata(a), StripMetadata(b)):
		result.Match = true
		result.MatchType = "partial"
		result.Message = "Executable code matches, metadata differs"
	case bytes.Equal(Normalize(a), Normalize(b)):
		result.Match = true
		result.MatchType = "normalized"
		result.Message = "Code structure matches, push data (immutables, constants) differs"
	}

	fpA, errA := NewFingerprint(a)
	fpB, errB := NewFingerprint(b)
	if err := errors.Join(errA, errB); err != nil {
		result.FingerprintErr = err.Error()
		return result
	}

	distance := fpA.Distance(fpB)
	similarity := SimilarityFromDistance(distance)
	result.Distance = &distance
	result.Similarity = similarity.String()
	result.FingerprintA = fpA.Hash()
	result.FingerprintB = fpB.Hash()
	result.SameFamilyLikely = similarity.IsSameFamily()
	return result
}
