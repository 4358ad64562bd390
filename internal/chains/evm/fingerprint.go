package evm

import (
	"errors"
	"fmt"

	"github.com/glaslos/tlsh"
	"golang.org/x/mod/semver"
)

// MinFingerprintSize is the smallest bytecode accepted for fingerprinting.
const MinFingerprintSize = 50

// Fingerprint errors
var (
	ErrInputTooSmall            = errors.New("bytecode too small to fingerprint")
	ErrDigestConstructionFailed = errors.New("digest construction failed")
	ErrInvalidDigest            = errors.New("invalid digest")
)

// Digest is an opaque locality-sensitive hash.
type Digest interface {
	// Diff returns the distance to other; 0 means effectively identical.
	Diff(other Digest) int
	String() string
}

// Digester builds and parses digests of one algorithm version.
type Digester interface {
	// Version is a semver string; digests are comparable only within one major version.
	Version() string
	Digest(data []byte) (Digest, error)
	Parse(s string) (Digest, error)
}

// DefaultDigester is the digest algorithm used by NewFingerprint.
var DefaultDigester Digester = TLSHDigester{}

// Fingerprint is a similarity digest of normalized bytecode.
type Fingerprint struct {
	digest         Digest
	version        string
	originalSize   int
	normalizedSize int
}

// NewFingerprint fingerprints bytecode with DefaultDigester.
func NewFingerprint(bytecode []byte) (*Fingerprint, error) {
	return NewFingerprintWith(DefaultDigester, bytecode)
}

// NewFingerprintWith normalizes bytecode and digests it with d.
func NewFingerprintWith(d Digester, bytecode []byte) (*Fingerprint, error) {
	if len(bytecode) < MinFingerprintSize {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrInputTooSmall, MinFingerprintSize, len(bytecode))
	}

	normalized := Normalize(bytecode)

	digest, err := d.Digest(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDigestConstructionFailed, err)
	}

	return &Fingerprint{
		digest:         digest,
		version:        d.Version(),
		originalSize:   len(bytecode),
		normalizedSize: len(normalized),
	}, nil
}

// ParseFingerprint restores a fingerprint from a stored hash string.
// Sizes are not part of the hash and are left at zero.
func ParseFingerprint(d Digester, hash string) (*Fingerprint, error) {
	digest, err := d.Parse(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return &Fingerprint{digest: digest, version: d.Version()}, nil
}

// Hash returns the digest in its textual form.
func (f *Fingerprint) Hash() string { return f.digest.String() }

// Version returns the digest algorithm version.
func (f *Fingerprint) Version() string { return f.version }

// OriginalSize is the input bytecode length.
func (f *Fingerprint) OriginalSize() int { return f.originalSize }

// NormalizedSize is the length after metadata stripping.
func (f *Fingerprint) NormalizedSize() int { return f.normalizedSize }

// Distance returns the digest distance to other. Lower is more similar.
func (f *Fingerprint) Distance(other *Fingerprint) int {
	return f.digest.Diff(other.digest)
}

// Similarity classifies the distance to other.
func (f *Fingerprint) Similarity(other *Fingerprint) Similarity {
	return SimilarityFromDistance(f.Distance(other))
}

// Comparable reports whether both digests come from the same major algorithm version.
func (f *Fingerprint) Comparable(other *Fingerprint) bool {
	return DigestVersionsCompatible(f.version, other.version)
}

// DigestVersionsCompatible reports whether two digest versions share a major version.
func DigestVersionsCompatible(a, b string) bool {
	if !semver.IsValid(a) || !semver.IsValid(b) {
		return false
	}
	return semver.Major(a) == semver.Major(b)
}

// TLSHDigester digests with TLSH (Trend Micro Locality Sensitive Hash).
type TLSHDigester struct{}

const (
	// maxDistance is reported when a digest is compared against a foreign implementation.
	maxDistance = 1 << 16

	// tlshHashLen is the hex length of a digest: checksum, length and
	// quartile bytes followed by the 32 byte body.
	tlshHashLen = 70
	tlshHeader  = 3

	// A usable digest needs more than half of the 128 body buckets above
	// the first quartile.
	tlshMinBuckets = 64
)

var (
	errLowEntropy   = errors.New("input has too little variation for a digest")
	errDigestLength = fmt.Errorf("digest must be %d hex characters", tlshHashLen)
)

type tlshDigest struct {
	t *tlsh.TLSH
}

func (d tlshDigest) Diff(other Digest) int {
	o, ok := other.(tlshDigest)
	if !ok {
		return maxDistance
	}
	return d.t.Diff(o.t)
}

func (d tlshDigest) String() string { return d.t.String() }

// Version implements Digester.
func (TLSHDigester) Version() string { return "v1.0.0" }

// Digest implements Digester.
func (TLSHDigester) Digest(data []byte) (Digest, error) {
	t, err := tlsh.HashBytes(data)
	if err != nil {
		return nil, err
	}
	if n := nonzeroBuckets(t.Binary()[tlshHeader:]); n <= tlshMinBuckets {
		return nil, fmt.Errorf("%w: %d of 128 buckets populated", errLowEntropy, n)
	}
	return tlshDigest{t: t}, nil
}

// nonzeroBuckets counts the 2-bit body cells above the first quartile.
func nonzeroBuckets(body []byte) int {
	n := 0
	for _, b := range body {
		for ; b != 0; b >>= 2 {
			if b&0x3 != 0 {
				n++
			}
		}
	}
	return n
}

// Parse implements Digester.
func (TLSHDigester) Parse(s string) (Digest, error) {
	if len(s) != tlshHashLen {
		return nil, fmt.Errorf("%w, got %d", errDigestLength, len(s))
	}
	t, err := tlsh.ParseStringToTlsh(s)
	if err != nil {
		return nil, err
	}
	return tlshDigest{t: t}, nil
}
