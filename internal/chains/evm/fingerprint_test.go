package evm

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDigest compares by string equality.
type fakeDigest string

func (d fakeDigest) Diff(other Digest) int {
	if o, ok := other.(fakeDigest); ok && o == d {
		return 0
	}
	return 200
}

func (d fakeDigest) String() string { return string(d) }

type fakeDigester struct {
	version string
	err     error
	got     []byte
}

func (f *fakeDigester) Version() string { return f.version }

func (f *fakeDigester) Digest(data []byte) (Digest, error) {
	f.got = data
	if f.err != nil {
		return nil, f.err
	}
	return fakeDigest(string(data)), nil
}

func (f *fakeDigester) Parse(s string) (Digest, error) {
	if s == "" {
		return nil, errors.New("empty")
	}
	return fakeDigest(s), nil
}

func TestNewFingerprint_MinimumSize(t *testing.T) {
	d := &fakeDigester{version: "v1.0.0"}

	_, err := NewFingerprintWith(d, make([]byte, MinFingerprintSize-1))
	assert.ErrorIs(t, err, ErrInputTooSmall)
	assert.Nil(t, d.got, "digester must not run on undersized input")

	fp, err := NewFingerprintWith(d, make([]byte, MinFingerprintSize))
	require.NoError(t, err)
	assert.Equal(t, MinFingerprintSize, fp.OriginalSize())
}

func TestNewFingerprint_DigestsNormalizedCode(t *testing.T) {
	d := &fakeDigester{version: "v1.0.0"}
	code := append(dispatcher(SelToken0, SelToken1, SelGetReserves, SelKLast), 0xa2, 0x64, 0x69, 0x70, 0x66, 0x73)

	fp, err := NewFingerprintWith(d, code)
	require.NoError(t, err)

	assert.Equal(t, Normalize(code), d.got)
	assert.Equal(t, len(code), fp.OriginalSize())
	assert.Equal(t, len(code)-6, fp.NormalizedSize())
	assert.Equal(t, "v1.0.0", fp.Version())
}

func TestNewFingerprint_DigestFailure(t *testing.T) {
	d := &fakeDigester{version: "v1.0.0", err: errors.New("input lacks variance")}

	_, err := NewFingerprintWith(d, make([]byte, 64))

	assert.ErrorIs(t, err, ErrDigestConstructionFailed)
	assert.Contains(t, err.Error(), "input lacks variance")
}

func TestNewFingerprint_TLSH(t *testing.T) {
	code := randomCode(1, 1024)

	t.Run("too small", func(t *testing.T) {
		_, err := NewFingerprint(code[:49])
		assert.ErrorIs(t, err, ErrInputTooSmall)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := NewFingerprint(code)
		require.NoError(t, err)
		b, err := NewFingerprint(code)
		require.NoError(t, err)

		assert.Equal(t, a.Hash(), b.Hash())
		assert.Equal(t, 0, a.Distance(b))
		assert.Equal(t, 0, a.Distance(a))
		assert.Equal(t, Identical, a.Similarity(b))
	})

	t.Run("symmetric", func(t *testing.T) {
		other := append([]byte{}, code...)
		copy(other[100:], randomCode(2, 64))

		a, err := NewFingerprint(code)
		require.NoError(t, err)
		b, err := NewFingerprint(other)
		require.NoError(t, err)

		assert.Equal(t, a.Distance(b), b.Distance(a))
		assert.Greater(t, a.Distance(b), 0)
	})

	t.Run("unrelated code is distant", func(t *testing.T) {
		a, err := NewFingerprint(code)
		require.NoError(t, err)
		b, err := NewFingerprint(randomCode(3, 1024))
		require.NoError(t, err)

		assert.Greater(t, a.Distance(b), 30)
	})

	t.Run("push data differences are ignored", func(t *testing.T) {
		withAddress := func(addr byte) []byte {
			c := append([]byte{}, code[:512]...)
			c = append(c, 0x73)
			for i := 0; i < 20; i++ {
				c = append(c, addr)
			}
			return append(c, code[512:]...)
		}

		a, err := NewFingerprint(withAddress(0x11))
		require.NoError(t, err)
		b, err := NewFingerprint(withAddress(0xee))
		require.NoError(t, err)

		assert.Equal(t, 0, a.Distance(b))
	})
}

func TestParseFingerprint(t *testing.T) {
	fp, err := NewFingerprint(randomCode(1, 1024))
	require.NoError(t, err)

	parsed, err := ParseFingerprint(DefaultDigester, fp.Hash())
	require.NoError(t, err)

	assert.Equal(t, fp.Hash(), parsed.Hash())
	assert.Equal(t, 0, fp.Distance(parsed))
	assert.True(t, fp.Comparable(parsed))

	invalid := map[string]string{
		"not hex":       "not-a-digest",
		"short":         "ab",
		"truncated":     "abcd12",
		"one byte less": fp.Hash()[:68],
		"one byte more": fp.Hash() + "00",
		"non hex body":  strings.Repeat("zz", 35),
	}
	for name, hash := range invalid {
		t.Run(name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { _, err = ParseFingerprint(DefaultDigester, hash) })
			assert.ErrorIs(t, err, ErrInvalidDigest)
		})
	}
}

func TestNewFingerprint_LowEntropy(t *testing.T) {
	tests := map[string][]byte{
		"50 zero bytes":   make([]byte, 50),
		"100 zero bytes":  make([]byte, 100),
		"4096 zero bytes": make([]byte, 4096),
		"jumpdest run":    bytes.Repeat([]byte{0x5b}, 200),
		"two byte cycle":  bytes.Repeat([]byte{0x5b, 0x00}, 100),
	}

	for name, code := range tests {
		t.Run(name, func(t *testing.T) {
			fp, err := NewFingerprint(code)
			assert.ErrorIs(t, err, ErrDigestConstructionFailed)
			assert.NotErrorIs(t, err, ErrInputTooSmall)
			assert.Nil(t, fp)
		})
	}

	t.Run("short varied code digests", func(t *testing.T) {
		_, err := NewFingerprint(randomCode(7, 128))
		assert.NoError(t, err)
	})
}

func TestNonzeroBuckets(t *testing.T) {
	assert.Equal(t, 0, nonzeroBuckets(make([]byte, 32)))
	assert.Equal(t, 4, nonzeroBuckets([]byte{0xff}))
	assert.Equal(t, 2, nonzeroBuckets([]byte{0x41, 0x00}))
	assert.Equal(t, 128, nonzeroBuckets(bytes.Repeat([]byte{0x55}, 32)))
}

func TestFingerprint_ForeignDigest(t *testing.T) {
	tlshFP, err := NewFingerprint(randomCode(1, 1024))
	require.NoError(t, err)
	fake, err := NewFingerprintWith(&fakeDigester{version: "v2.0.0"}, randomCode(1, 1024))
	require.NoError(t, err)

	assert.False(t, tlshFP.Comparable(fake))
	assert.Equal(t, Different, tlshFP.Similarity(fake))
}

func TestDigestVersionsCompatible(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"v1.0.0", "v1.0.0", true},
		{"v1.0.0", "v1.4.2", true},
		{"v1.0.0", "v2.0.0", false},
		{"v1.0.0", "1.0.0", false},
		{"", "v1.0.0", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DigestVersionsCompatible(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}
