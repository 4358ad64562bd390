package evm

import "bytes"

// CBOR metadata headers appended by solc. The rightmost occurrence of either marks
// the start of the metadata blob.
var metadataMarkers = [][]byte{
	{0xa2, 0x64}, // solc >= 0.6.0 ("ipfs" map)
	{0xa1, 0x65}, // older solc ("bzzr0" map)
}

// PUSH1..PUSH32 opcode range
const (
	opPush1  byte = 0x60
	opPush4  byte = 0x63
	opPush32 byte = 0x7f
)

// StripMetadata removes the trailing compiler metadata from bytecode.
// The returned slice aliases the input.
func StripMetadata(bytecode []byte) []byte {
	cut := -1
	for _, marker := range metadataMarkers {
		if idx := bytes.LastIndex(bytecode, marker); idx > cut {
			cut = idx
		}
	}
	if cut == -1 {
		return bytecode // No metadata found
	}
	return bytecode[:cut]
}

// pushSize returns the number of immediate bytes following op, or 0 if op is not a PUSH.
func pushSize(op byte) int {
	if op < opPush1 || op > opPush32 {
		return 0
	}
	return int(op-opPush1) + 1
}

// NormalizePushData returns a copy of bytecode with every PUSH operand replaced by zeros.
// Opcodes are kept as-is; a truncated trailing operand is zeroed up to the end of input.
func NormalizePushData(bytecode []byte) []byte {
	result := make([]byte, 0, len(bytecode))

	for i := 0; i < len(bytecode); {
		op := bytecode[i]
		result = append(result, op)
		i++

		n := pushSize(op)
		if n == 0 {
			continue
		}
		if remaining := len(bytecode) - i; n > remaining {
			n = remaining
		}
		result = append(result, make([]byte, n)...)
		i += n
	}

	return result
}

// Normalize strips metadata and zeroes push operands, leaving only code structure.
func Normalize(bytecode []byte) []byte {
	return NormalizePushData(StripMetadata(bytecode))
}
