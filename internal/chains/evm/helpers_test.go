package evm

import (
	"math/rand"
)

// dispatcher builds a minimal solc-style dispatcher comparing each selector:
// PUSH4 <sel> EQ PUSH2 0x0000 JUMPI
func dispatcher(sels ...Selector) []byte {
	code := []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x36, 0x15} // PUSH1 0x80 PUSH1 0x40 MSTORE CALLDATASIZE ISZERO
	for _, s := range sels {
		code = append(code, opPush4)
		code = append(code, s[:]...)
		code = append(code, 0x14, 0x61, 0x00, 0x00, 0x57)
	}
	return append(code, 0x00) // STOP
}

// randomCode returns n pseudo-random bytes containing no PUSH opcodes and no
// metadata marker bytes, so Normalize leaves it unchanged.
func randomCode(seed int64, n int) []byte {
	r := rand.New(rand.NewSource(seed))
	code := make([]byte, n)
	for i := range code {
		b := byte(r.Intn(256))
		if pushSize(b) > 0 || b == 0xa1 || b == 0xa2 {
			b ^= 0x80
		}
		code[i] = b
	}
	return code
}

func minimalProxy(target []byte) []byte {
	code := append([]byte{}, minimalProxyPreamble...)
	code = append(code, target...)
	return append(code, 0x5a, 0xf4, 0x3d, 0x82, 0x80, 0x3e, 0x90, 0x3d, 0x91, 0x60, 0x2b, 0x57, 0xfd, 0x5b, 0xf3)
}
