package evm

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
)

// EIP-1167 runtime code:
// 363d3d373d3d3d363d73<20-byte target>5af43d82803e903d91602b57fd5bf3
const (
	minimalProxyLength       = 45
	minimalProxyTargetOffset = 10 // offset of the embedded target address
)

var minimalProxyPreamble = []byte{0x36, 0x3d, 0x3d, 0x37, 0x3d, 0x3d, 0x3d, 0x36, 0x3d, 0x73}

// IsMinimalProxy reports whether bytecode is an EIP-1167 minimal proxy.
// Only the exact 45-byte runtime is accepted.
func IsMinimalProxy(bytecode []byte) bool {
	return len(bytecode) == minimalProxyLength && bytes.HasPrefix(bytecode, minimalProxyPreamble)
}

// MinimalProxyTarget returns the implementation address embedded in an EIP-1167 proxy.
func MinimalProxyTarget(bytecode []byte) (common.Address, bool) {
	if !IsMinimalProxy(bytecode) {
		return common.Address{}, false
	}
	return common.BytesToAddress(bytecode[minimalProxyTargetOffset : minimalProxyTargetOffset+common.AddressLength]), true
}
