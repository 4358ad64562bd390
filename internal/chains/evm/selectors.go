package evm

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/ethereum/go-ethereum/crypto"
)

// SelectorTableVersion versions the selector constants and protocol templates below.
// Changing any selector value or template changes classification results and
// requires a version bump.
const SelectorTableVersion = "v1.1.0"

// Selector is a 4-byte function selector (first 4 bytes of keccak256(signature)).
type Selector [4]byte

// SelectorFromSignature hashes a canonical function signature such as "token0()".
func SelectorFromSignature(sig string) Selector {
	var s Selector
	copy(s[:], crypto.Keccak256([]byte(sig))[:4])
	return s
}

// In reports whether the selector bytes occur anywhere in bytecode.
// The scan is not instruction aligned, so push data can produce false positives.
func (s Selector) In(bytecode []byte) bool {
	return bytes.Contains(bytecode, s[:])
}

// String returns the 0x-prefixed hex form.
func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// Well-known DEX pool selectors.
var (
	// Common to all pools
	SelToken0  = Selector{0x0d, 0xfe, 0x16, 0x81} // token0()
	SelToken1  = Selector{0xd2, 0x12, 0x20, 0xa7} // token1()
	SelFactory = Selector{0xc4, 0x5a, 0x01, 0x55} // factory()

	// UniswapV2 and forks
	SelGetReserves          = Selector{0x09, 0x02, 0xf1, 0xac} // getReserves()
	SelKLast                = Selector{0x74, 0x64, 0xfc, 0x3d} // kLast()
	SelPrice0CumulativeLast = Selector{0x59, 0x09, 0xc0, 0xd5} // price0CumulativeLast()
	SelPrice1CumulativeLast = Selector{0x5a, 0x3d, 0x54, 0x93} // price1CumulativeLast()

	// UniswapV3 concentrated liquidity
	SelSlot0       = Selector{0x38, 0x50, 0xc7, 0xbd} // slot0()
	SelFee         = Selector{0xdd, 0xca, 0x3f, 0x43} // fee()
	SelTickSpacing = Selector{0xd0, 0xc9, 0x3a, 0x7c} // tickSpacing()
	SelLiquidity   = Selector{0x1a, 0x68, 0x65, 0x02} // liquidity()
	SelTicks       = Selector{0xf3, 0x0d, 0xba, 0x93} // ticks(int24)
	SelPositions   = Selector{0x51, 0x4e, 0xa4, 0xbf} // positions(bytes32)

	// Solidly / Velodrome / Aerodrome
	SelStable                  = Selector{0x22, 0xbe, 0x3d, 0xe1} // stable()
	SelClaimFees               = Selector{0xd2, 0x94, 0xf0, 0x93} // claimFees()
	SelCurrentCumulativePrices = Selector{0x1d, 0xf8, 0xc7, 0x17} // currentCumulativePrices()

	// Algebra, all versions
	SelGlobalState         = Selector{0xe7, 0x6c, 0x01, 0xe4} // globalState()
	SelDataStorageOperator = Selector{0x29, 0x04, 0x7d, 0xfa} // dataStorageOperator()
	SelGetInnerCumulatives = Selector{0x92, 0x0c, 0x34, 0xe5} // getInnerCumulatives(int24,int24)

	// Algebra v1.9+ (also present in Integral)
	SelPlugin         = Selector{0xef, 0x01, 0xdf, 0x4f} // plugin()
	SelCommunityVault = Selector{0x53, 0xe9, 0x78, 0x68} // communityVault()

	// Algebra Integral
	SelGetFee              = Selector{0xce, 0xd7, 0x27, 0x07} // getFee()
	SelSafelyGetStateOfAMM = SelectorFromSignature("safelyGetStateOfAMM()")
)

// ExtractSelectors collects the operands of every PUSH4 instruction, which is how
// solc dispatchers compare selectors. Result is sorted and de-duplicated.
func ExtractSelectors(bytecode []byte) []Selector {
	seen := make(map[Selector]struct{})

	for i := 0; i < len(bytecode); {
		op := bytecode[i]
		if op == opPush4 && i+4 < len(bytecode) {
			var s Selector
			copy(s[:], bytecode[i+1:i+5])
			seen[s] = struct{}{}
			i += 5
			continue
		}
		i += 1 + pushSize(op)
	}

	selectors := make([]Selector, 0, len(seen))
	for s := range seen {
		selectors = append(selectors, s)
	}
	sort.Slice(selectors, func(i, j int) bool {
		return bytes.Compare(selectors[i][:], selectors[j][:]) < 0
	})
	return selectors
}

// HasFunction reports whether the selector of signature occurs in bytecode.
func HasFunction(bytecode []byte, signature string) bool {
	return SelectorFromSignature(signature).In(bytecode)
}

// NamedSelector pairs a selector with its canonical signature.
type NamedSelector struct {
	Signature string
	Selector  Selector
}

// KnownSelectors lists the well-known pool selectors in table order.
func KnownSelectors() []NamedSelector {
	return []NamedSelector{
		{"token0()", SelToken0},
		{"token1()", SelToken1},
		{"factory()", SelFactory},
		{"getReserves()", SelGetReserves},
		{"kLast()", SelKLast},
		{"price0CumulativeLast()", SelPrice0CumulativeLast},
		{"price1CumulativeLast()", SelPrice1CumulativeLast},
		{"slot0()", SelSlot0},
		{"fee()", SelFee},
		{"tickSpacing()", SelTickSpacing},
		{"liquidity()", SelLiquidity},
		{"ticks(int24)", SelTicks},
		{"positions(bytes32)", SelPositions},
		{"stable()", SelStable},
		{"claimFees()", SelClaimFees},
		{"currentCumulativePrices()", SelCurrentCumulativePrices},
		{"globalState()", SelGlobalState},
		{"dataStorageOperator()", SelDataStorageOperator},
		{"getInnerCumulatives(int24,int24)", SelGetInnerCumulatives},
		{"plugin()", SelPlugin},
		{"communityVault()", SelCommunityVault},
		{"getFee()", SelGetFee},
		{"safelyGetStateOfAMM()", SelSafelyGetStateOfAMM},
	}
}
