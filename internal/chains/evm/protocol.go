package evm

import (
	"fmt"
	"sort"
)

// Protocol identifies a DEX protocol variant by its pool interface.
type Protocol int

const (
	Unknown Protocol = iota
	UniswapV2
	UniswapV3
	Solidly               // Solidly / Velodrome / Aerodrome
	AlgebraLegacyV1       // pre-plugin Algebra v1.x
	AlgebraLegacyV1_9Plus // Algebra v1.9+ with plugin()
	AlgebraIntegral       // plugin() + getFee()
)

var protocolNames = map[Protocol]string{
	Unknown:               "Unknown",
	UniswapV2:             "UniswapV2",
	UniswapV3:             "UniswapV3",
	Solidly:               "Solidly",
	AlgebraLegacyV1:       "AlgebraLegacyV1",
	AlgebraLegacyV1_9Plus: "AlgebraLegacyV1_9Plus",
	AlgebraIntegral:       "AlgebraIntegral",
}

// String returns the canonical protocol name.
func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Protocol(%d)", int(p))
}

// ParseProtocol resolves a canonical protocol name.
func ParseProtocol(name string) (Protocol, error) {
	for p, n := range protocolNames {
		if n == name {
			return p, nil
		}
	}
	return Unknown, fmt.Errorf("unknown protocol %q", name)
}

// IsV2Style reports whether p is a constant product AMM.
func (p Protocol) IsV2Style() bool {
	return p == UniswapV2 || p == Solidly
}

// IsV3Style reports whether p is a concentrated liquidity AMM.
func (p Protocol) IsV3Style() bool {
	switch p {
	case UniswapV3, AlgebraLegacyV1, AlgebraLegacyV1_9Plus, AlgebraIntegral:
		return true
	}
	return false
}

// template is the selector signature of one protocol variant.
type template struct {
	protocol  Protocol
	required  []Selector // all must be present
	forbidden []Selector // none may be present
	optional  []Selector // each present one adds confidence
}

func (t template) matches(bytecode []byte) bool {
	for _, s := range t.required {
		if !s.In(bytecode) {
			return false
		}
	}
	for _, s := range t.forbidden {
		if s.In(bytecode) {
			return false
		}
	}
	return true
}

func (t template) confidence(bytecode []byte) int {
	if !t.matches(bytecode) {
		return 0
	}
	score := len(t.required)
	for _, s := range t.optional {
		if s.In(bytecode) {
			score++
		}
	}
	return score
}

// templates is ordered by specificity, most specific first.
var templates = []template{
	{
		protocol:  AlgebraIntegral,
		required:  []Selector{SelToken0, SelToken1, SelGlobalState, SelTickSpacing, SelLiquidity, SelPlugin, SelGetFee},
		forbidden: []Selector{SelSlot0, SelDataStorageOperator},
		optional:  []Selector{SelCommunityVault},
	},
	{
		protocol:  AlgebraLegacyV1_9Plus,
		required:  []Selector{SelToken0, SelToken1, SelGlobalState, SelTickSpacing, SelLiquidity, SelPlugin},
		forbidden: []Selector{SelSlot0, SelGetFee},
		optional:  []Selector{SelDataStorageOperator},
	},
	{
		protocol:  AlgebraLegacyV1,
		required:  []Selector{SelToken0, SelToken1, SelGlobalState, SelTickSpacing, SelLiquidity, SelDataStorageOperator},
		forbidden: []Selector{SelSlot0, SelPlugin},
		optional:  []Selector{SelGetInnerCumulatives},
	},
	{
		protocol:  UniswapV3,
		required:  []Selector{SelToken0, SelToken1, SelSlot0, SelFee, SelTickSpacing, SelLiquidity},
		forbidden: []Selector{SelGlobalState, SelStable},
		optional:  []Selector{SelTicks, SelPositions},
	},
	{
		protocol:  Solidly,
		required:  []Selector{SelToken0, SelToken1, SelGetReserves, SelStable},
		forbidden: []Selector{SelSlot0, SelKLast},
		optional:  []Selector{SelClaimFees, SelCurrentCumulativePrices},
	},
	{
		// Many V2 forks share this interface exactly
		protocol:  UniswapV2,
		required:  []Selector{SelToken0, SelToken1, SelGetReserves, SelKLast},
		forbidden: []Selector{SelSlot0, SelStable, SelGlobalState},
		optional:  []Selector{SelPrice0CumulativeLast, SelPrice1CumulativeLast, SelFactory},
	},
}

// ProtocolMatch is a template that matched with the given confidence.
type ProtocolMatch struct {
	Protocol   Protocol
	Confidence int
}

// MatchProtocols returns every template with nonzero confidence, ordered by
// confidence descending then protocol name ascending.
func MatchProtocols(bytecode []byte) []ProtocolMatch {
	var matches []ProtocolMatch
	for _, t := range templates {
		if c := t.confidence(bytecode); c > 0 {
			matches = append(matches, ProtocolMatch{Protocol: t.protocol, Confidence: c})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Protocol.String() < matches[j].Protocol.String()
	})
	return matches
}

// Classification is the outcome of selector-based protocol identification.
type Classification struct {
	Protocol Protocol
	// Candidates is set only when several templates matched; Protocol is then Unknown.
	Candidates []ProtocolMatch
}

// Ambiguous reports whether more than one template matched.
func (c Classification) Ambiguous() bool {
	return len(c.Candidates) > 1
}

// Classify identifies the protocol of bytecode. Ambiguous matches are surfaced
// as candidates rather than resolved to a single guess.
func Classify(bytecode []byte) Classification {
	matches := MatchProtocols(bytecode)
	switch len(matches) {
	case 0:
		return Classification{Protocol: Unknown}
	case 1:
		return Classification{Protocol: matches[0].Protocol}
	default:
		return Classification{Protocol: Unknown, Candidates: matches}
	}
}
