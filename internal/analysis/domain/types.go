// Package domain contains the business logic for bytecode analysis.
package domain

import (
	"github.com/pendergraft/whichdex/internal/chains/evm"
)

// AnalyzeRequest is the request to analyze one contract. Either Bytecode or
// Address must be set. RPCURL is required to fetch by address and to resolve
// a minimal proxy's implementation.
type AnalyzeRequest struct {
	RPCURL   string `json:"rpcUrl,omitempty"`
	Address  string `json:"address,omitempty"`
	Bytecode string `json:"bytecode,omitempty"` // hex, 0x prefix optional
}

// ProtocolCandidate is one of several protocols matching ambiguous bytecode.
type ProtocolCandidate struct {
	Protocol   string `json:"protocol"`
	Confidence int    `json:"confidence"`
}

// FingerprintReport describes the similarity digest of analyzed bytecode.
type FingerprintReport struct {
	Hash           string `json:"hash"`
	Version        string `json:"version"`
	OriginalSize   int    `json:"originalSize"`
	NormalizedSize int    `json:"normalizedSize"`
}

// BytecodeAnalysis is the classification and fingerprint of one bytecode blob.
type BytecodeAnalysis struct {
	Address    string              `json:"address,omitempty"`
	CodeSize   int                 `json:"codeSize"`
	Protocol   string              `json:"protocol"`
	Candidates []ProtocolCandidate `json:"protocolCandidates,omitempty"`
	// IsPoolLikely is true when a single protocol was identified.
	IsPoolLikely bool `json:"isPoolLikely"`

	Fingerprint      *FingerprintReport `json:"fingerprint,omitempty"`
	FingerprintError string             `json:"fingerprintError,omitempty"`

	Selectors []string `json:"selectors,omitempty"`
}

// AnalyzeReport is the result of analyzing a contract. For an EIP-1167 proxy,
// Analysis describes the implementation and ProxyAnalysis the proxy itself.
type AnalyzeReport struct {
	RPCURL  string `json:"rpcUrl,omitempty"`
	Address string `json:"address,omitempty"`

	IsEIP1167Proxy        bool   `json:"isEip1167Proxy"`
	ImplementationAddress string `json:"implementationAddress,omitempty"`

	Analysis      BytecodeAnalysis  `json:"analysis"`
	ProxyAnalysis *BytecodeAnalysis `json:"proxyAnalysis,omitempty"`

	SelectorTableVersion string `json:"selectorTableVersion"`
}

// CodeSource identifies bytecode either inline or by address.
type CodeSource struct {
	RPCURL   string `json:"rpcUrl,omitempty"`
	Address  string `json:"address,omitempty"`
	Bytecode string `json:"bytecode,omitempty"`
}

// CompareRequest is the request to compare two contracts.
type CompareRequest struct {
	A CodeSource `json:"a"`
	B CodeSource `json:"b"`
}

// CompareReport is the result of comparing two contracts. Minimal proxies are
// resolved to their implementation before comparing.
type CompareReport struct {
	A CompareSide `json:"a"`
	B CompareSide `json:"b"`
	*evm.CompareResult
}

// CompareSide describes the code that was compared for one side.
type CompareSide struct {
	Address               string `json:"address,omitempty"`
	ImplementationAddress string `json:"implementationAddress,omitempty"`
	CodeSize              int    `json:"codeSize"`
	Protocol              string `json:"protocol"`
}

// ManyResult is the outcome of analyzing one address of a batch.
type ManyResult struct {
	Address string
	Report  *AnalyzeReport
	Err     error
}
