// Package chains provides the chain module interfaces through which bytecode
// is fetched from a blockchain node.
package chains

import (
	"context"
	"sort"
	"time"
)

// Chain represents a blockchain ecosystem that can serve deployed bytecode.
type Chain interface {
	// Metadata
	Name() string        // "evm"
	DisplayName() string // "Ethereum/EVM"

	// GetDeployedBytecode returns the runtime code at address, or an empty
	// slice when the account has no code.
	GetDeployedBytecode(ctx context.Context, rpc string, address string) ([]byte, error)
}

// Registry holds all registered chain modules
type Registry struct {
	chains map[string]Chain
}

// NewRegistry creates a new chain registry
func NewRegistry() *Registry {
	return &Registry{
		chains: make(map[string]Chain),
	}
}

// Register adds a chain module to the registry
func (r *Registry) Register(c Chain) {
	r.chains[c.Name()] = c
}

// Get retrieves a chain module by name
func (r *Registry) Get(name string) (Chain, bool) {
	c, ok := r.chains[name]
	return c, ok
}

// List returns all registered chain modules sorted by name
func (r *Registry) List() []Chain {
	chains := make([]Chain, 0, len(r.chains))
	for _, c := range r.chains {
		chains = append(chains, c)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].Name() < chains[j].Name() })
	return chains
}

// Fetcher bounds every bytecode fetch of one chain module by a timeout.
type Fetcher struct {
	chain   Chain
	timeout time.Duration
}

// NewFetcher wraps c. A non-positive timeout disables the bound.
func NewFetcher(c Chain, timeout time.Duration) *Fetcher {
	return &Fetcher{chain: c, timeout: timeout}
}

// GetDeployedBytecode fetches the runtime code at address through rpc.
func (f *Fetcher) GetDeployedBytecode(ctx context.Context, rpc string, address string) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return f.chain.GetDeployedBytecode(ctx, rpc, address)
}
