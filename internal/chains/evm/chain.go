// Package evm provides the EVM chain module: bytecode fetching, normalization,
// fingerprinting, proxy resolution and DEX protocol classification.
package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// CodeReader is the subset of an Ethereum JSON-RPC client used to read code.
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	Close()
}

// DialFunc opens a CodeReader for an RPC endpoint.
type DialFunc func(ctx context.Context, rpc string) (CodeReader, error)

// DialEthClient dials rpc with go-ethereum's ethclient.
func DialEthClient(ctx context.Context, rpc string) (CodeReader, error) {
	c, err := ethclient.DialContext(ctx, rpc)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Chain implements the chains.Chain interface for EVM-compatible blockchains
type Chain struct {
	dial DialFunc
}

// ChainOption configures a Chain
type ChainOption func(*Chain)

// WithDialer overrides how RPC connections are opened.
func WithDialer(dial DialFunc) ChainOption {
	return func(c *Chain) {
		c.dial = dial
	}
}

// NewChain creates a new EVM chain module
func NewChain(opts ...ChainOption) *Chain {
	c := &Chain{dial: DialEthClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the chain identifier
func (c *Chain) Name() string {
	return "evm"
}

// DisplayName returns a human-readable name
func (c *Chain) DisplayName() string {
	return "Ethereum/EVM"
}

// GetDeployedBytecode fetches the runtime bytecode at address from the latest block.
func (c *Chain) GetDeployedBytecode(ctx context.Context, rpc string, address string) ([]byte, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}

	client, err := c.dial(ctx, rpc)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", rpc, err)
	}
	defer client.Close()

	code, err := client.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("eth_getCode %s: %w", address, err)
	}
	return code, nil
}
