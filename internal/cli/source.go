package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/pendergraft/whichdex/internal/chains/evm"
)

// codeSource is one contract to analyze: either an on-chain address or
// bytecode read from the command line, a hex file, or an artifact.
type codeSource struct {
	Label   string
	Address string
	Code    []byte
}

// OnChain reports whether the code must be fetched over RPC.
func (s codeSource) OnChain() bool {
	return s.Address != "" && s.Code == nil
}

// Hex returns the inline code as 0x-prefixed hex.
func (s codeSource) Hex() string {
	return hexutil.Encode(s.Code)
}

// parseSource interprets a positional argument. An address is fetched over
// RPC; a path ending in .json is read as a Foundry or Hardhat artifact; any
// other existing path is read as a hex file; a 0x string is inline bytecode.
func parseSource(arg string) (codeSource, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return codeSource{}, errors.New("empty source")
	}

	if len(arg) == 42 && common.IsHexAddress(arg) {
		return codeSource{Label: strings.ToLower(arg), Address: arg}, nil
	}

	if _, err := os.Stat(arg); err == nil {
		if strings.EqualFold(filepath.Ext(arg), ".json") {
			return artifactSource(arg)
		}
		return hexFileSource(arg)
	}

	if strings.HasPrefix(arg, "0x") || strings.HasPrefix(arg, "0X") {
		code, err := evm.DecodeHex(arg)
		if err != nil {
			return codeSource{}, err
		}
		return codeSource{Label: "inline", Code: code}, nil
	}

	return codeSource{}, fmt.Errorf("%q is not an address, a 0x bytecode string, or an existing file", arg)
}

func artifactSource(path string) (codeSource, error) {
	code, err := evm.ReadArtifactRuntimeCode(path)
	if err != nil {
		return codeSource{}, fmt.Errorf("%s: %w", path, err)
	}
	return codeSource{Label: path, Code: code}, nil
}

func hexFileSource(path string) (codeSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return codeSource{}, err
	}
	code, err := evm.DecodeHex(string(data))
	if err != nil {
		return codeSource{}, fmt.Errorf("%s: %w", path, err)
	}
	return codeSource{Label: path, Code: code}, nil
}

// sourceFlags are the explicit alternatives to positional sources.
type sourceFlags struct {
	addresses []string
	artifacts []string
	files     []string
	bytecode  []string
}

// collect merges positional arguments and flags into one ordered list.
func (f sourceFlags) collect(args []string) ([]codeSource, error) {
	var sources []codeSource

	for _, arg := range args {
		src, err := parseSource(arg)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	for _, addr := range f.addresses {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid address %q", addr)
		}
		sources = append(sources, codeSource{Label: strings.ToLower(addr), Address: addr})
	}
	for _, path := range f.artifacts {
		src, err := artifactSource(path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	for _, path := range f.files {
		src, err := hexFileSource(path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	for _, hex := range f.bytecode {
		code, err := evm.DecodeHex(hex)
		if err != nil {
			return nil, err
		}
		sources = append(sources, codeSource{Label: "inline", Code: code})
	}

	return sources, nil
}
