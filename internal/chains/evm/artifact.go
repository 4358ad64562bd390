package evm

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrNoRuntimeCode is returned when an artifact carries no deployed bytecode.
var ErrNoRuntimeCode = errors.New("artifact has no deployed bytecode")

// deployedBytecodeField accepts both the Foundry object form and the Hardhat string form.
type deployedBytecodeField struct {
	hex string
}

func (f *deployedBytecodeField) UnmarshalJSON(data []byte) error {
	// Hardhat: "deployedBytecode": "0x..."
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f.hex = s
		return nil
	}

	// Foundry: "deployedBytecode": {"object": "0x...", ...}
	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	f.hex = obj.Object
	return nil
}

// ReadArtifactRuntimeCode reads the deployed bytecode from a Foundry or Hardhat artifact.
func ReadArtifactRuntimeCode(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}

	var raw struct {
		DeployedBytecode deployedBytecodeField `json:"deployedBytecode"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing artifact JSON: %w", err)
	}

	// Interfaces and abstract contracts have no runtime code
	if raw.DeployedBytecode.hex == "" || raw.DeployedBytecode.hex == "0x" {
		return nil, ErrNoRuntimeCode
	}

	return DecodeHex(raw.DeployedBytecode.hex)
}

// DecodeHex decodes bytecode hex with or without a 0x prefix. Surrounding
// whitespace is ignored so hex files can be read directly.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decoding bytecode hex: %w", err)
	}
	return b, nil
}
