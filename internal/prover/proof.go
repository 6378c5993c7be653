// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prover

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/lexproof/backend/internal/contracts"
)

// bigNum accepts a JSON number, a decimal string or a 0x hex string.
type bigNum struct{ *big.Int }

func (n *bigNum) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		n.Int = new(big.Int)
		return nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return fmt.Errorf("invalid hex number %q", s)
		}
		n.Int = v
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid number %q", s)
	}
	n.Int = v
	return nil
}

// proofMode accepts the numeric enum value or its name.
type proofMode uint8

func (m *proofMode) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	switch strings.ToLower(s) {
	case "groth16":
		*m = 0
		return nil
	case "fake":
		*m = 1
		return nil
	}
	var n bigNum
	if err := n.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("invalid proof mode %s", b)
	}
	if !n.IsUint64() || n.Uint64() > 255 {
		return fmt.Errorf("proof mode %s out of range", n)
	}
	*m = proofMode(n.Uint64())
	return nil
}

type proofJSON struct {
	Seal struct {
		VerifierSelector string    `json:"verifierSelector"`
		Seal             []string  `json:"seal"`
		Mode             proofMode `json:"mode"`
	} `json:"seal"`
	CallGuestID     string `json:"callGuestId"`
	Length          bigNum `json:"length"`
	CallAssumptions struct {
		ProverContractAddress string `json:"proverContractAddress"`
		FunctionSelector      string `json:"functionSelector"`
		SettleChainID         bigNum `json:"settleChainId"`
		SettleBlockNumber     bigNum `json:"settleBlockNumber"`
		SettleBlockHash       string `json:"settleBlockHash"`
	} `json:"callAssumptions"`
}

func parseProof(raw json.RawMessage) (contracts.Proof, error) {
	var pj proofJSON
	if err := json.Unmarshal(raw, &pj); err != nil {
		return contracts.Proof{}, fmt.Errorf("decode proof: %w", err)
	}

	var p contracts.Proof
	var err error

	if p.Seal.VerifierSelector, err = bytes4(pj.Seal.VerifierSelector); err != nil {
		return p, fmt.Errorf("seal.verifierSelector: %w", err)
	}
	if len(pj.Seal.Seal) != len(p.Seal.Seal) {
		return p, fmt.Errorf("seal has %d words, want %d", len(pj.Seal.Seal), len(p.Seal.Seal))
	}
	for i, word := range pj.Seal.Seal {
		if p.Seal.Seal[i], err = bytes32(word); err != nil {
			return p, fmt.Errorf("seal[%d]: %w", i, err)
		}
	}
	p.Seal.Mode = uint8(pj.Seal.Mode)

	if p.CallGuestId, err = bytes32(pj.CallGuestID); err != nil {
		return p, fmt.Errorf("callGuestId: %w", err)
	}
	p.Length = orZero(pj.Length)

	ca := pj.CallAssumptions
	if !common.IsHexAddress(ca.ProverContractAddress) {
		return p, fmt.Errorf("callAssumptions.proverContractAddress %q is not an address", ca.ProverContractAddress)
	}
	p.CallAssumptions.ProverContractAddress = common.HexToAddress(ca.ProverContractAddress)
	if p.CallAssumptions.FunctionSelector, err = bytes4(ca.FunctionSelector); err != nil {
		return p, fmt.Errorf("callAssumptions.functionSelector: %w", err)
	}
	p.CallAssumptions.SettleChainId = orZero(ca.SettleChainID)
	p.CallAssumptions.SettleBlockNumber = orZero(ca.SettleBlockNumber)
	if p.CallAssumptions.SettleBlockHash, err = bytes32(ca.SettleBlockHash); err != nil {
		return p, fmt.Errorf("callAssumptions.settleBlockHash: %w", err)
	}
	return p, nil
}

func orZero(n bigNum) *big.Int {
	if n.Int == nil {
		return new(big.Int)
	}
	return n.Int
}

func bytes4(s string) ([4]byte, error) {
	var out [4]byte
	b, err := hexutil.Decode(s)
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("got %d bytes, want 4", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func bytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hexutil.Decode(s)
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("got %d bytes, want 32", len(b))
	}
	copy(out[:], b)
	return out, nil
}
