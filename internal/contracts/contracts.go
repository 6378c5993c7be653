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

// Package contracts holds the ABIs of the prover and verifier contracts and
// the Go types their tuples map to.
package contracts

import (
	"bytes"
	_ "embed"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed abi/LexProofProver.json
var proverABIJSON []byte

//go:embed abi/LexProofVerifier.json
var verifierABIJSON []byte

var (
	proverABI   = mustParseABI(proverABIJSON)
	verifierABI = mustParseABI(verifierABIJSON)
)

// DNS TXT record type, as carried in DnsRecord.RecordType.
const RecordTypeTXT uint8 = 16

// DnsRecord is the DKIM key record the prover checks the signature against.
type DnsRecord struct {
	Name       string
	RecordType uint8
	Data       string
	ValidUntil uint64
}

// VerificationData is the DNS service's signature over a DnsRecord.
type VerificationData struct {
	ValidUntil uint64
	Signature  []byte
}

// UnverifiedEmail is the pre-verified email passed to the prover's main.
type UnverifiedEmail struct {
	Email            string
	DnsRecord        DnsRecord
	VerificationData VerificationData
}

// Seal is the proof seal. Field order mirrors the ABI tuple.
type Seal struct {
	VerifierSelector [4]byte
	Seal             [8][32]byte
	Mode             uint8
}

// CallAssumptions pin the chain state the proof was computed against.
type CallAssumptions struct {
	ProverContractAddress common.Address
	FunctionSelector      [4]byte
	SettleChainId         *big.Int
	SettleBlockNumber     *big.Int
	SettleBlockHash       [32]byte
}

// Proof is the proving service's proof tuple.
type Proof struct {
	Seal            Seal
	CallGuestId     [32]byte
	Length          *big.Int
	CallAssumptions CallAssumptions
}

// ProofResult is the prover's return value and the verifier's argument list.
type ProofResult struct {
	Proof           Proof
	EmailHash       [32]byte
	EmailFromDomain string
	Sender          common.Address
}

// PackProverMain encodes calldata for main(unverifiedEmail, targetWallet).
func PackProverMain(email UnverifiedEmail, targetWallet common.Address) ([]byte, error) {
	data, err := proverABI.Pack("main", email, targetWallet)
	if err != nil {
		return nil, fmt.Errorf("pack prover main: %w", err)
	}
	return data, nil
}

// PackVerify encodes calldata for verify(proof, emailHash, emailFromDomain, sender).
func PackVerify(r ProofResult) ([]byte, error) {
	data, err := verifierABI.Pack("verify", r.Proof, r.EmailHash, r.EmailFromDomain, r.Sender)
	if err != nil {
		return nil, fmt.Errorf("pack verify: %w", err)
	}
	return data, nil
}

// PackMainResult ABI-encodes a result the way the prover returns it.
func PackMainResult(r ProofResult) ([]byte, error) {
	return proverABI.Methods["main"].Outputs.Pack(r.Proof, r.EmailHash, r.EmailFromDomain, r.Sender)
}

// DecodeMainResult decodes the prover's ABI-encoded return value.
func DecodeMainResult(data []byte) (r ProofResult, err error) {
	out, err := proverABI.Unpack("main", data)
	if err != nil {
		return ProofResult{}, fmt.Errorf("unpack prover result: %w", err)
	}
	if len(out) != 4 {
		return ProofResult{}, fmt.Errorf("prover result has %d values, want 4", len(out))
	}

	// ConvertType panics on a shape mismatch
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("convert prover result: %v", p)
		}
	}()

	r.Proof = *abi.ConvertType(out[0], new(Proof)).(*Proof)
	r.EmailHash = *abi.ConvertType(out[1], new([32]byte)).(*[32]byte)
	domain, ok := out[2].(string)
	if !ok {
		return ProofResult{}, fmt.Errorf("emailFromDomain has type %T", out[2])
	}
	r.EmailFromDomain = domain
	r.Sender = *abi.ConvertType(out[3], new(common.Address)).(*common.Address)
	return r, nil
}

func mustParseABI(data []byte) abi.ABI {
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		panic(fmt.Sprintf("parse contract ABI: %v", err))
	}
	return parsed
}
