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

// Package chain submits verify transactions to the on-chain proof verifier.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/lexproof/backend/internal/contracts"
)

// ErrReverted is returned when the simulated verify call reverts.
var ErrReverted = errors.New("verify call reverted")

// Backend is the subset of an Ethereum JSON-RPC client the verifier needs.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Verifier signs and sends verify(...) calls from a single account.
type Verifier struct {
	backend  Backend
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
}

// Dial connects to rpcURL and returns a Verifier for the contract at
// verifierAddress.
func Dial(ctx context.Context, rpcURL, privateKeyHex, verifierAddress string) (*Verifier, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	v, err := NewVerifier(client, privateKeyHex, verifierAddress)
	if err != nil {
		client.Close()
		return nil, err
	}
	return v, nil
}

// NewVerifier creates a Verifier on an existing backend.
func NewVerifier(backend Backend, privateKeyHex, verifierAddress string) (*Verifier, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse chain private key: %w", err)
	}
	if !common.IsHexAddress(verifierAddress) {
		return nil, fmt.Errorf("invalid verifier address %q", verifierAddress)
	}
	return &Verifier{
		backend:  backend,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		contract: common.HexToAddress(verifierAddress),
	}, nil
}

// From returns the address transactions are sent from.
func (v *Verifier) From() common.Address {
	return v.from
}

// Verify simulates verify(result) and, if it would succeed, signs and sends
// it. It returns the transaction hash without waiting for inclusion.
func (v *Verifier) Verify(ctx context.Context, result contracts.ProofResult) (common.Hash, error) {
	data, err := contracts.PackVerify(result)
	if err != nil {
		return common.Hash{}, err
	}
	msg := ethereum.CallMsg{From: v.from, To: &v.contract, Data: data}

	if _, err := v.backend.CallContract(ctx, msg, nil); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrReverted, err)
	}

	tx, err := v.buildTx(ctx, msg)
	if err != nil {
		return common.Hash{}, err
	}
	if err := v.backend.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("send verify transaction: %w", err)
	}
	return tx.Hash(), nil
}

func (v *Verifier) buildTx(ctx context.Context, msg ethereum.CallMsg) (*types.Transaction, error) {
	chainID, err := v.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	nonce, err := v.backend.PendingNonceAt(ctx, v.from)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	tip, err := v.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip: %w", err)
	}
	head, err := v.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get latest header: %w", err)
	}
	gas, err := v.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	// feeCap = 2*baseFee + tip
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5,
		To:        msg.To,
		Data:      msg.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), v.key)
	if err != nil {
		return nil, fmt.Errorf("sign verify transaction: %w", err)
	}
	return signed, nil
}
