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

package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lexproof/backend/internal/contracts"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

const verifierAddr = "0x5555555555555555555555555555555555555555"

// --- Mock backend ---

type mockBackend struct {
	callErr error
	sendErr error
	calls   []ethereum.CallMsg
	sent    []*types.Transaction
}

func (m *mockBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(11155111), nil
}

func (m *mockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (m *mockBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), BaseFee: big.NewInt(3_000_000_000)}, nil
}

func (m *mockBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 500_000, nil
}

func (m *mockBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.calls = append(m.calls, call)
	return nil, m.callErr
}

func (m *mockBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, tx)
	return nil
}

func testResult() contracts.ProofResult {
	var r contracts.ProofResult
	r.Proof.Length = big.NewInt(576)
	r.Proof.CallAssumptions.SettleChainId = big.NewInt(11155111)
	r.Proof.CallAssumptions.SettleBlockNumber = big.NewInt(1)
	r.EmailFromDomain = "example.com"
	r.Sender = common.HexToAddress("0x2222222222222222222222222222222222222222")
	return r
}

// --- Tests ---

func TestVerifySendsSignedTransaction(t *testing.T) {
	backend := &mockBackend{}
	v, err := NewVerifier(backend, "0x"+testKey, verifierAddr)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	hash, err := v.Verify(context.Background(), testResult())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if len(backend.calls) != 1 {
		t.Fatalf("simulations = %d, want 1", len(backend.calls))
	}
	if backend.calls[0].From != v.From() {
		t.Error("simulation not sent from the signing account")
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(backend.sent))
	}

	tx := backend.sent[0]
	if tx.Hash() != hash {
		t.Error("returned hash does not match sent transaction")
	}
	if tx.Type() != types.DynamicFeeTxType {
		t.Errorf("tx type = %d, want dynamic fee", tx.Type())
	}
	if tx.Nonce() != 7 {
		t.Errorf("nonce = %d, want 7", tx.Nonce())
	}
	if tx.Gas() != 600_000 {
		t.Errorf("gas = %d, want 600000", tx.Gas())
	}
	if tx.GasFeeCap().Int64() != 7_000_000_000 {
		t.Errorf("fee cap = %s", tx.GasFeeCap())
	}
	if *tx.To() != common.HexToAddress(verifierAddr) {
		t.Errorf("to = %s", tx.To().Hex())
	}

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(11155111)), tx)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	key, _ := crypto.HexToECDSA(testKey)
	if sender != crypto.PubkeyToAddress(key.PublicKey) {
		t.Errorf("signer = %s", sender.Hex())
	}
}

func TestVerifyRevertSendsNothing(t *testing.T) {
	backend := &mockBackend{callErr: errors.New("execution reverted: InvalidProof")}
	v, err := NewVerifier(backend, testKey, verifierAddr)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	_, err = v.Verify(context.Background(), testResult())
	if !errors.Is(err, ErrReverted) {
		t.Fatalf("err = %v, want ErrReverted", err)
	}
	if len(backend.sent) != 0 {
		t.Error("transaction sent after revert")
	}
}

func TestVerifySendError(t *testing.T) {
	backend := &mockBackend{sendErr: errors.New("nonce too low")}
	v, _ := NewVerifier(backend, testKey, verifierAddr)

	if _, err := v.Verify(context.Background(), testResult()); err == nil {
		t.Fatal("expected send error")
	}
}

func TestNewVerifierValidation(t *testing.T) {
	if _, err := NewVerifier(&mockBackend{}, "zz", verifierAddr); err == nil {
		t.Error("expected error for bad key")
	}
	if _, err := NewVerifier(&mockBackend{}, testKey, "not-an-address"); err == nil {
		t.Error("expected error for bad address")
	}
}
