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

// Package prover talks to the email-proof proving service: it resolves the
// DKIM key record for an email, submits a v_call for the prover contract and
// polls for the resulting proof.
package prover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/oauth2"

	"github.com/lexproof/backend/internal/contracts"
)

// ErrProofTimeout is returned when the proof is not ready before the
// context deadline.
var ErrProofTimeout = errors.New("timed out waiting for proof")

// Options configures a Client.
type Options struct {
	URL            string
	Token          string
	DNSResolverURL string
	ProverAddress  common.Address
	ChainID        int64
	GasLimit       uint64
	PollInterval   time.Duration
}

// Client is a proving-service client. JSON-RPC calls and DNS lookups share
// one authenticated HTTP client.
type Client struct {
	httpClient *http.Client
	rpc        *rpc.Client
	opts       Options
}

// NewClient creates a client that attaches opts.Token as a bearer token.
// An empty token yields an unauthenticated client (local prover).
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	httpClient := &http.Client{}
	if opts.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	httpClient.Timeout = 30 * time.Second
	return New(httpClient, opts)
}

// New creates a client from a pre-configured HTTP client.
func New(httpClient *http.Client, opts Options) (*Client, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.GasLimit == 0 {
		opts.GasLimit = 10_000_000
	}
	opts.URL = strings.TrimRight(opts.URL, "/")

	rc, err := rpc.DialHTTPWithClient(opts.URL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("prover rpc client: %w", err)
	}
	return &Client{httpClient: httpClient, rpc: rc, opts: opts}, nil
}

// Close releases the RPC client.
func (c *Client) Close() {
	c.rpc.Close()
}

type callArgs struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

type callContext struct {
	ChainID  int64  `json:"chain_id"`
	GasLimit uint64 `json:"gas_limit"`
}

// Prove submits main(email, targetWallet) to the proving service and returns
// the proof request hash.
func (c *Client) Prove(ctx context.Context, email contracts.UnverifiedEmail, targetWallet common.Address) (string, error) {
	data, err := contracts.PackProverMain(email, targetWallet)
	if err != nil {
		return "", err
	}

	args := callArgs{To: c.opts.ProverAddress.Hex(), Data: hexutil.Encode(data)}
	callCtx := callContext{ChainID: c.opts.ChainID, GasLimit: c.opts.GasLimit}

	var hash string
	if err := c.rpc.CallContext(ctx, &hash, "v_call", args, callCtx); err != nil {
		return "", fmt.Errorf("v_call: %w", err)
	}
	if hash == "" {
		return "", errors.New("v_call returned an empty hash")
	}
	return hash, nil
}

type proofReceipt struct {
	State  string          `json:"state"`
	Status int             `json:"status"`
	Error  string          `json:"error"`
	Data   *receiptPayload `json:"data"`
}

type receiptPayload struct {
	EVMCallResult string          `json:"evm_call_result"`
	Proof         json.RawMessage `json:"proof"`
}

// WaitForResult polls v_getProofReceipt until the proof is done, the service
// reports a failure, or ctx expires.
func (c *Client) WaitForResult(ctx context.Context, hash string) (*contracts.ProofResult, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		var receipt proofReceipt
		if err := c.rpc.CallContext(ctx, &receipt, "v_getProofReceipt", map[string]string{"hash": hash}); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrProofTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("v_getProofReceipt: %w", err)
		}

		switch {
		case receipt.Error != "":
			return nil, fmt.Errorf("proof %s failed in state %q: %s", hash, receipt.State, receipt.Error)
		case receipt.State == "done":
			if receipt.Status != 1 {
				return nil, fmt.Errorf("proof %s finished with status %d", hash, receipt.Status)
			}
			return decodeReceipt(receipt.Data)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrProofTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func decodeReceipt(data *receiptPayload) (*contracts.ProofResult, error) {
	if data == nil || data.EVMCallResult == "" {
		return nil, errors.New("proof receipt has no call result")
	}
	raw, err := hexutil.Decode(data.EVMCallResult)
	if err != nil {
		return nil, fmt.Errorf("decode evm_call_result: %w", err)
	}
	result, err := contracts.DecodeMainResult(raw)
	if err != nil {
		return nil, err
	}

	// The call result carries a placeholder proof; the real one is separate.
	if len(data.Proof) > 0 && string(data.Proof) != "null" {
		proof, err := parseProof(data.Proof)
		if err != nil {
			return nil, err
		}
		result.Proof = proof
	}
	return &result, nil
}
