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

package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lexproof/backend/internal/contracts"
	"github.com/lexproof/backend/internal/models"
	"github.com/lexproof/backend/internal/nylas"
)

var (
	// ErrNoPendingRecord means there is no unprocessed record to prove.
	ErrNoPendingRecord = errors.New("no unprocessed emails found")

	// ErrMissingMessageID means the notification carried no message id.
	ErrMissingMessageID = errors.New("notification has no message id")
)

// Pipeline stage names, as reported in StageError.
const (
	StageLookup    = "lookup"
	StageClaim     = "claim"
	StageRetrieve  = "retrieve"
	StagePreverify = "preverify"
	StageProve     = "prove"
	StageVerify    = "verify"
	StageCommit    = "commit"
)

// StageError is a pipeline failure tagged with the stage it happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// RecordStore is the part of the email record store the processor uses.
type RecordStore interface {
	LatestUnprocessed(ctx context.Context) (*models.EmailRecord, error)
	ClaimLatestUnprocessed(ctx context.Context) (*models.EmailRecord, error)
	ReleaseClaim(ctx context.Context, id int64) error
	MarkProcessed(ctx context.Context, id int64, sender, txHash string) error
}

// MailFetcher reads messages from the provider.
type MailFetcher interface {
	LatestMessage(ctx context.Context, grantID string) (*nylas.Message, error)
	FetchRawMIME(ctx context.Context, grantID, messageID string) ([]byte, error)
}

// Prover produces an email proof.
type Prover interface {
	Preverify(ctx context.Context, raw []byte) (contracts.UnverifiedEmail, error)
	Prove(ctx context.Context, email contracts.UnverifiedEmail, targetWallet common.Address) (string, error)
	WaitForResult(ctx context.Context, hash string) (*contracts.ProofResult, error)
}

// ChainVerifier submits a proof to the on-chain verifier.
type ChainVerifier interface {
	Verify(ctx context.Context, result contracts.ProofResult) (common.Hash, error)
}

// DedupFilter remembers notification ids already taken.
type DedupFilter interface {
	IsNew(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// EventPublisher announces committed proofs.
type EventPublisher interface {
	PublishProofEvent(ctx context.Context, event *models.ProofEvent) error
}

// Notification is a new-message notification for one mailbox.
type Notification struct {
	MessageID string
	GrantID   string
}

// Outcome describes a handled notification.
type Outcome struct {
	Skipped    string `json:"skipped,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	RecordID   int64  `json:"recordId,omitempty"`
	UniqueHash string `json:"uniqueHash,omitempty"`
	TxHash     string `json:"txHash,omitempty"`
}

// Processor runs the proof pipeline for inbound notifications.
type Processor struct {
	records      RecordStore
	mail         MailFetcher
	prover       Prover
	verifier     ChainVerifier
	filter       DedupFilter
	publisher    EventPublisher
	grantID      string
	proofTimeout time.Duration
}

// NewProcessor creates a processor for notifications of the inbox grantID.
// filter and publisher may be nil.
func NewProcessor(
	records RecordStore,
	mail MailFetcher,
	prover Prover,
	verifier ChainVerifier,
	filter DedupFilter,
	publisher EventPublisher,
	grantID string,
	proofTimeout time.Duration,
) *Processor {
	return &Processor{
		records:      records,
		mail:         mail,
		prover:       prover,
		verifier:     verifier,
		filter:       filter,
		publisher:    publisher,
		grantID:      grantID,
		proofTimeout: proofTimeout,
	}
}

// Process handles one notification: it proves the newest unprocessed record
// against the notified message and commits the verifier transaction hash.
func (p *Processor) Process(ctx context.Context, n Notification) (*Outcome, error) {
	pending, err := p.records.LatestUnprocessed(ctx)
	if err != nil {
		return nil, stageErr(StageLookup, err)
	}
	if pending == nil {
		return nil, ErrNoPendingRecord
	}

	if n.GrantID != p.grantID {
		slog.Info("ignoring notification for another account", "grant_id", n.GrantID)
		return &Outcome{Skipped: "grant mismatch"}, nil
	}

	messageID := nylas.ExtractMessageID(n.MessageID)
	if messageID == "" {
		return nil, ErrMissingMessageID
	}

	if p.filter != nil {
		isNew, err := p.filter.IsNew(ctx, messageID)
		if err != nil {
			slog.Warn("dedup check failed, proceeding", "error", err)
		} else if !isNew {
			slog.Info("skipping duplicate notification", "message_id", messageID)
			return &Outcome{Duplicate: true}, nil
		}
	}

	out, err := p.run(ctx, messageID)
	if err != nil && p.filter != nil {
		if ferr := p.filter.Forget(context.WithoutCancel(ctx), messageID); ferr != nil {
			slog.Warn("failed to forget notification", "message_id", messageID, "error", ferr)
		}
	}
	return out, err
}

// ProveLatest proves the newest message in the inbox. It is the manual
// counterpart of Process and bypasses the notification dedup.
func (p *Processor) ProveLatest(ctx context.Context) (*Outcome, error) {
	pending, err := p.records.LatestUnprocessed(ctx)
	if err != nil {
		return nil, stageErr(StageLookup, err)
	}
	if pending == nil {
		return nil, ErrNoPendingRecord
	}

	msg, err := p.mail.LatestMessage(ctx, p.grantID)
	if err != nil {
		return nil, stageErr(StageRetrieve, err)
	}
	messageID := nylas.ExtractThreadMessageID(msg.ThreadID)
	if messageID == "" {
		return nil, ErrMissingMessageID
	}
	return p.run(ctx, messageID)
}

// run claims the newest unprocessed record and takes it through the
// remaining stages. A failed run releases the claim.
func (p *Processor) run(ctx context.Context, messageID string) (*Outcome, error) {
	rec, err := p.records.ClaimLatestUnprocessed(ctx)
	if err != nil {
		return nil, stageErr(StageClaim, err)
	}
	if rec == nil {
		return nil, ErrNoPendingRecord
	}

	log := slog.With("record_id", rec.ID, "message_id", messageID)
	log.Info("processing email proof")

	txHash, err := p.prove(ctx, log, rec, messageID)
	if err != nil {
		var se *StageError
		stage := "unknown"
		if errors.As(err, &se) {
			stage = se.Stage
		}
		log.Error("email proof failed", "stage", stage, "error", err)

		if rerr := p.records.ReleaseClaim(context.WithoutCancel(ctx), rec.ID); rerr != nil {
			log.Error("failed to release claim", "error", rerr)
		}
		return nil, err
	}

	log.Info("email proof committed", "tx_hash", txHash)

	if p.publisher != nil {
		event := &models.ProofEvent{
			RecordID:   rec.ID,
			UniqueHash: rec.UniqueHash,
			Sender:     rec.Sender,
			TxHash:     txHash,
			MessageID:  messageID,
		}
		if err := p.publisher.PublishProofEvent(ctx, event); err != nil {
			log.Warn("failed to publish proof event", "error", err)
		}
	}

	return &Outcome{RecordID: rec.ID, UniqueHash: rec.UniqueHash, TxHash: txHash}, nil
}

func (p *Processor) prove(ctx context.Context, log *slog.Logger, rec *models.EmailRecord, messageID string) (string, error) {
	if !common.IsHexAddress(rec.Sender) {
		return "", stageErr(StageProve, fmt.Errorf("record sender %q is not a wallet address", rec.Sender))
	}
	target := common.HexToAddress(rec.Sender)

	raw, err := p.mail.FetchRawMIME(ctx, p.grantID, messageID)
	if err != nil {
		return "", stageErr(StageRetrieve, err)
	}

	email, err := p.prover.Preverify(ctx, raw)
	if err != nil {
		return "", stageErr(StagePreverify, err)
	}

	proveCtx := ctx
	if p.proofTimeout > 0 {
		var cancel context.CancelFunc
		proveCtx, cancel = context.WithTimeout(ctx, p.proofTimeout)
		defer cancel()
	}

	hash, err := p.prover.Prove(proveCtx, email, target)
	if err != nil {
		return "", stageErr(StageProve, err)
	}
	log.Info("proof requested", "proof_hash", hash)

	result, err := p.prover.WaitForResult(proveCtx, hash)
	if err != nil {
		return "", stageErr(StageProve, err)
	}

	tx, err := p.verifier.Verify(ctx, *result)
	if err != nil {
		return "", stageErr(StageVerify, err)
	}
	txHash := tx.Hex()

	if err := p.records.MarkProcessed(ctx, rec.ID, rec.Sender, txHash); err != nil {
		log.Error("verifier transaction sent but commit failed", "tx_hash", txHash, "error", err)
		return "", stageErr(StageCommit, err)
	}
	return txHash, nil
}
