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

// Package dispatch sends outbound LexProof emails and records them,
// encrypted, for later proving.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lexproof/backend/internal/models"
	"github.com/lexproof/backend/internal/nylas"
	"github.com/lexproof/backend/internal/store"
)

// ErrSendFailed wraps provider send failures.
var ErrSendFailed = errors.New("email send failed")

// ErrPersistFailed wraps failures to encrypt or store a sent email.
var ErrPersistFailed = errors.New("sent email could not be recorded")

// ValidationError reports missing or malformed request fields.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

// SendRequest is the body of POST /api/email/send.
type SendRequest struct {
	To               string `json:"to"`
	CC               string `json:"cc"`
	Subject          string `json:"subject"`
	Message          string `json:"message"`
	From             string `json:"from"`
	VerificationLink string `json:"verificationLink,omitempty"`
}

// Validate returns a *ValidationError naming every empty required field.
// From must be a hex wallet address; it becomes the proof's target.
func (r SendRequest) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"to", r.To},
		{"cc", r.CC},
		{"subject", r.Subject},
		{"message", r.Message},
		{"from", r.From},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	var invalid []string
	if from := strings.TrimSpace(r.From); from != "" && !common.IsHexAddress(from) {
		invalid = append(invalid, "from")
	}
	if len(missing) > 0 || len(invalid) > 0 {
		return &ValidationError{Missing: missing, Invalid: invalid}
	}
	return nil
}

// Result describes a sent and recorded email.
type Result struct {
	Success    bool   `json:"success"`
	MessageID  string `json:"message_id"`
	RecordID   int64  `json:"record_id"`
	UniqueHash string `json:"unique_hash"`
}

// MailSender delivers a message from a provider mailbox.
type MailSender interface {
	Send(ctx context.Context, grantID string, msg nylas.OutboundMessage) (*nylas.Message, error)
}

// Encrypter seals record fields before they are stored.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// RecordInserter persists a new email record.
type RecordInserter interface {
	Insert(ctx context.Context, r models.NewEmailRecord) (int64, error)
}

// Dispatcher renders, sends and records outbound emails.
type Dispatcher struct {
	sender   MailSender
	grantID  string
	cipher   Encrypter
	records  RecordInserter
	renderer *Renderer
}

// New creates a Dispatcher that sends from the mailbox of grantID.
func New(sender MailSender, grantID string, cipher Encrypter, records RecordInserter) (*Dispatcher, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		sender:   sender,
		grantID:  grantID,
		cipher:   cipher,
		records:  records,
		renderer: renderer,
	}, nil
}

// Send validates req, delivers the email and stores an encrypted,
// unprocessed record of it. Nothing is stored if the send fails. If the send
// succeeds but storing fails, the email is out and the error says so.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.From = strings.TrimSpace(req.From)

	html, err := d.renderer.Render(req.Subject, req.Message, req.VerificationLink)
	if err != nil {
		return nil, err
	}

	sent, err := d.sender.Send(ctx, d.grantID, nylas.OutboundMessage{
		Subject: req.Subject,
		Body:    html,
		To:      []nylas.Participant{{Name: "LexProof", Email: req.To}},
		CC:      []nylas.Participant{{Email: req.CC}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	slog.Info("email sent",
		"message_id", sent.ID,
		"sender", req.From,
	)

	id, uniqueHash, err := d.record(ctx, req)
	if err != nil {
		slog.Error("email sent but not recorded",
			"message_id", sent.ID,
			"sender", req.From,
			"error", err,
		)
		return nil, fmt.Errorf("%w (message %s): %v", ErrPersistFailed, sent.ID, err)
	}

	return &Result{
		Success:    true,
		MessageID:  sent.ID,
		RecordID:   id,
		UniqueHash: uniqueHash,
	}, nil
}

func (d *Dispatcher) record(ctx context.Context, req SendRequest) (int64, string, error) {
	subject, err := d.cipher.Encrypt(req.Subject)
	if err != nil {
		return 0, "", fmt.Errorf("encrypt subject: %w", err)
	}
	content, err := d.cipher.Encrypt(req.Message)
	if err != nil {
		return 0, "", fmt.Errorf("encrypt content: %w", err)
	}

	uniqueHash := store.NewUniqueHash()
	id, err := d.records.Insert(ctx, models.NewEmailRecord{
		Subject:    subject,
		Content:    content,
		Sender:     req.From,
		Recipient:  req.To,
		CC:         req.CC,
		UniqueHash: uniqueHash,
	})
	if err != nil {
		return 0, "", err
	}
	return id, uniqueHash, nil
}
