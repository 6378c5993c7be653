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

package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lexproof/backend/internal/cipher"
	"github.com/lexproof/backend/internal/models"
	"github.com/lexproof/backend/internal/nylas"
)

// --- Mocks ---

type mockSender struct {
	err     error
	grantID string
	sent    []nylas.OutboundMessage
}

func (m *mockSender) Send(ctx context.Context, grantID string, msg nylas.OutboundMessage) (*nylas.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.grantID = grantID
	m.sent = append(m.sent, msg)
	return &nylas.Message{ID: "msg-1"}, nil
}

type mockRecords struct {
	err     error
	records []models.NewEmailRecord
}

func (m *mockRecords) Insert(ctx context.Context, r models.NewEmailRecord) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.records = append(m.records, r)
	return int64(len(m.records)), nil
}

func newTestCipher(t *testing.T) *cipher.Cipher {
	t.Helper()
	kp, err := cipher.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	c, err := cipher.FromKeyPair(kp)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	return c
}

const testWallet = "0x2222222222222222222222222222222222222222"

func validRequest() SendRequest {
	return SendRequest{
		To:               "bob@example.com",
		CC:               "proofs@lexproof.io",
		Subject:          "Hello",
		Message:          "<p>Hi <b>Bob</b></p><script>alert(1)</script>",
		From:             testWallet,
		VerificationLink: "https://lexproof.io/proof/abc",
	}
}

// --- Tests ---

func TestSendCreatesOneRecord(t *testing.T) {
	sender := &mockSender{}
	records := &mockRecords{}
	c := newTestCipher(t)
	d, err := New(sender, "sender-grant", c, records)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := d.Send(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Success || res.MessageID != "msg-1" || res.RecordID != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(res.UniqueHash) != 26 {
		t.Errorf("unique hash = %q", res.UniqueHash)
	}

	if sender.grantID != "sender-grant" {
		t.Errorf("grant = %q", sender.grantID)
	}
	msg := sender.sent[0]
	if msg.To[0].Email != "bob@example.com" || msg.CC[0].Email != "proofs@lexproof.io" {
		t.Errorf("recipients = %+v / %+v", msg.To, msg.CC)
	}
	if strings.Contains(msg.Body, "<script>") {
		t.Error("script tag survived sanitizing")
	}
	if !strings.Contains(msg.Body, "<b>Bob</b>") {
		t.Error("rich text lost")
	}
	if !strings.Contains(msg.Body, "https://lexproof.io/proof/abc") {
		t.Error("verification link missing")
	}

	if len(records.records) != 1 {
		t.Fatalf("records = %d, want 1", len(records.records))
	}
	rec := records.records[0]
	if rec.Subject == "Hello" {
		t.Error("subject stored in plaintext")
	}
	subject, err := c.Decrypt(rec.Subject)
	if err != nil || subject != "Hello" {
		t.Errorf("decrypted subject = %q, %v", subject, err)
	}
	content, err := c.Decrypt(rec.Content)
	if err != nil || content != validRequest().Message {
		t.Errorf("decrypted content = %q, %v", content, err)
	}
	if rec.Sender != testWallet || rec.Recipient != "bob@example.com" || rec.CC != "proofs@lexproof.io" {
		t.Errorf("record = %+v", rec)
	}
	if rec.UniqueHash != res.UniqueHash {
		t.Error("unique hash mismatch")
	}
}

func TestSendMissingFields(t *testing.T) {
	for _, field := range []string{"to", "cc", "subject", "message", "from"} {
		t.Run(field, func(t *testing.T) {
			req := validRequest()
			switch field {
			case "to":
				req.To = ""
			case "cc":
				req.CC = ""
			case "subject":
				req.Subject = " "
			case "message":
				req.Message = ""
			case "from":
				req.From = ""
			}

			sender := &mockSender{}
			records := &mockRecords{}
			d, _ := New(sender, "g", newTestCipher(t), records)

			_, err := d.Send(context.Background(), req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if len(verr.Missing) != 1 || verr.Missing[0] != field {
				t.Errorf("missing = %v", verr.Missing)
			}
			if len(sender.sent) != 0 || len(records.records) != 0 {
				t.Error("invalid request had side effects")
			}
		})
	}
}

func TestSendRejectsNonAddressSender(t *testing.T) {
	for _, from := range []string{"alice", "0xAbC", "2222222222222222222222222222222222222222zz"} {
		t.Run(from, func(t *testing.T) {
			req := validRequest()
			req.From = from

			sender := &mockSender{}
			records := &mockRecords{}
			d, _ := New(sender, "g", newTestCipher(t), records)

			_, err := d.Send(context.Background(), req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if len(verr.Invalid) != 1 || verr.Invalid[0] != "from" || len(verr.Missing) != 0 {
				t.Errorf("validation = %+v", verr)
			}
			if len(sender.sent) != 0 || len(records.records) != 0 {
				t.Error("invalid sender had side effects")
			}
		})
	}
}

func TestSendTrimsSender(t *testing.T) {
	records := &mockRecords{}
	d, _ := New(&mockSender{}, "g", newTestCipher(t), records)

	req := validRequest()
	req.From = "  " + testWallet + "\n"
	if _, err := d.Send(context.Background(), req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if records.records[0].Sender != testWallet {
		t.Errorf("sender = %q, want %q", records.records[0].Sender, testWallet)
	}
}

func TestSendProviderFailureSkipsPersist(t *testing.T) {
	records := &mockRecords{}
	d, _ := New(&mockSender{err: errors.New("boom")}, "g", newTestCipher(t), records)

	_, err := d.Send(context.Background(), validRequest())
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("err = %v, want ErrSendFailed", err)
	}
	if len(records.records) != 0 {
		t.Error("record created after failed send")
	}
}

func TestSendPersistFailure(t *testing.T) {
	d, _ := New(&mockSender{}, "g", newTestCipher(t), &mockRecords{err: errors.New("db down")})

	_, err := d.Send(context.Background(), validRequest())
	if !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("err = %v, want ErrPersistFailed", err)
	}
	if !strings.Contains(err.Error(), "msg-1") {
		t.Errorf("error should name the sent message: %v", err)
	}
}

func TestRenderDropsUnsafeLink(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	html, err := r.Render("s", "<p>x</p>", "javascript:alert(1)")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(html, "javascript:") || strings.Contains(html, "Verify this email") {
		t.Error("unsafe verification link rendered")
	}
	if !strings.Contains(html, "LexProof, all rights reserved") {
		t.Error("footer missing")
	}
}
