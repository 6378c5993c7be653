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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubPipeline struct {
	out      *Outcome
	err      error
	got      *Notification
	provedOK bool
}

func (s *stubPipeline) Process(ctx context.Context, n Notification) (*Outcome, error) {
	s.got = &n
	return s.out, s.err
}

func (s *stubPipeline) ProveLatest(ctx context.Context) (*Outcome, error) {
	s.provedOK = true
	return s.out, s.err
}

const notificationBody = `{"type":"message.created","data":{"object":{"id":"<abc@host>","grant_id":"inbox-grant"}}}`

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// TestServeChallenge verifies the verification echo.
func TestServeChallenge(t *testing.T) {
	h := NewHandler(&stubPipeline{}, "", "")

	req := httptest.NewRequest(http.MethodGet, "/api/email/webhooks/new-email?challenge=test-token-123", nil)
	rr := httptest.NewRecorder()
	h.ServeChallenge(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Body.String() != "test-token-123" {
		t.Errorf("body = %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cl := rr.Header().Get("Content-Length"); cl != "14" {
		t.Errorf("Content-Length = %q", cl)
	}
}

func TestServeChallengeMissing(t *testing.T) {
	h := NewHandler(&stubPipeline{}, "", "")

	rr := httptest.NewRecorder()
	h.ServeChallenge(rr, httptest.NewRequest(http.MethodGet, "/api/email/webhooks/new-email", nil))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body["message"] != "No challenge provided" {
		t.Errorf("body = %v", body)
	}
}

func TestServeNotificationStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		out  *Outcome
		err  error
		want int
	}{
		{"committed", &Outcome{RecordID: 1, TxHash: "0x1"}, nil, http.StatusOK},
		{"skipped", &Outcome{Skipped: "grant mismatch"}, nil, http.StatusOK},
		{"no pending", nil, ErrNoPendingRecord, http.StatusNotFound},
		{"no message id", nil, ErrMissingMessageID, http.StatusBadRequest},
		{"stage failure", nil, &StageError{Stage: StageProve, Err: errors.New("upstream secret detail")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubPipeline{out: tt.out, err: tt.err}
			h := NewHandler(p, "", "")

			req := httptest.NewRequest(http.MethodPost, "/api/email/webhooks/new-email", strings.NewReader(notificationBody))
			rr := httptest.NewRecorder()
			h.ServeNotification(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if strings.Contains(rr.Body.String(), "upstream secret detail") {
				t.Error("upstream error leaked to client")
			}
			if p.got == nil || p.got.MessageID != "<abc@host>" || p.got.GrantID != "inbox-grant" {
				t.Errorf("notification = %+v", p.got)
			}
		})
	}
}

func TestServeNotificationSuccessBody(t *testing.T) {
	p := &stubPipeline{out: &Outcome{RecordID: 7, TxHash: "0xfeed", UniqueHash: "01h"}}
	h := NewHandler(p, "", "")

	rr := httptest.NewRecorder()
	h.ServeNotification(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(notificationBody)))

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["success"] != true || body["txHash"] != "0xfeed" || body["recordId"] != float64(7) {
		t.Errorf("body = %v", body)
	}
}

func TestServeNotificationInvalidJSON(t *testing.T) {
	p := &stubPipeline{}
	h := NewHandler(p, "", "")

	rr := httptest.NewRecorder()
	h.ServeNotification(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json")))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if p.got != nil {
		t.Error("pipeline ran for invalid body")
	}
}

func TestServeNotificationSignature(t *testing.T) {
	tests := []struct {
		name string
		sig  string
		want int
	}{
		{"valid", sign("whsec", notificationBody), http.StatusOK},
		{"wrong secret", sign("other", notificationBody), http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
		{"not hex", "zz", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubPipeline{out: &Outcome{}}
			h := NewHandler(p, "whsec", "")

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(notificationBody))
			if tt.sig != "" {
				req.Header.Set(SignatureHeader, tt.sig)
			}
			rr := httptest.NewRecorder()
			h.ServeNotification(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && p.got != nil {
				t.Error("pipeline ran for unsigned notification")
			}
		})
	}
}

func TestServeProve(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		sign   string
		want   int
	}{
		{"valid", "endpoint-secret", "endpoint-secret", http.StatusOK},
		{"wrong", "endpoint-secret", "guess", http.StatusUnauthorized},
		{"missing", "endpoint-secret", "", http.StatusUnauthorized},
		{"unconfigured", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubPipeline{out: &Outcome{RecordID: 1}}
			h := NewHandler(p, "", tt.secret)

			req := httptest.NewRequest(http.MethodGet, "/api/email/webhooks/prove", nil)
			if tt.sign != "" {
				req.Header.Set("sign", tt.sign)
			}
			rr := httptest.NewRecorder()
			h.ServeProve(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if p.provedOK != (tt.want == http.StatusOK) {
				t.Errorf("pipeline ran = %v", p.provedOK)
			}
		})
	}
}
