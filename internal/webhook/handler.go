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

// Package webhook handles provider new-message notifications. Each
// notification proves the newest unprocessed email record: the delivered
// message is fetched, proven by the proving service and verified on chain,
// and the record is committed with the verifier transaction hash.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// maxBodyBytes caps notification bodies.
const maxBodyBytes = 1 << 20

// SignatureHeader carries the hex HMAC-SHA256 of the notification body.
const SignatureHeader = "X-Nylas-Signature"

// NotificationPayload is the body the provider POSTs.
type NotificationPayload struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID      string `json:"id"`
			GrantID string `json:"grant_id"`
		} `json:"object"`
	} `json:"data"`
}

// Pipeline is what the handler needs from a Processor.
type Pipeline interface {
	Process(ctx context.Context, n Notification) (*Outcome, error)
	ProveLatest(ctx context.Context) (*Outcome, error)
}

// Handler serves the webhook endpoints.
type Handler struct {
	pipeline       Pipeline
	webhookSecret  string
	endpointSecret string
}

// NewHandler creates a webhook handler. An empty webhookSecret disables
// signature checks; an empty endpointSecret disables the manual trigger.
func NewHandler(pipeline Pipeline, webhookSecret, endpointSecret string) *Handler {
	return &Handler{
		pipeline:       pipeline,
		webhookSecret:  webhookSecret,
		endpointSecret: endpointSecret,
	}
}

// ServeChallenge answers the provider's endpoint verification GET by echoing
// the challenge parameter as plain text.
func (h *Handler) ServeChallenge(w http.ResponseWriter, r *http.Request) {
	challenge := r.URL.Query().Get("challenge")
	if challenge == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "No challenge provided"})
		return
	}

	slog.Info("webhook challenge received")
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Length", strconv.Itoa(len(challenge)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// ServeNotification handles a new-message notification synchronously; the
// status code reports what happened to the pending record.
func (h *Handler) ServeNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		slog.Error("failed to read notification body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if h.webhookSecret != "" && !validSignature(h.webhookSecret, body, r.Header.Get(SignatureHeader)) {
		slog.Warn("webhook signature mismatch, possible spoofed notification")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload NotificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Info("notification body not valid JSON", "body_len", len(body))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	slog.Info("notification received",
		"type", payload.Type,
		"grant_id", payload.Data.Object.GrantID,
	)

	out, err := h.pipeline.Process(r.Context(), Notification{
		MessageID: payload.Data.Object.ID,
		GrantID:   payload.Data.Object.GrantID,
	})
	h.respond(w, out, err)
}

// ServeProve is the manual trigger: it proves the newest inbox message. The
// "sign" header must match the endpoint secret.
func (h *Handler) ServeProve(w http.ResponseWriter, r *http.Request) {
	sign := r.Header.Get("sign")
	if h.endpointSecret == "" || subtle.ConstantTimeCompare([]byte(sign), []byte(h.endpointSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	out, err := h.pipeline.ProveLatest(r.Context())
	h.respond(w, out, err)
}

func (h *Handler) respond(w http.ResponseWriter, out *Outcome, err error) {
	switch {
	case errors.Is(err, ErrNoPendingRecord):
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "No unprocessed emails found"})
	case errors.Is(err, ErrMissingMessageID):
		writeError(w, http.StatusBadRequest, "missing message id")
	case err != nil:
		// details were logged by the processor
		writeError(w, http.StatusInternalServerError, "failed to process email")
	default:
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			*Outcome
		}{true, out})
	}
}

// validSignature reports whether sig is the hex HMAC-SHA256 of body.
func validSignature(secret string, body []byte, sig string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(sig))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
