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

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/lexproof/backend/internal/cipher"
	"github.com/lexproof/backend/internal/dispatch"
	"github.com/lexproof/backend/internal/models"
)

// maxRequestBytes caps JSON request bodies.
const maxRequestBytes = 1 << 20

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req dispatch.SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.deps.Sender.Send(r.Context(), req)
	if err != nil {
		var verr *dispatch.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		slog.Error("send email failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send email")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetEmails(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sender string `json:"sender"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Sender) == "" {
		writeError(w, http.StatusBadRequest, "sender is required")
		return
	}

	records, err := s.deps.Records.ListBySender(r.Context(), req.Sender)
	if err != nil {
		slog.Error("list emails failed", "sender", req.Sender, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load emails")
		return
	}

	out := make([]models.DecryptedEmail, 0, len(records))
	for i := range records {
		d, err := s.decryptRecord(&records[i])
		if err != nil {
			slog.Error("decrypt email failed", "record_id", records[i].ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to decrypt emails")
			return
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetEmailByID accepts a numeric record id or a unique hash and
// answers with a one-element array.
func (s *Server) handleGetEmailByID(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID json.RawMessage `json:"id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	key := strings.Trim(strings.TrimSpace(string(req.ID)), `"`)
	if key == "" || key == "null" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	var (
		rec *models.EmailRecord
		err error
	)
	if id, perr := strconv.ParseInt(key, 10, 64); perr == nil {
		rec, err = s.deps.Records.GetByID(r.Context(), id)
	} else {
		rec, err = s.deps.Records.GetByUniqueHash(r.Context(), strings.ToLower(key))
	}
	if err != nil {
		slog.Error("get email failed", "id", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load email")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "email not found")
		return
	}

	d, err := s.decryptRecord(rec)
	if err != nil {
		slog.Error("decrypt email failed", "record_id", rec.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to decrypt email")
		return
	}
	writeJSON(w, http.StatusOK, []models.DecryptedEmail{d})
}

func (s *Server) decryptRecord(rec *models.EmailRecord) (models.DecryptedEmail, error) {
	subject, err := s.deps.Cipher.Decrypt(rec.Subject)
	if err != nil {
		return models.DecryptedEmail{}, err
	}
	content, err := s.deps.Cipher.Decrypt(rec.Content)
	if err != nil {
		return models.DecryptedEmail{}, err
	}

	d := models.DecryptedEmail{
		ID:         rec.ID,
		Date:       rec.Date,
		Subject:    subject,
		Content:    content,
		Sender:     rec.Sender,
		Recipient:  rec.Recipient,
		CC:         rec.CC,
		Processed:  rec.Processed,
		UniqueHash: rec.UniqueHash,
	}
	if rec.TxHash != nil {
		d.TxHash = *rec.TxHash
	}
	return d, nil
}

func (s *Server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content *string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Content == nil {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	encrypted, err := s.deps.Cipher.Encrypt(*req.Content)
	if err != nil {
		slog.Error("encrypt content failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to encrypt content")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"encrypted": encrypted})
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EncryptedContent string `json:"encryptedContent"`
		Encrypted        string `json:"encrypted"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ciphertext := req.EncryptedContent
	if ciphertext == "" {
		ciphertext = req.Encrypted
	}
	if ciphertext == "" {
		writeError(w, http.StatusBadRequest, "encryptedContent is required")
		return
	}

	decrypted, err := s.deps.Cipher.Decrypt(ciphertext)
	if err != nil {
		slog.Error("decrypt content failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to decrypt content")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"decrypted": decrypted})
}

// handleGenerateKeys returns a fresh keypair that passed a round trip. It
// never exposes the process key.
func (s *Server) handleGenerateKeys(w http.ResponseWriter, r *http.Request) {
	kp, err := cipher.GenerateKeyPair()
	if err != nil {
		slog.Error("generate keypair failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate keys")
		return
	}
	if err := cipher.RoundTrip(kp, "lexproof key check"); err != nil {
		slog.Error("keypair round trip failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate keys")
		return
	}

	slog.Info("diagnostic keypair generated", "public_key", kp.PublicKey)
	writeJSON(w, http.StatusOK, kp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	for name, check := range s.deps.HealthChecks {
		if err := check(r.Context()); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": name + " unhealthy",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
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
