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

// Package api is the HTTP surface of the LexProof backend: the send
// endpoint, the webhook routes, record retrieval, the cipher passthrough
// and the guarded diagnostics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/lexproof/backend/internal/auth"
	"github.com/lexproof/backend/internal/dispatch"
	"github.com/lexproof/backend/internal/models"
	"github.com/lexproof/backend/internal/webhook"
)

// EmailSender sends and records an outbound email.
type EmailSender interface {
	Send(ctx context.Context, req dispatch.SendRequest) (*dispatch.Result, error)
}

// RecordReader reads stored email records.
type RecordReader interface {
	ListBySender(ctx context.Context, sender string) ([]models.EmailRecord, error)
	GetByID(ctx context.Context, id int64) (*models.EmailRecord, error)
	GetByUniqueHash(ctx context.Context, uniqueHash string) (*models.EmailRecord, error)
}

// ContentCipher seals and opens record content.
type ContentCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertextHex string) (string, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the router serves.
type Deps struct {
	Sender  EmailSender
	Records RecordReader
	Cipher  ContentCipher
	Webhook *webhook.Handler

	// Auth guards the diagnostic routes, which are only mounted when
	// DiagnosticsEnabled is set.
	Auth               *auth.AuthService
	DiagnosticsEnabled bool

	HealthChecks map[string]HealthCheck
	CORSOrigins  []string
}

// Server holds the handler dependencies.
type Server struct {
	deps Deps
}

// NewRouter builds the HTTP handler for all routes.
func NewRouter(d Deps) http.Handler {
	s := &Server{deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/email/send", s.handleSend)

		if d.Webhook != nil {
			r.Post("/email/webhooks/new-email", d.Webhook.ServeNotification)
			r.Get("/email/webhooks/new-email", d.Webhook.ServeChallenge)
			r.Get("/email/webhooks/prove", d.Webhook.ServeProve)
		}

		r.Post("/content/get-emails", s.handleGetEmails)
		r.Post("/content/get-email-by-id", s.handleGetEmailByID)

		r.Post("/encrypt/encrypt-content", s.handleEncrypt)
		r.Post("/encrypt/decrypt-content", s.handleDecrypt)

		r.Group(func(r chi.Router) {
			if !d.DiagnosticsEnabled || d.Auth == nil {
				r.Get("/encrypt/generate-keys", http.NotFound)
				return
			}
			r.Use(d.Auth.Middleware)
			r.Get("/encrypt/generate-keys", s.handleGenerateKeys)
		})
	})

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "sign", webhook.SignatureHeader},
	})
	return c.Handler(r)
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
