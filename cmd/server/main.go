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

// LexProof backend server
//
// Entry point for the LexProof HTTP service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Opens the email record store (Postgres or SQLite) and Redis
//  3. Builds the content cipher and the provider, prover and chain clients
//  4. Serves the send, webhook, retrieval and cipher endpoints
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/lexproof/backend/internal/api"
	"github.com/lexproof/backend/internal/auth"
	"github.com/lexproof/backend/internal/chain"
	"github.com/lexproof/backend/internal/cipher"
	"github.com/lexproof/backend/internal/config"
	"github.com/lexproof/backend/internal/dedup"
	"github.com/lexproof/backend/internal/dispatch"
	"github.com/lexproof/backend/internal/nylas"
	"github.com/lexproof/backend/internal/prover"
	"github.com/lexproof/backend/internal/queue"
	"github.com/lexproof/backend/internal/store"
	"github.com/lexproof/backend/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting LexProof backend")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"database_driver", cfg.DatabaseDriver,
		"chain_id", cfg.Prover.ChainID,
		"proof_timeout", cfg.Prover.Timeout,
		"diagnostics", cfg.DiagnosticsEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Email Record Store ---
	records, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open record store", "error", err)
		os.Exit(1)
	}
	defer records.Close()
	slog.Info("record store ready", "driver", cfg.DatabaseDriver)

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := queue.NewPublisher(rdb, cfg.ProofsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	filter := dedup.NewFilter(rdb)

	// --- Content Cipher ---
	contentCipher, err := cipher.New(cfg.ContentPublicKey, cfg.ContentPrivateKey)
	if err != nil {
		slog.Error("invalid content keypair", "error", err)
		os.Exit(1)
	}

	// --- External clients ---
	mail := nylas.NewClient(ctx, cfg.Nylas.APIURI, cfg.Nylas.APIKey)

	if !common.IsHexAddress(cfg.Prover.Address) {
		slog.Error("invalid prover contract address", "address", cfg.Prover.Address)
		os.Exit(1)
	}
	proofs, err := prover.NewClient(ctx, prover.Options{
		URL:            cfg.Prover.URL,
		Token:          cfg.Prover.Token,
		DNSResolverURL: cfg.Prover.DNSResolverURL,
		ProverAddress:  common.HexToAddress(cfg.Prover.Address),
		ChainID:        cfg.Prover.ChainID,
		GasLimit:       cfg.Prover.GasLimit,
		PollInterval:   cfg.Prover.PollInterval,
	})
	if err != nil {
		slog.Error("failed to set up prover client", "error", err)
		os.Exit(1)
	}
	defer proofs.Close()

	verifier, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.PrivateKey, cfg.Chain.VerifierAddress)
	if err != nil {
		slog.Error("failed to set up chain verifier", "error", err)
		os.Exit(1)
	}
	slog.Info("chain verifier ready", "from", verifier.From().Hex())

	// --- Components ---
	dispatcher, err := dispatch.New(mail, cfg.Nylas.SenderGrantID, contentCipher, records)
	if err != nil {
		slog.Error("failed to build dispatcher", "error", err)
		os.Exit(1)
	}

	processor := webhook.NewProcessor(
		records, mail, proofs, verifier, filter, publisher,
		cfg.Nylas.GrantID, cfg.Prover.Timeout,
	)
	hooks := webhook.NewHandler(processor, cfg.Nylas.WebhookSecret, cfg.EndpointSecret)

	var adminAuth *auth.AuthService
	if cfg.DiagnosticsEnabled {
		adminAuth, err = auth.NewAuthService(cfg.AdminJWTSecret, 0)
		if err != nil {
			slog.Error("failed to set up admin auth", "error", err)
			os.Exit(1)
		}
		slog.Warn("diagnostic endpoints enabled")
	}

	router := api.NewRouter(api.Deps{
		Sender:             dispatcher,
		Records:            records,
		Cipher:             contentCipher,
		Webhook:            hooks,
		Auth:               adminAuth,
		DiagnosticsEnabled: cfg.DiagnosticsEnabled,
		HealthChecks: map[string]api.HealthCheck{
			"database": records.Ping,
			"redis":    publisher.Ping,
		},
		CORSOrigins: cfg.CORSOrigins,
	})

	// --- HTTP Server ---
	ready, serveErr, err := api.Serve(ctx, cfg.Port, router)
	if err != nil {
		slog.Error("failed to start http server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Graceful Shutdown ---
	if err, ok := <-serveErr; ok && err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("LexProof backend stopped")
}
