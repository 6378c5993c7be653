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

// LexProof key bootstrap command
//
// Generates a content keypair, checks that it round-trips, and prints the
// environment lines the server reads. Optionally prints a signed admin token
// for the diagnostic endpoints.
//
// Usage:
//
//	go run ./cmd/keygen/ [--admin-token] [--token-ttl 24h]
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lexproof/backend/internal/auth"
	"github.com/lexproof/backend/internal/cipher"
)

func main() {
	// Logs go to stderr so stdout stays a clean env file.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	adminToken := flag.Bool("admin-token", false, "Also print an admin JWT signed with ADMIN_JWT_SECRET")
	ttlFlag := flag.String("token-ttl", "24h", "Admin token lifetime")
	sample := flag.String("sample", "LexProof round trip", "Plaintext used for the round-trip check")
	flag.Parse()

	kp, err := cipher.GenerateKeyPair()
	if err != nil {
		slog.Error("failed to generate keypair", "error", err)
		os.Exit(1)
	}
	if err := cipher.RoundTrip(kp, *sample); err != nil {
		slog.Error("keypair round trip failed", "error", err)
		os.Exit(1)
	}
	slog.Info("keypair generated and verified")

	fmt.Printf("CONTENT_PUBLIC_KEY=%s\n", kp.PublicKey)
	fmt.Printf("CONTENT_PRIVATE_KEY=%s\n", kp.PrivateKey)

	if !*adminToken {
		return
	}

	ttl, err := time.ParseDuration(*ttlFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --token-ttl duration %q: %v\n", *ttlFlag, err)
		os.Exit(1)
	}

	a, err := auth.NewAuthService(os.Getenv("ADMIN_JWT_SECRET"), ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: ADMIN_JWT_SECRET must be set for --admin-token\n")
		os.Exit(1)
	}
	token, err := a.GenerateToken()
	if err != nil {
		slog.Error("failed to sign admin token", "error", err)
		os.Exit(1)
	}
	fmt.Printf("ADMIN_TOKEN=%s\n", token)
}
