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

// LexProof schema command
//
// Creates the emails table if it does not exist. The server does the same
// on start-up; this is for provisioning a database ahead of a deploy.
//
// Usage:
//
//	go run ./cmd/initdb/ [--driver postgres|sqlite] [--url <dsn>]
//
// Flags default to the database section of config.yaml and the environment.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/lexproof/backend/internal/config"
	"github.com/lexproof/backend/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Read()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	driver := flag.String("driver", cfg.DatabaseDriver, "Database driver (postgres or sqlite)")
	url := flag.String("url", cfg.DatabaseURL, "Database URL or SQLite file path")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Open runs the idempotent schema creation.
	s, err := store.Open(ctx, *driver, *url)
	if err != nil {
		slog.Error("failed to initialise schema", "driver", *driver, "error", err)
		os.Exit(1)
	}
	defer s.Close()

	slog.Info("schema ready", "driver", *driver)
}

