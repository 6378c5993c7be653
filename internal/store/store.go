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

// Package store persists encrypted email records. It is the sole owner of
// the emails table; the cipher and webhook components only read and write
// through it.
//
// Two backends implement Store: Postgres (pgx) for deployments and SQLite
// for local development and tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/lexproof/backend/internal/models"
)

// ErrNotFound is returned when a conditional update or lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Store is the email record store.
type Store interface {
	// Insert adds a record with processed = false and returns its id.
	Insert(ctx context.Context, r models.NewEmailRecord) (int64, error)

	// ListBySender returns all records for a wallet address, newest first.
	ListBySender(ctx context.Context, sender string) ([]models.EmailRecord, error)

	// LatestUnprocessed returns the newest record with processed = false,
	// or nil if none exists.
	LatestUnprocessed(ctx context.Context) (*models.EmailRecord, error)

	// ClaimLatestUnprocessed atomically marks the newest unprocessed,
	// unclaimed record as claimed and returns it, or nil if none is left.
	ClaimLatestUnprocessed(ctx context.Context) (*models.EmailRecord, error)

	// ReleaseClaim clears the claim on a record that was not committed.
	ReleaseClaim(ctx context.Context, id int64) error

	// MarkProcessed sets processed = true and txhash on the record matching
	// id and sender that is still unprocessed.
	MarkProcessed(ctx context.Context, id int64, sender, txHash string) error

	GetByID(ctx context.Context, id int64) (*models.EmailRecord, error)
	GetByUniqueHash(ctx context.Context, uniqueHash string) (*models.EmailRecord, error)

	Ping(ctx context.Context) error
	Close()
}

// Open connects to the backend selected by driver ("postgres" or "sqlite")
// and ensures the schema exists.
func Open(ctx context.Context, driver, url string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "postgres", "postgresql", "pgx":
		s, err := OpenPostgres(ctx, url)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite", "sqlite3":
		s, err := OpenSQLite(ctx, url)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewUniqueHash returns a fresh de-duplication key for a record. ULIDs sort
// by creation time, so they double as a stable public handle.
func NewUniqueHash() string {
	return strings.ToLower(ulid.Make().String())
}
