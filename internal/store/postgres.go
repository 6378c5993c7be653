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

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexproof/backend/internal/models"
)

const pgColumns = `id, date, subject, content, sender, recipient, cc, txhash, processed, claimed, unique_hash`

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates a connection pool, verifies it and ensures the
// emails table exists.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	return NewPostgres(ctx, pool)
}

// NewPostgres wraps an existing pool. It ensures the emails table exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	s := &Postgres{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure email schema: %w", err)
	}
	slog.Info("email store initialised", "driver", "postgres")
	return s, nil
}

// EnsureSchema creates the emails table and its indexes if missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS emails (
			id          BIGSERIAL PRIMARY KEY,
			date        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			subject     TEXT NOT NULL,
			content     TEXT NOT NULL,
			sender      TEXT NOT NULL,
			recipient   TEXT NOT NULL,
			cc          TEXT NOT NULL DEFAULT '',
			txhash      TEXT,
			processed   BOOLEAN NOT NULL DEFAULT FALSE,
			claimed     BOOLEAN NOT NULL DEFAULT FALSE,
			unique_hash TEXT UNIQUE
		);
		CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(lower(sender));
		CREATE INDEX IF NOT EXISTS idx_emails_unprocessed ON emails(id) WHERE processed = FALSE;
	`)
	return err
}

// Insert adds a new unprocessed record.
func (s *Postgres) Insert(ctx context.Context, r models.NewEmailRecord) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO emails (subject, content, sender, recipient, cc, unique_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, r.Subject, r.Content, r.Sender, r.Recipient, r.CC, r.UniqueHash).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert email: %w", err)
	}
	return id, nil
}

// ListBySender returns a sender's records, newest first.
func (s *Postgres) ListBySender(ctx context.Context, sender string) ([]models.EmailRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgColumns+`
		FROM emails
		WHERE lower(sender) = lower($1)
		ORDER BY id DESC
	`, sender)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPgRecords(rows)
}

// LatestUnprocessed returns the newest unprocessed record.
func (s *Postgres) LatestUnprocessed(ctx context.Context) (*models.EmailRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgColumns+`
		FROM emails
		WHERE processed = FALSE
		ORDER BY id DESC
		LIMIT 1
	`)
	return scanPgRecord(row)
}

// ClaimLatestUnprocessed claims the newest unclaimed, unprocessed record.
// SKIP LOCKED lets concurrent deliveries claim distinct rows instead of
// blocking on the same one.
func (s *Postgres) ClaimLatestUnprocessed(ctx context.Context) (*models.EmailRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE emails
		SET claimed = TRUE
		WHERE id = (
			SELECT id FROM emails
			WHERE processed = FALSE AND claimed = FALSE
			ORDER BY id DESC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+pgColumns)
	return scanPgRecord(row)
}

// ReleaseClaim clears the claim flag on an unprocessed record.
func (s *Postgres) ReleaseClaim(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE emails SET claimed = FALSE
		WHERE id = $1 AND processed = FALSE
	`, id)
	return err
}

// MarkProcessed commits the verification transaction hash.
func (s *Postgres) MarkProcessed(ctx context.Context, id int64, sender, txHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE emails
		SET processed = TRUE, txhash = $1
		WHERE id = $2 AND lower(sender) = lower($3) AND processed = FALSE
	`, txHash, id, sender)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID returns a single record or nil.
func (s *Postgres) GetByID(ctx context.Context, id int64) (*models.EmailRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM emails WHERE id = $1`, id)
	return scanPgRecord(row)
}

// GetByUniqueHash returns a single record or nil.
func (s *Postgres) GetByUniqueHash(ctx context.Context, uniqueHash string) (*models.EmailRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM emails WHERE unique_hash = $1`, uniqueHash)
	return scanPgRecord(row)
}

// Ping checks the database connection.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// scanPgRecord scans a single row, returning nil for no rows.
func scanPgRecord(row pgx.Row) (*models.EmailRecord, error) {
	var r models.EmailRecord
	var uniqueHash *string
	err := row.Scan(
		&r.ID, &r.Date, &r.Subject, &r.Content, &r.Sender, &r.Recipient,
		&r.CC, &r.TxHash, &r.Processed, &r.Claimed, &uniqueHash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if uniqueHash != nil {
		r.UniqueHash = *uniqueHash
	}
	return &r, nil
}

// collectPgRecords scans multiple rows.
func collectPgRecords(rows pgx.Rows) ([]models.EmailRecord, error) {
	var records []models.EmailRecord
	for rows.Next() {
		r, err := scanPgRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}
