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
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexproof/backend/internal/models"
)

const sqliteColumns = `id, date, subject, content, sender, recipient, cc, txhash, processed, claimed, unique_hash`

// SQLite is the database/sql + go-sqlite3 Store used for local development
// and tests.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite database. Use ":memory:" for a
// throwaway store.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	if dsn == "" {
		dsn = "lexproof.db"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// One connection serialises writers and keeps :memory: databases alive
	// across calls.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure email schema: %w", err)
	}
	slog.Info("email store initialised", "driver", "sqlite", "dsn", dsn)
	return s, nil
}

// EnsureSchema creates the emails table if missing.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS emails (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			date        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
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
		CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender);
	`)
	return err
}

// Insert adds a new unprocessed record.
func (s *SQLite) Insert(ctx context.Context, r models.NewEmailRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO emails (subject, content, sender, recipient, cc, unique_hash)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.Subject, r.Content, r.Sender, r.Recipient, r.CC, r.UniqueHash)
	if err != nil {
		return 0, fmt.Errorf("insert email: %w", err)
	}
	return res.LastInsertId()
}

// ListBySender returns a sender's records, newest first.
func (s *SQLite) ListBySender(ctx context.Context, sender string) ([]models.EmailRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteColumns+`
		FROM emails
		WHERE lower(sender) = lower(?)
		ORDER BY id DESC
	`, sender)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.EmailRecord
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// LatestUnprocessed returns the newest unprocessed record.
func (s *SQLite) LatestUnprocessed(ctx context.Context) (*models.EmailRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteColumns+`
		FROM emails
		WHERE processed = FALSE
		ORDER BY id DESC
		LIMIT 1
	`)
	return scanSQLiteRecord(row)
}

// ClaimLatestUnprocessed claims the newest unclaimed, unprocessed record.
// The select and conditional update share one transaction on the single
// connection, so no other writer can interleave.
func (s *SQLite) ClaimLatestUnprocessed(ctx context.Context) (*models.EmailRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM emails
		WHERE processed = FALSE AND claimed = FALSE
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE emails SET claimed = TRUE
		WHERE id = ? AND processed = FALSE AND claimed = FALSE
	`, id)
	if err != nil {
		return nil, fmt.Errorf("claim email %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	rec, err := scanSQLiteRecord(tx.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM emails WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return rec, nil
}

// ReleaseClaim clears the claim flag on an unprocessed record.
func (s *SQLite) ReleaseClaim(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE emails SET claimed = FALSE
		WHERE id = ? AND processed = FALSE
	`, id)
	return err
}

// MarkProcessed commits the verification transaction hash.
func (s *SQLite) MarkProcessed(ctx context.Context, id int64, sender, txHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE emails
		SET processed = TRUE, txhash = ?
		WHERE id = ? AND lower(sender) = lower(?) AND processed = FALSE
	`, txHash, id, sender)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID returns a single record or nil.
func (s *SQLite) GetByID(ctx context.Context, id int64) (*models.EmailRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM emails WHERE id = ?`, id)
	return scanSQLiteRecord(row)
}

// GetByUniqueHash returns a single record or nil.
func (s *SQLite) GetByUniqueHash(ctx context.Context, uniqueHash string) (*models.EmailRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM emails WHERE unique_hash = ?`, uniqueHash)
	return scanSQLiteRecord(row)
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() {
	s.db.Close()
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row sqlScanner) (*models.EmailRecord, error) {
	var (
		r          models.EmailRecord
		txHash     sql.NullString
		uniqueHash sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.Date, &r.Subject, &r.Content, &r.Sender, &r.Recipient,
		&r.CC, &txHash, &r.Processed, &r.Claimed, &uniqueHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if txHash.Valid {
		r.TxHash = &txHash.String
	}
	r.UniqueHash = uniqueHash.String
	return &r, nil
}
