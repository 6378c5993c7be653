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

// Package models defines the data structures shared across the LexProof backend.
package models

import "time"

// EmailRecord is a row of the emails table. Subject and Content hold hex
// ciphertext; plaintext never reaches the store.
type EmailRecord struct {
	ID         int64     `json:"id"`
	Date       time.Time `json:"date"`
	Subject    string    `json:"subject"`
	Content    string    `json:"content"`
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	CC         string    `json:"cc"`
	TxHash     *string   `json:"txhash"`
	Processed  bool      `json:"processed"`
	Claimed    bool      `json:"claimed"`
	UniqueHash string    `json:"uniqueHash"`
}

// NewEmailRecord carries the fields supplied at insert time.
type NewEmailRecord struct {
	Subject    string
	Content    string
	Sender     string
	Recipient  string
	CC         string
	UniqueHash string
}

// DecryptedEmail is an EmailRecord with subject and content opened, as
// returned to the dashboard and the public proof page.
type DecryptedEmail struct {
	ID         int64     `json:"id"`
	Date       time.Time `json:"date"`
	Subject    string    `json:"subject"`
	Content    string    `json:"content"`
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	CC         string    `json:"cc,omitempty"`
	TxHash     string    `json:"txhash,omitempty"`
	Processed  bool      `json:"processed"`
	UniqueHash string    `json:"uniqueHash"`
}

// ProofEvent is published after a record is committed as processed.
//
// Its JSON form is consumed by anything listening on the proofs list in
// Redis (dashboard refresh, notifications).
type ProofEvent struct {
	ID         string    `json:"id"`
	RecordID   int64     `json:"record_id"`
	UniqueHash string    `json:"unique_hash"`
	Sender     string    `json:"sender"`
	TxHash     string    `json:"tx_hash"`
	MessageID  string    `json:"message_id"`
	CreatedAt  time.Time `json:"created_at"`
}
