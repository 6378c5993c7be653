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

package nylas

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// TestExtractMessageID verifies local-part extraction from message ids.
func TestExtractMessageID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<CAF1234abcd@mail.gmail.com>", "CAF1234abcd"},
		{"prefix <abc.def@host> suffix", "abc.def"},
		{"18f3c0ffee", "18f3c0ffee"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ExtractMessageID(tt.in); got != tt.want {
				t.Errorf("ExtractMessageID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractThreadMessageID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<thread123@host>", "thread123"},
		{"thread456@host", "thread456"},
		{"no-at-sign", ""},
	}
	for _, tt := range tests {
		if got := ExtractThreadMessageID(tt.in); got != tt.want {
			t.Errorf("ExtractThreadMessageID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestFetchRawMIME verifies the bearer token, request path and base64 decode.
func TestFetchRawMIME(t *testing.T) {
	raw := "From: a@example.com\r\nSubject: Hello\r\n\r\nbody\r\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer nyk_test" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/v3/grants/grant-1/messages/msg-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("fields") != "raw_mime" {
			t.Errorf("fields = %q", r.URL.Query().Get("fields"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"id":       "msg-1",
				"raw_mime": base64.URLEncoding.EncodeToString([]byte(raw)),
			},
		})
	}))
	defer server.Close()

	c := NewClient(context.Background(), server.URL, "nyk_test")

	got, err := c.FetchRawMIME(context.Background(), "grant-1", "msg-1")
	if err != nil {
		t.Fatalf("FetchRawMIME: %v", err)
	}
	if string(got) != raw {
		t.Errorf("raw = %q, want %q", got, raw)
	}
}

// TestFetchRawMIME_NotFound verifies 404 maps to ErrMessageNotFound.
func TestFetchRawMIME_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"type":"not_found_error"}}`))
	}))
	defer server.Close()

	c := New(server.Client(), server.URL)

	_, err := c.FetchRawMIME(context.Background(), "g", "missing")
	if !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("err = %v, want ErrMessageNotFound", err)
	}
}

// TestSend verifies the request body and the returned message.
func TestSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/grants/sender/messages/send" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var msg OutboundMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if msg.Subject != "Hi" || len(msg.To) != 1 || msg.To[0].Email != "bob@example.com" {
			t.Errorf("message = %+v", msg)
		}
		if len(msg.CC) != 1 || msg.CC[0].Email != "inbox@lexproof.xyz" {
			t.Errorf("cc = %+v", msg.CC)
		}
		w.Write([]byte(`{"request_id":"r1","data":{"id":"sent-1","thread_id":"t1"}}`))
	}))
	defer server.Close()

	c := New(server.Client(), server.URL+"/")

	sent, err := c.Send(context.Background(), "sender", OutboundMessage{
		Subject: "Hi",
		Body:    "<p>hi</p>",
		To:      []Participant{{Email: "bob@example.com"}},
		CC:      []Participant{{Email: "inbox@lexproof.xyz"}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent.ID != "sent-1" {
		t.Errorf("id = %q, want sent-1", sent.ID)
	}
}

// TestSend_APIError verifies non-2xx responses become APIError.
func TestSend_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := New(server.Client(), server.URL)
	_, err := c.Send(context.Background(), "g", OutboundMessage{})

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("err = %v, want APIError 401", err)
	}
}

// TestLatestMessage verifies the limit=1 listing and the empty case.
func TestLatestMessage(t *testing.T) {
	var empty atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "1" {
			t.Errorf("limit = %q", r.URL.Query().Get("limit"))
		}
		if empty.Load() {
			w.Write([]byte(`{"data":[]}`))
			return
		}
		w.Write([]byte(`{"data":[{"id":"m1","thread_id":"<t1@host>"}]}`))
	}))
	defer server.Close()

	c := New(server.Client(), server.URL)

	msg, err := c.LatestMessage(context.Background(), "g")
	if err != nil {
		t.Fatalf("LatestMessage: %v", err)
	}
	if msg.ThreadID != "<t1@host>" {
		t.Errorf("thread = %q", msg.ThreadID)
	}

	empty.Store(true)
	if _, err := c.LatestMessage(context.Background(), "g"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("err = %v, want ErrMessageNotFound", err)
	}
}
