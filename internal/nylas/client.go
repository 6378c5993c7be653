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

// Package nylas is a thin client for the parts of the Nylas v3 REST API the
// backend uses: sending mail, listing the newest inbox message and fetching a
// message's raw MIME source.
package nylas

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrMessageNotFound is returned when the provider has no message with the
// requested ID.
var ErrMessageNotFound = errors.New("message not found")

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nylas API returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Participant is a named email address.
type Participant struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// OutboundMessage is the body of a send request.
type OutboundMessage struct {
	Subject string        `json:"subject"`
	Body    string        `json:"body"`
	To      []Participant `json:"to"`
	CC      []Participant `json:"cc,omitempty"`
}

// Message is the subset of a provider message the backend reads.
type Message struct {
	ID       string        `json:"id"`
	GrantID  string        `json:"grant_id"`
	ThreadID string        `json:"thread_id"`
	Subject  string        `json:"subject"`
	From     []Participant `json:"from"`
	Date     int64         `json:"date"`
	RawMIME  string        `json:"raw_mime,omitempty"`
}

// Client calls the Nylas API with a bearer API key.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client authenticated with apiKey. The key is attached
// as a bearer token by an oauth2 transport.
func NewClient(ctx context.Context, apiURI, apiKey string) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = 30 * time.Second
	return New(httpClient, apiURI)
}

// New creates a client from a pre-authenticated HTTP client.
func New(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Send delivers a message from the given grant's mailbox.
func (c *Client) Send(ctx context.Context, grantID string, msg OutboundMessage) (*Message, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v3/grants/%s/messages/send", c.baseURL, url.PathEscape(grantID))
	var resp struct {
		RequestID string  `json:"request_id"`
		Data      Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body), &resp); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &resp.Data, nil
}

// LatestMessage returns the newest message in the grant's mailbox, or
// ErrMessageNotFound if it is empty.
func (c *Client) LatestMessage(ctx context.Context, grantID string) (*Message, error) {
	endpoint := fmt.Sprintf("%s/v3/grants/%s/messages?limit=1", c.baseURL, url.PathEscape(grantID))
	var resp struct {
		Data []Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("list latest message: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, ErrMessageNotFound
	}
	return &resp.Data[0], nil
}

// FetchRawMIME returns the decoded RFC 822 source of a message.
func (c *Client) FetchRawMIME(ctx context.Context, grantID, messageID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/v3/grants/%s/messages/%s?fields=raw_mime",
		c.baseURL, url.PathEscape(grantID), url.PathEscape(messageID))

	var resp struct {
		Data Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
		}
		return nil, fmt.Errorf("fetch raw message %s: %w", messageID, err)
	}

	if resp.Data.RawMIME == "" {
		return nil, fmt.Errorf("message %s has no raw_mime", messageID)
	}

	raw, err := decodeBase64(resp.Data.RawMIME)
	if err != nil {
		return nil, fmt.Errorf("decode raw_mime: %w", err)
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var (
	messageIDPattern = regexp.MustCompile(`<([^@]+)@`)
	threadIDPattern  = regexp.MustCompile(`^<?([^@>]+)@`)
)

// ExtractMessageID returns the local part of an RFC 822 style message id
// ("<abc@host>" -> "abc"). Ids without angle brackets are returned as-is.
func ExtractMessageID(full string) string {
	if m := messageIDPattern.FindStringSubmatch(full); m != nil {
		return m[1]
	}
	return full
}

// ExtractThreadMessageID returns the local part of a thread id, with or
// without angle brackets, or "" when it has no "@".
func ExtractThreadMessageID(threadID string) string {
	if m := threadIDPattern.FindStringSubmatch(threadID); m != nil {
		return m[1]
	}
	return ""
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
