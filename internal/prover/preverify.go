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

package prover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/lexproof/backend/internal/contracts"
)

// ErrNoDKIMSignature is returned for an email without a usable
// DKIM-Signature header.
var ErrNoDKIMSignature = errors.New("email has no DKIM signature")

// DKIMSignature holds the tags of a DKIM-Signature header needed to locate
// the signing key.
type DKIMSignature struct {
	Domain   string
	Selector string
}

// KeyRecordName returns the DNS name of the signing key record.
func (s DKIMSignature) KeyRecordName() string {
	return s.Selector + "._domainkey." + s.Domain
}

// ParseDKIMSignatures returns the domain and selector of every DKIM-Signature
// header in a raw RFC 822 message, in header order.
func ParseDKIMSignatures(raw []byte) ([]DKIMSignature, error) {
	mr, err := mail.CreateReader(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse email headers: %w", err)
	}
	defer mr.Close()

	var sigs []DKIMSignature
	fields := mr.Header.FieldsByKey("DKIM-Signature")
	for fields.Next() {
		tags := parseTagList(fields.Value())
		d, s := tags["d"], tags["s"]
		if d == "" || s == "" {
			continue
		}
		sigs = append(sigs, DKIMSignature{Domain: strings.ToLower(d), Selector: s})
	}
	if len(sigs) == 0 {
		return nil, ErrNoDKIMSignature
	}
	return sigs, nil
}

// parseTagList splits a "k=v; k2=v2" list. Whitespace inside values is
// dropped, which is how folded headers are unfolded for tag values.
func parseTagList(v string) map[string]string {
	tags := make(map[string]string)
	for _, part := range strings.Split(v, ";") {
		k, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		tags[k] = strings.Join(strings.Fields(val), "")
	}
	return tags
}

type dohAnswer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	TTL  int    `json:"TTL"`
	Data string `json:"data"`
}

type dohResponse struct {
	Status           int         `json:"Status"`
	Answer           []dohAnswer `json:"Answer"`
	VerificationData *struct {
		ValidUntil uint64 `json:"valid_until"`
		Signature  string `json:"signature"`
	} `json:"VerificationData"`
}

// ResolveKeyRecord looks up the TXT record at name through the proving
// service's DNS-over-HTTPS resolver, which signs its answers.
func (c *Client) ResolveKeyRecord(ctx context.Context, name string) (contracts.DnsRecord, contracts.VerificationData, error) {
	var (
		rec  contracts.DnsRecord
		vd   contracts.VerificationData
		resp dohResponse
	)

	q := url.Values{}
	q.Set("name", name)
	q.Set("type", "TXT")
	endpoint := c.opts.DNSResolverURL + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return rec, vd, fmt.Errorf("build dns request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return rec, vd, fmt.Errorf("dns query %s: %w", name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return rec, vd, fmt.Errorf("dns query %s returned HTTP %d: %s", name, httpResp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return rec, vd, fmt.Errorf("decode dns response: %w", err)
	}
	if resp.Status != 0 {
		return rec, vd, fmt.Errorf("dns query %s failed with status %d", name, resp.Status)
	}

	var answer *dohAnswer
	for i := range resp.Answer {
		if resp.Answer[i].Type == int(contracts.RecordTypeTXT) {
			answer = &resp.Answer[i]
			break
		}
	}
	if answer == nil {
		return rec, vd, fmt.Errorf("dns query %s: no TXT record", name)
	}
	if resp.VerificationData == nil {
		return rec, vd, fmt.Errorf("dns query %s: response is not signed", name)
	}

	sig, err := hexutil.Decode(resp.VerificationData.Signature)
	if err != nil {
		return rec, vd, fmt.Errorf("decode dns signature: %w", err)
	}

	rec = contracts.DnsRecord{
		Name:       strings.TrimSuffix(answer.Name, "."),
		RecordType: contracts.RecordTypeTXT,
		Data:       unquoteTXT(answer.Data),
		ValidUntil: resp.VerificationData.ValidUntil,
	}
	vd = contracts.VerificationData{
		ValidUntil: resp.VerificationData.ValidUntil,
		Signature:  sig,
	}
	return rec, vd, nil
}

// unquoteTXT joins the character-strings of a presentation-format TXT
// record (`"v=DKIM1; " "p=..."`). Unquoted data is returned unchanged.
func unquoteTXT(data string) string {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, `"`) {
		return data
	}
	var b strings.Builder
	inQuote := false
	for i := 0; i < len(data); i++ {
		switch ch := data[i]; {
		case ch == '"':
			inQuote = !inQuote
		case ch == '\\' && inQuote && i+1 < len(data):
			i++
			b.WriteByte(data[i])
		case inQuote:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// Preverify builds the prover input for a raw email: it resolves the key
// record of the first DKIM signature whose record can be fetched.
func (c *Client) Preverify(ctx context.Context, raw []byte) (contracts.UnverifiedEmail, error) {
	sigs, err := ParseDKIMSignatures(raw)
	if err != nil {
		return contracts.UnverifiedEmail{}, err
	}

	var lastErr error
	for _, sig := range sigs {
		rec, vd, err := c.ResolveKeyRecord(ctx, sig.KeyRecordName())
		if err != nil {
			lastErr = err
			continue
		}
		return contracts.UnverifiedEmail{
			Email:            string(raw),
			DnsRecord:        rec,
			VerificationData: vd,
		}, nil
	}
	return contracts.UnverifiedEmail{}, fmt.Errorf("resolve DKIM key: %w", lastErr)
}
