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

package dispatch

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

//go:embed templates/email.html
var templateFS embed.FS

// Renderer turns editor HTML into the branded email body.
type Renderer struct {
	tmpl   *template.Template
	policy *bluemonday.Policy
}

type templateData struct {
	Subject          string
	Body             template.HTML
	VerificationLink string
}

// NewRenderer parses the embedded email template.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/email.html")
	if err != nil {
		return nil, fmt.Errorf("parse email template: %w", err)
	}
	return &Renderer{tmpl: tmpl, policy: bluemonday.UGCPolicy()}, nil
}

// Render sanitizes the rich-text body and wraps it in the email template.
// An invalid or non-http(s) verification link is left out.
func (r *Renderer) Render(subject, body, verificationLink string) (string, error) {
	data := templateData{
		Subject: subject,
		// UGC-sanitized markup is passed through unescaped.
		Body: template.HTML(r.policy.Sanitize(body)),
	}
	if u, err := url.Parse(verificationLink); err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != "" {
		data.VerificationLink = verificationLink
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render email template: %w", err)
	}
	return buf.String(), nil
}
