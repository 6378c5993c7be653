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

// Package auth issues and checks the admin bearer tokens that guard the
// diagnostic endpoints.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature, issuer,
	// expiry or admin-claim checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNoSecret is returned by NewAuthService when no signing secret is set.
	ErrNoSecret = errors.New("admin jwt secret is empty")
)

const issuer = "lexproof-backend"

// AuthService signs and validates HS256 admin tokens.
type AuthService struct {
	jwtSecret []byte
	ttl       time.Duration
}

// Claims are the admin token claims.
type Claims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

// NewAuthService creates a service keyed with jwtSecret. Tokens expire
// after ttl (24h when zero).
func NewAuthService(jwtSecret string, ttl time.Duration) (*AuthService, error) {
	if jwtSecret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{jwtSecret: []byte(jwtSecret), ttl: ttl}, nil
}

// GenerateToken returns a signed admin token.
func (a *AuthService) GenerateToken() (string, error) {
	now := time.Now()
	claims := &Claims{
		Admin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// ValidateToken parses tokenString and checks that it is an unexpired admin
// token signed with this service's secret.
func (a *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Admin {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// Middleware rejects requests without a valid "Authorization: Bearer" admin
// token.
func (a *AuthService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeUnauthorized(w, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeUnauthorized(w, "invalid authorization header format")
			return
		}

		if _, err := a.ValidateToken(token); err != nil {
			writeUnauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
