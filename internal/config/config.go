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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NylasConfig holds email-provider credentials.
type NylasConfig struct {
	APIURI        string
	APIKey        string
	GrantID       string // inbox whose notifications are processed
	SenderGrantID string // mailbox used to send outbound mail
	WebhookSecret string
}

// ProverConfig holds proving-service settings.
type ProverConfig struct {
	URL            string
	Token          string
	DNSResolverURL string
	Address        string // prover contract
	ChainID        int64
	GasLimit       uint64
	PollInterval   time.Duration
	Timeout        time.Duration
}

// ChainConfig holds settings for the verifier transaction.
type ChainConfig struct {
	RPCURL          string
	PrivateKey      string
	VerifierAddress string
}

// Config holds all configuration for the LexProof backend.
type Config struct {
	// Database
	DatabaseDriver string
	DatabaseURL    string

	// Redis
	RedisURL    string
	ProofsQueue string

	// Content cipher keypair (hex)
	ContentPublicKey  string
	ContentPrivateKey string

	Nylas  NylasConfig
	Prover ProverConfig
	Chain  ChainConfig

	// EndpointSecret guards the manual prove trigger ("sign" header).
	EndpointSecret string

	// Admin
	AdminJWTSecret     string
	DiagnosticsEnabled bool

	// Server
	Port        int
	CORSOrigins []string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Server struct {
		Port        int      `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Proofs string `yaml:"proofs"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Cipher struct {
		PublicKey  string `yaml:"public_key"`
		PrivateKey string `yaml:"private_key"`
	} `yaml:"cipher"`
	Nylas struct {
		APIURI        string `yaml:"api_uri"`
		APIKey        string `yaml:"api_key"`
		GrantID       string `yaml:"grant_id"`
		SenderGrantID string `yaml:"sender_grant_id"`
		WebhookSecret string `yaml:"webhook_secret"`
	} `yaml:"nylas"`
	Prover struct {
		URL            string `yaml:"url"`
		Token          string `yaml:"token"`
		DNSResolverURL string `yaml:"dns_resolver_url"`
		Address        string `yaml:"address"`
		ChainID        int64  `yaml:"chain_id"`
		GasLimit       uint64 `yaml:"gas_limit"`
		PollInterval   string `yaml:"poll_interval"`
		Timeout        string `yaml:"timeout"`
	} `yaml:"prover"`
	Chain struct {
		RPCURL          string `yaml:"rpc_url"`
		PrivateKey      string `yaml:"private_key"`
		VerifierAddress string `yaml:"verifier_address"`
	} `yaml:"chain"`
	EndpointSecret string `yaml:"endpoint_secret"`
	Admin          struct {
		JWTSecret          string `yaml:"jwt_secret"`
		DiagnosticsEnabled bool   `yaml:"diagnostics_enabled"`
	} `yaml:"admin"`
}

// Load reads configuration like Read and validates it.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads config.yaml (with env var expansion) and environment variables
// without validating. A missing file is only an error when CONFIG_PATH was
// set explicitly; otherwise the environment alone is used.
func Read() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	explicit := configPath != ""
	if !explicit {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
		data = nil
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes, expanding ${VAR} references and
// filling unset values from the environment and defaults. It does not
// validate.
func Parse(data []byte) (*Config, error) {
	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	pollInterval, err := parseDuration(raw.Prover.PollInterval, "PROVER_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}
	timeout, err := parseDuration(raw.Prover.Timeout, "PROVER_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseDriver: firstNonEmpty(raw.Database.Driver, envOrDefault("DATABASE_DRIVER", "postgres")),
		DatabaseURL:    firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),

		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		ProofsQueue: firstNonEmpty(raw.Redis.Queues.Proofs, envOrDefault("PROOFS_QUEUE", "lexproof:proofs")),

		ContentPublicKey:  firstNonEmpty(raw.Cipher.PublicKey, os.Getenv("CONTENT_PUBLIC_KEY")),
		ContentPrivateKey: firstNonEmpty(raw.Cipher.PrivateKey, os.Getenv("CONTENT_PRIVATE_KEY")),

		Nylas: NylasConfig{
			APIURI:        firstNonEmpty(raw.Nylas.APIURI, envOrDefault("NYLAS_API_URI", "https://api.us.nylas.com")),
			APIKey:        firstNonEmpty(raw.Nylas.APIKey, os.Getenv("NYLAS_BEARER_TOKEN")),
			GrantID:       firstNonEmpty(raw.Nylas.GrantID, os.Getenv("NYLAS_GRANT_ID")),
			SenderGrantID: firstNonEmpty(raw.Nylas.SenderGrantID, os.Getenv("NYLAS_SENDER_GRANT_ID")),
			WebhookSecret: firstNonEmpty(raw.Nylas.WebhookSecret, os.Getenv("NYLAS_WEBHOOK_SECRET")),
		},

		Prover: ProverConfig{
			URL:            firstNonEmpty(raw.Prover.URL, envOrDefault("PROVER_URL", "https://stable-fake-prover.vlayer.xyz")),
			Token:          firstNonEmpty(raw.Prover.Token, os.Getenv("VLAYER_TOKEN")),
			DNSResolverURL: firstNonEmpty(raw.Prover.DNSResolverURL, envOrDefault("DNS_SERVICE_URL", "https://test-dns.vlayer.xyz/dns-query")),
			Address:        firstNonEmpty(raw.Prover.Address, os.Getenv("PROVER_ADDRESS")),
			ChainID:        raw.Prover.ChainID,
			GasLimit:       raw.Prover.GasLimit,
			PollInterval:   pollInterval,
			Timeout:        timeout,
		},

		Chain: ChainConfig{
			RPCURL:          firstNonEmpty(raw.Chain.RPCURL, os.Getenv("SEPOLIA_RPC_URL")),
			PrivateKey:      firstNonEmpty(raw.Chain.PrivateKey, os.Getenv("PRIVATE_KEY")),
			VerifierAddress: firstNonEmpty(raw.Chain.VerifierAddress, os.Getenv("VERIFIER_ADDRESS")),
		},

		EndpointSecret: firstNonEmpty(raw.EndpointSecret, os.Getenv("ENDPOINT_SECRET")),

		AdminJWTSecret:     firstNonEmpty(raw.Admin.JWTSecret, os.Getenv("ADMIN_JWT_SECRET")),
		DiagnosticsEnabled: raw.Admin.DiagnosticsEnabled || envOrDefaultBool("DIAGNOSTICS_ENABLED", false),

		Port:        raw.Server.Port,
		CORSOrigins: raw.Server.CORSOrigins,
	}

	if cfg.Port == 0 {
		cfg.Port = envOrDefaultInt("PORT", 8080)
	}
	if cfg.Prover.ChainID == 0 {
		cfg.Prover.ChainID = int64(envOrDefaultInt("CHAIN_ID", 11155111)) // Sepolia
	}
	if cfg.Prover.GasLimit == 0 {
		cfg.Prover.GasLimit = uint64(envOrDefaultInt("GAS_LIMIT", 10_000_000))
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = splitList(envOrDefault("CORS_ORIGINS", "*"))
	}

	return cfg, nil
}

// Validate checks that every setting required to serve requests is present.
func (c *Config) Validate() error {
	var missing []string
	require := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}

	if !strings.HasPrefix(strings.ToLower(c.DatabaseDriver), "sqlite") {
		require("database.url", c.DatabaseURL)
	}
	require("cipher.public_key", c.ContentPublicKey)
	require("cipher.private_key", c.ContentPrivateKey)
	require("nylas.api_key", c.Nylas.APIKey)
	require("nylas.grant_id", c.Nylas.GrantID)
	require("nylas.sender_grant_id", c.Nylas.SenderGrantID)
	require("prover.token", c.Prover.Token)
	require("prover.address", c.Prover.Address)
	require("chain.rpc_url", c.Chain.RPCURL)
	require("chain.private_key", c.Chain.PrivateKey)
	require("chain.verifier_address", c.Chain.VerifierAddress)
	if c.DiagnosticsEnabled {
		require("admin.jwt_secret", c.AdminJWTSecret)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Prover.PollInterval <= 0 || c.Prover.Timeout <= 0 {
		return fmt.Errorf("prover poll_interval and timeout must be positive")
	}
	return nil
}

func parseDuration(raw, envKey string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return envOrDefaultDuration(envKey, fallback), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
