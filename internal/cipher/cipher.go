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

// Package cipher encrypts short text fields (subject, body) before they are
// persisted. It uses ECIES over secp256k1 and produces hex ciphertext that is
// interchangeable with eciesjs.
package cipher

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	ecies "github.com/ecies/go/v2"
)

var (
	// ErrDecryption is returned when ciphertext is malformed or was produced
	// for a different key.
	ErrDecryption = errors.New("decryption failed")

	// ErrNoPrivateKey is returned by Decrypt on an encrypt-only cipher.
	ErrNoPrivateKey = errors.New("cipher has no private key")
)

// Cipher holds the process-wide content keypair. It is safe for concurrent
// use; keys are read-only after construction.
type Cipher struct {
	pub  *ecies.PublicKey
	priv *ecies.PrivateKey
}

// KeyPair is hex-encoded key material as printed by the bootstrap tooling.
type KeyPair struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// New builds a cipher from hex keys. The private key may be empty, in which
// case the cipher can only encrypt. If the public key is empty it is derived
// from the private key.
func New(publicKeyHex, privateKeyHex string) (*Cipher, error) {
	c := &Cipher{}

	if k := trimHex(privateKeyHex); k != "" {
		priv, err := ecies.NewPrivateKeyFromHex(k)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		c.priv = priv
		c.pub = priv.PublicKey
	}

	if k := trimHex(publicKeyHex); k != "" {
		pub, err := ecies.NewPublicKeyFromHex(k)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		if c.priv != nil && pub.Hex(false) != c.priv.PublicKey.Hex(false) {
			return nil, fmt.Errorf("public key does not match private key")
		}
		c.pub = pub
	}

	if c.pub == nil {
		return nil, fmt.Errorf("no content key configured")
	}

	return c, nil
}

// FromKeyPair builds a cipher from a freshly generated pair.
func FromKeyPair(kp KeyPair) (*Cipher, error) {
	return New(kp.PublicKey, kp.PrivateKey)
}

// CanDecrypt reports whether the cipher holds a private key.
func (c *Cipher) CanDecrypt() bool {
	return c.priv != nil
}

// Encrypt seals plaintext for the configured public key and returns the
// ciphertext hex-encoded.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	ct, err := ecies.Encrypt(c.pub, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return hex.EncodeToString(ct), nil
}

// Decrypt opens hex-encoded ciphertext with the configured private key.
func (c *Cipher) Decrypt(ciphertextHex string) (string, error) {
	if c.priv == nil {
		return "", ErrNoPrivateKey
	}

	ct, err := hex.DecodeString(trimHex(ciphertextHex))
	if err != nil {
		return "", fmt.Errorf("%w: invalid hex: %v", ErrDecryption, err)
	}

	pt, err := ecies.Decrypt(c.priv, ct)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(pt), nil
}

// GenerateKeyPair creates a new secp256k1 keypair. The public key is
// returned in uncompressed form, matching eciesjs' toHex().
func GenerateKeyPair() (KeyPair, error) {
	priv, err := ecies.GenerateKey()
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key: %w", err)
	}
	return KeyPair{
		PrivateKey: priv.Hex(),
		PublicKey:  priv.PublicKey.Hex(false),
	}, nil
}

// RoundTrip encrypts sample with kp and decrypts it again, returning an
// error if the result differs.
func RoundTrip(kp KeyPair, sample string) error {
	c, err := FromKeyPair(kp)
	if err != nil {
		return err
	}
	ct, err := c.Encrypt(sample)
	if err != nil {
		return err
	}
	pt, err := c.Decrypt(ct)
	if err != nil {
		return err
	}
	if pt != sample {
		return fmt.Errorf("round trip mismatch: got %q", pt)
	}
	return nil
}

func trimHex(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	return strings.TrimPrefix(s, "0X")
}
