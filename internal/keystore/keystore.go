// fleetupdate keystore: at-rest protection for a signing private key.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package keystore protects a PEM-encoded signing private key at rest
// with a passphrase, the same PBKDF2-derived AES-256-GCM construction
// the teacher's pkg/crypto.Encryptor uses for BMC password storage,
// retargeted here from "password" to "signing key passphrase" and
// carrying a random per-secret salt rather than one derived from the
// passphrase itself.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

// Encryptor protects and recovers a signing private key with a
// passphrase.
type Encryptor struct {
	passphrase []byte
}

// NewEncryptor builds an Encryptor bound to passphrase.
func NewEncryptor(passphrase string) (*Encryptor, error) {
	if passphrase == "" {
		return nil, errors.New("keystore: passphrase cannot be empty")
	}
	return &Encryptor{passphrase: []byte(passphrase)}, nil
}

// Protect encrypts keyPEM (a PEM-encoded private key) and returns a
// base64 blob of salt || nonce || ciphertext, suitable for writing to
// disk alongside the Descriptor's other signing material.
func (e *Encryptor) Protect(keyPEM []byte) (string, error) {
	if len(keyPEM) == 0 {
		return "", errors.New("keystore: key material cannot be empty")
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("keystore: generate salt: %w", err)
	}
	key := pbkdf2.Key(e.passphrase, salt, iterations, keySize, sha256.New)

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("keystore: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, keyPEM, nil)

	combined := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	combined = append(combined, salt...)
	combined = append(combined, nonce...)
	combined = append(combined, ciphertext...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

// Open recovers the PEM-encoded key material from a blob produced by
// Protect.
func (e *Encryptor) Open(blob string) ([]byte, error) {
	if blob == "" {
		return nil, errors.New("keystore: blob cannot be empty")
	}
	combined, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("keystore: decode base64: %w", err)
	}
	if len(combined) < saltSize {
		return nil, errors.New("keystore: blob too short")
	}
	salt, rest := combined[:saltSize], combined[saltSize:]
	key := pbkdf2.Key(e.passphrase, salt, iterations, keySize, sha256.New)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, errors.New("keystore: blob too short")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: create GCM: %w", err)
	}
	return gcm, nil
}
