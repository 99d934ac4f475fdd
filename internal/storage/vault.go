// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists local client state under ~/.parley: the
// encrypted auth token and the preference store (drafts, last model,
// cached model list).
package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jeranaias/parley-tui/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// nonceSize is the AES-GCM nonce size (96 bits).
	nonceSize = 12

	// keySize is the AES-256 key size.
	keySize = 32

	// saltSize is the per-encryption salt for key derivation.
	saltSize = 32

	// pbkdf2Iterations stretches the keyfile material.
	// OWASP 2023 recommends 600,000+ for PBKDF2-SHA-256.
	pbkdf2Iterations = 600000

	keyFileName   = "vault.key"
	tokenFileName = "token.enc"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoToken indicates no token has been stored.
	ErrNoToken = errors.New("no stored auth token")

	// ErrVaultTampered indicates decryption failed: wrong key material or
	// a modified token file.
	ErrVaultTampered = errors.New("token vault decryption failed: authentication tag mismatch")
)

// =============================================================================
// VAULT
// =============================================================================

// Vault stores the auth token encrypted at rest with AES-256-GCM. Key
// material is a random keyfile next to the token, stretched per-write
// with PBKDF2 and a fresh salt, so copying the token file alone is
// useless.
type Vault struct {
	dir string
}

// NewVault creates a vault rooted at dir (usually ~/.parley).
func NewVault(dir string) *Vault {
	return &Vault{dir: dir}
}

// zeroBytes clears sensitive material.
// SECURITY: Zero key material to prevent memory disclosure via crash dumps.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// loadOrCreateKeyMaterial reads the keyfile, creating it on first use.
func (v *Vault) loadOrCreateKeyMaterial() ([]byte, error) {
	path := filepath.Join(v.dir, keyFileName)

	material, err := os.ReadFile(path)
	if err == nil {
		if len(material) != keySize {
			return nil, fmt.Errorf("keyfile %s is corrupt (%d bytes)", path, len(material))
		}
		return material, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read keyfile: %w", err)
	}

	material = make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}
	// SECURITY: keyfile is the root secret, 0600 in a 0700 directory
	if err := util.AtomicWriteFileWithDir(path, material, 0600, 0700); err != nil {
		return nil, fmt.Errorf("failed to write keyfile: %w", err)
	}
	return material, nil
}

// deriveKey stretches the keyfile material with a salt.
func deriveKey(material, salt []byte) []byte {
	return pbkdf2.Key(material, salt, pbkdf2Iterations, keySize, sha256.New)
}

func newCipher(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// SaveToken encrypts and stores the token. File layout:
// salt(32) || nonce(12) || ciphertext.
func (v *Vault) SaveToken(token string) error {
	material, err := v.loadOrCreateKeyMaterial()
	if err != nil {
		return err
	}
	defer zeroBytes(material)

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key := deriveKey(material, salt)
	defer zeroBytes(key)

	gcm, err := newCipher(key)
	if err != nil {
		return err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(token), nil)

	out := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	path := filepath.Join(v.dir, tokenFileName)
	if err := util.AtomicWriteFileWithDir(path, out, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// LoadToken decrypts and returns the stored token.
func (v *Vault) LoadToken() (string, error) {
	path := filepath.Join(v.dir, tokenFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	if len(data) < saltSize+nonceSize+1 {
		return "", ErrVaultTampered
	}

	material, err := v.loadOrCreateKeyMaterial()
	if err != nil {
		return "", err
	}
	defer zeroBytes(material)

	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	ciphertext := data[saltSize+nonceSize:]

	key := deriveKey(material, salt)
	defer zeroBytes(key)

	gcm, err := newCipher(key)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrVaultTampered
	}
	return string(plaintext), nil
}

// DeleteToken removes the stored token (logout). Missing is not an error.
func (v *Vault) DeleteToken() error {
	err := os.Remove(filepath.Join(v.dir, tokenFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}

// HasToken reports whether a token file exists without decrypting it.
func (v *Vault) HasToken() bool {
	_, err := os.Stat(filepath.Join(v.dir, tokenFileName))
	return err == nil
}
