// Package secrets encrypts endpoint credentials at rest with AES-256-GCM.
//
// The envelope format is "base64(nonce):base64(ciphertext)". The key is
// generated on first use and stored with 0600 permissions alongside the
// engine's database in the per-user data directory.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	keySize  = 32 // AES-256
	keyFile  = "credentials.key"
	fileMode = 0o600
)

// ErrMalformedEnvelope is returned when a stored credential does not match
// the nonce:ciphertext format.
var ErrMalformedEnvelope = errors.New("malformed credential envelope")

// Cipher performs authenticated encryption of credential strings.
type Cipher struct {
	aead cipher.AEAD
}

// New creates a cipher from a raw 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Load opens the cipher backed by the key file in dir, generating a fresh
// key on first use.
func Load(dir string) (*Cipher, error) {
	path := filepath.Join(dir, keyFile)
	key, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		key = make([]byte, keySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create key dir: %w", err)
		}
		if err := os.WriteFile(path, key, fileMode); err != nil {
			return nil, fmt.Errorf("write key file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return New(key)
}

// Encrypt seals plaintext with a fresh random 96-bit nonce. Two encrypts of
// the same plaintext produce different envelopes.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ct := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(nonce) + ":" + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt opens an envelope. It fails loudly on tag mismatch or a malformed
// envelope; it never degrades to returning the input.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	parts := strings.SplitN(envelope, ":", 2)
	if len(parts) != 2 {
		return "", ErrMalformedEnvelope
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: bad nonce encoding", ErrMalformedEnvelope)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrMalformedEnvelope)
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("%w: nonce size %d", ErrMalformedEnvelope, len(nonce))
	}
	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt credential: %w", err)
	}
	return string(pt), nil
}
