// Package fieldcrypt seals individual record fields at rest with AES-256-GCM.
//
// The key is derived from an operator passphrase with PBKDF2, salted with
// the store id so two stores sharing a passphrase still get distinct keys.
// Sealed values are text: "enc:v1:" followed by base64(nonce || ciphertext).
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Prefix marks a sealed value.
	Prefix = "enc:v1:"

	keySize    = 32
	nonceSize  = 12
	iterations = 100000
)

// ErrCorrupt is returned when a sealed value cannot be decoded or fails
// authentication.
var ErrCorrupt = errors.New("sealed value corrupt")

// Sealer implements store.FieldSealer.
type Sealer struct {
	gcm cipher.AEAD
}

// New derives the sealing key for storeID from passphrase.
func New(passphrase, storeID string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is required")
	}
	if storeID == "" {
		return nil, errors.New("store id is required")
	}
	key := pbkdf2.Key([]byte(passphrase), []byte("storesync:"+storeID), iterations, keySize, sha256.New)
	return NewWithKey(key)
}

// NewWithKey builds a Sealer from a raw 32-byte key.
func NewWithKey(key []byte) (*Sealer, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, plaintext, nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. A value without the sealed prefix
// was written before sealing was enabled and is returned as its own JSON
// string encoding.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	if !IsSealed(sealed) {
		return json.Marshal(sealed)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, Prefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("%w: too short", ErrCorrupt)
	}
	plain, err := s.gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return plain, nil
}

// IsSealed reports whether v carries the sealed prefix.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, Prefix)
}
