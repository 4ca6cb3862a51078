// Package chatcrypto seals message text at rest with XChaCha20-Poly1305.
package chatcrypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealedPrefix marks text produced by Seal so plaintext written before sealing
// was enabled still reads back.
const sealedPrefix = "enc:v1:"

var (
	ErrInvalidKey = errors.New("chat key must be 32 bytes, base64 encoded")
	ErrMalformed  = errors.New("malformed sealed text")
)

// Sealer encrypts message text. The conversation id is bound as associated
// data, so a sealed text copied into another conversation fails to open.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a base64 encoded 32-byte key.
func NewSealer(encodedKey string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// GenerateKey returns a fresh base64 encoded key.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func (s *Sealer) Seal(plaintext, conversationID string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(conversationID))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Text without the sealed prefix is returned unchanged.
func (s *Sealer) Open(text, conversationID string) (string, error) {
	encoded, ok := strings.CutPrefix(text, sealedPrefix)
	if !ok {
		return text, nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < s.aead.NonceSize() {
		return "", ErrMalformed
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(conversationID))
	if err != nil {
		return "", fmt.Errorf("failed to open sealed text: %w", err)
	}
	return string(plain), nil
}

// IsSealed reports whether text was produced by Seal.
func IsSealed(text string) bool {
	return strings.HasPrefix(text, sealedPrefix)
}
