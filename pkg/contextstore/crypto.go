package contextstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks an encrypted record. The version segment lets the
// format evolve without guessing at decode time.
const sealedPrefix = "sealed:v1:"

// Sealer encrypts context records at rest with AES-256-GCM. A nil Sealer
// stores records in plaintext.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a sealing key from the passphrase. An empty passphrase
// yields a nil sealer, meaning plaintext storage.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, nil
	}

	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext into the stored representation.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if s == nil {
		return plaintext, nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	encoded := sealedPrefix + base64.StdEncoding.EncodeToString(sealed)
	return []byte(encoded), nil
}

// Open decrypts a stored representation. Plaintext records pass through
// untouched, so turning sealing on does not orphan existing records.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	text := string(data)
	if !strings.HasPrefix(text, sealedPrefix) {
		return data, nil
	}
	if s == nil {
		return nil, fmt.Errorf("record is sealed but no passphrase is configured")
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(text, sealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed record: %w", err)
	}
	if len(sealed) < s.aead.NonceSize() {
		return nil, fmt.Errorf("sealed record is truncated")
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal record: %w", err)
	}
	return plaintext, nil
}
