package devicebind

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SoftwareProvider simulates device binding with an AES-256-GCM key
// persisted to disk. It provides no hardware root of trust -- anyone who
// can read the key file can unwrap everything sealed under it -- and exists
// only so decdidctl runs end to end on machines without a TPM.
type SoftwareProvider struct {
	aead cipher.AEAD
}

// NewSoftwareProvider loads the wrapping key from keyPath, generating and
// persisting a fresh one on first use.
func NewSoftwareProvider(keyPath string) (*SoftwareProvider, error) {
	if keyPath == "" {
		return nil, errors.New("devicebind: software provider requires a key path")
	}

	key, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("devicebind: aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("devicebind: cipher.NewGCM: %w", err)
	}
	return &SoftwareProvider{aead: aead}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != 32 {
			return nil, fmt.Errorf("devicebind: key file %s is %d bytes, want 32", path, len(data))
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("devicebind: reading %s: %w", path, err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("devicebind: generating key: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("devicebind: creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("devicebind: writing %s: %w", path, err)
	}
	return key, nil
}

// Available always reports true: the software provider has no hardware
// dependency to fail.
func (s *SoftwareProvider) Available() bool { return true }

// Wrap seals plaintext with a fresh random nonce prefixed to the ciphertext.
func (s *SoftwareProvider) Wrap(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("devicebind: generating nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Unwrap reverses Wrap.
func (s *SoftwareProvider) Unwrap(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("devicebind: sealed data shorter than nonce")
	}
	nonce, ciphertext := sealed[:n], sealed[n:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("devicebind: unseal: %w", err)
	}
	return plaintext, nil
}

// Close is a no-op: there is no hardware resource to release.
func (s *SoftwareProvider) Close() error { return nil }
