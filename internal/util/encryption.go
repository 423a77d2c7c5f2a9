package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	CipherAESGCM            = "aes-256-gcm"
	CipherXChaCha20Poly1305 = "xchacha20-poly1305"

	keySize = 32
)

// ErrCrypto marks every decryption failure: tampered, truncated or foreign input.
var ErrCrypto = errors.New("crypto error")

var cipherTags = map[string]string{
	CipherAESGCM:            "g1",
	CipherXChaCha20Poly1305: "x1",
}

var packedEncoding = base64.RawURLEncoding

// Vault seals token material with a single AEAD built once from the operator key.
// Packed form: <tag>.<base64url(nonce)>.<base64url(ciphertext)>.
type Vault struct {
	aead cipher.AEAD
	tag  string
}

// NewVault decodes a 32-byte key given as 64 hex chars or standard base64.
func NewVault(encodedKey, algorithm string) (*Vault, error) {
	key, err := decodeKey(encodedKey)
	if err != nil {
		return nil, err
	}

	tag, ok := cipherTags[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported cipher %q", algorithm)
	}

	var aead cipher.AEAD
	switch algorithm {
	case CipherAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("create cipher: %w", err)
		}
		aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("create GCM: %w", err)
		}
	case CipherXChaCha20Poly1305:
		aead, err = chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("create XChaCha20-Poly1305: %w", err)
		}
	}

	return &Vault{aead: aead, tag: tag}, nil
}

func decodeKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}

	if len(encoded) == hex.EncodedLen(keySize) {
		if key, err := hex.DecodeString(encoded); err == nil {
			return key, nil
		}
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("encryption key must be 64 hex chars or base64: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	return key, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := v.aead.Seal(nil, nonce, []byte(plaintext), []byte(v.tag))

	return v.tag + "." + packedEncoding.EncodeToString(nonce) + "." + packedEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens a value produced by Encrypt. All failures wrap ErrCrypto.
func (v *Vault) Decrypt(packed string) (string, error) {
	parts := strings.Split(packed, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: malformed ciphertext", ErrCrypto)
	}
	if parts[0] != v.tag {
		return "", fmt.Errorf("%w: ciphertext tag %q does not match vault cipher", ErrCrypto, parts[0])
	}

	nonce, err := packedEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: decode nonce: %v", ErrCrypto, err)
	}
	if len(nonce) != v.aead.NonceSize() {
		return "", fmt.Errorf("%w: nonce has wrong size", ErrCrypto)
	}

	ciphertext, err := packedEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", ErrCrypto, err)
	}
	if len(ciphertext) < v.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCrypto)
	}

	plaintext, err := v.aead.Open(nil, nonce, ciphertext, []byte(v.tag))
	if err != nil {
		return "", fmt.Errorf("%w: decrypt: %v", ErrCrypto, err)
	}

	return string(plaintext), nil
}
