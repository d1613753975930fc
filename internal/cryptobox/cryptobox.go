// Package cryptobox encrypts and decrypts API key material at rest.
//
// Secrets are sealed with AES-256-CBC using a random IV per message.
// The wire form is base64(iv || ciphertext); the plaintext is padded
// with PKCS#7 to the block size before encryption.
package cryptobox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// KeySize is the required AES key length in bytes.
const KeySize = 32

var (
	// ErrInvalidKey is returned when the encryption key has the wrong length.
	ErrInvalidKey = errors.New("cryptobox: encryption key must be 32 bytes")

	// ErrMalformedBlob is returned when a stored blob cannot be decrypted.
	ErrMalformedBlob = errors.New("cryptobox: malformed encrypted blob")
)

// Box seals and opens secrets with a fixed symmetric key.
type Box struct {
	key []byte
}

// New creates a Box from a raw 32-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Box{key: k}, nil
}

// NewFromBase64 creates a Box from a base64-encoded 32-byte key, the
// form keys are stored in configuration.
func NewFromBase64(encoded string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: decode key: %w", err)
	}
	return New(key)
}

// GenerateKey returns a fresh random key in base64 form.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("cryptobox: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext and returns base64(iv || ciphertext).
func (b *Box) Encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("cryptobox: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("cryptobox: generate iv: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a blob produced by Encrypt. Any structural problem,
// including a wrong key surfacing as bad padding, is reported as
// ErrMalformedBlob.
func (b *Box) Decrypt(blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrMalformedBlob
	}
	if len(raw) < 2*aes.BlockSize || (len(raw)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, ErrMalformedBlob
	}

	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: %w", err)
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, ErrMalformedBlob
	}
	return plaintext, nil
}

// Fingerprint returns a hex sha256 digest of the key mixed with a
// label, used to detect key or mode changes across restarts.
func (b *Box) Fingerprint(label string) string {
	h := sha256.New()
	h.Write([]byte(label))
	h.Write(b.key)
	return hex.EncodeToString(h.Sum(nil))
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padding")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, c := range data[len(data)-padding:] {
		if int(c) != padding {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}
