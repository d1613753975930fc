// Package keystore manages the lifecycle and at-rest representation of
// API key records.
package keystore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/apisentinel/sentinel/internal/cryptobox"
)

var (
	// ErrNotFound is returned when no key record matches the query.
	ErrNotFound = errors.New("keystore: key not found")

	// ErrCryptoFailure is returned when secure random generation or
	// encryption fails while issuing a key. It must propagate; a key
	// is never issued with weak material.
	ErrCryptoFailure = errors.New("keystore: crypto failure")

	// ErrNotReversible is returned when a raw secret is requested but
	// the store holds only a one-way hash.
	ErrNotReversible = errors.New("keystore: digest is not reversible")
)

// SampleLength is how many trailing characters of the raw secret are
// kept for display.
const SampleLength = 6

// Record is a stored API key. The raw secret is never stored; Digest
// holds its mode-dependent at-rest form and LookupDigest an indexed
// one-way hash used for lookup in both modes.
type Record struct {
	ID           string     `db:"id"`
	OwnerID      string     `db:"owner_id"`
	Digest       string     `db:"digest"`
	LookupDigest string     `db:"lookup_digest"`
	Sample       string     `db:"sample"`
	CreatedAt    time.Time  `db:"created_at"`
	ExpiresAt    *time.Time `db:"expires_at"`
	Blocked      bool       `db:"blocked"`
}

// Expired reports whether the record has an expiry in the past.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// LookupDigest returns the hex SHA-256 of a raw secret, the indexed
// form every lookup goes through.
func LookupDigest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DigestStrategy computes the at-rest digest for a raw secret.
type DigestStrategy interface {
	// Name identifies the mode, "hashed" or "encrypted".
	Name() string

	// AtRest converts a raw secret into its stored digest.
	AtRest(raw string) (string, error)

	// Recover converts a stored digest back into the raw secret, or
	// ErrNotReversible in hashed mode.
	Recover(digest string) (string, error)

	// Fingerprint identifies the mode and active key material, used
	// to detect rotation across restarts.
	Fingerprint() string
}

type hashedStrategy struct{}

// HashedMode stores secrets as one-way SHA-256 hashes.
func HashedMode() DigestStrategy {
	return hashedStrategy{}
}

func (hashedStrategy) Name() string { return "hashed" }

func (hashedStrategy) AtRest(raw string) (string, error) {
	return LookupDigest(raw), nil
}

func (hashedStrategy) Recover(string) (string, error) {
	return "", ErrNotReversible
}

func (hashedStrategy) Fingerprint() string {
	sum := sha256.Sum256([]byte("hashed"))
	return hex.EncodeToString(sum[:])
}

type encryptedStrategy struct {
	box *cryptobox.Box
}

// EncryptedMode stores secrets reversibly encrypted with the given box.
func EncryptedMode(box *cryptobox.Box) DigestStrategy {
	return encryptedStrategy{box: box}
}

func (encryptedStrategy) Name() string { return "encrypted" }

func (s encryptedStrategy) AtRest(raw string) (string, error) {
	blob, err := s.box.Encrypt([]byte(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	return blob, nil
}

func (s encryptedStrategy) Recover(digest string) (string, error) {
	raw, err := s.box.Decrypt(digest)
	if err != nil {
		return "", fmt.Errorf("recover secret: %w", err)
	}
	return string(raw), nil
}

func (s encryptedStrategy) Fingerprint() string {
	return s.box.Fingerprint("encrypted")
}
