package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	fingerprintPrefix  = "fp:"
	fingerprintKeySize = 32
)

// Fingerprinter maps values to short keyed BLAKE2b digests. Everyone who
// shares the key maps equal values to equal fingerprints; without it a
// fingerprint cannot be checked against a guessed token.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter copies key, which must be 1 to 64 bytes long.
func NewFingerprinter(key []byte) (*Fingerprinter, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, fmt.Errorf("storage: fingerprint key must be 1..%d bytes, got %d", blake2b.Size, len(key))
	}
	return &Fingerprinter{key: append([]byte(nil), key...)}, nil
}

// NewFingerprintKey returns a random key for NewFingerprinter.
func NewFingerprintKey() ([]byte, error) {
	key := make([]byte, fingerprintKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Join(errors.New("storage: fingerprint key"), err)
	}
	return key, nil
}

// Sum fingerprints value. Empty stays empty so that presence and absence
// survive the mapping.
func (f *Fingerprinter) Sum(value string) string {
	if value == "" {
		return ""
	}
	h, err := blake2b.New256(f.key)
	if err != nil {
		// Unreachable: the key length is checked in NewFingerprinter.
		panic(err)
	}
	_, _ = h.Write([]byte(value))
	return fingerprintPrefix + hex.EncodeToString(h.Sum(nil)[:16])
}
