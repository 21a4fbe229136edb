// Package ids provides ULID primitives used for tab identities and envelope ids.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs sort by creation time, which keeps tab ids readable in logs.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ULID is NewULID for call sites that cannot handle an error. If the
// entropy source fails it falls back to ulid.Make, which carries the current
// wall-clock time instead of now.
func ULID(now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		return ulid.Make().String()
	}
	return id
}
