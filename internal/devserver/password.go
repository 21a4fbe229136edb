package devserver

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var ErrInvalidHash = errors.New("devserver: invalid password hash")

// hashParams are the Argon2id cost parameters. The defaults are small so
// seeding users and running tests stays fast.
type hashParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var devHashParams = hashParams{
	MemoryKiB:   8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

const (
	minPasswordLen = 8
	maxPasswordLen = 128
)

func checkPassword(pw string) error {
	n := len([]rune(pw))
	if n < minPasswordLen || n > maxPasswordLen {
		return fmt.Errorf("password must be %d..%d characters", minPasswordLen, maxPasswordLen)
	}
	return nil
}

// hashPassword encodes as $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<key>.
func hashPassword(p hashParams, password string) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

func verifyPassword(encoded, password string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return false, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return false, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return false, ErrInvalidHash
	}
	want, err := b64.DecodeString(parts[5])
	if err != nil || len(want) < 16 || len(want) > 128 {
		return false, ErrInvalidHash
	}

	got := argon2.IDKey([]byte(password), salt, it, mem, uint8(par), uint32(len(want))) // #nosec G115 -- bounded above.
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
