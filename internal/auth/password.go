package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

// Password length limits, counted in characters.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// defaultArgon holds the Argon2id cost used for new hashes (OWASP 2025 recommendation).
var defaultArgon = argonParams{
	time:    3,
	memory:  64 * 1024, // KiB
	threads: 1,
	keyLen:  32,
	saltLen: 16,
}

// ErrInvalidHash is returned for stored hashes that are not Argon2id PHC strings.
var ErrInvalidHash = errors.New("invalid password hash")

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
	keyLen  uint32
	saltLen int
}

// CheckPasswordPolicy reports whether password is acceptable as a new
// account password.
func CheckPasswordPolicy(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < MinPasswordLength:
		return fmt.Errorf("%w: at least %d characters", ErrWeakPassword, MinPasswordLength)
	case n > MaxPasswordLength:
		return fmt.Errorf("%w: at most %d characters", ErrWeakPassword, MaxPasswordLength)
	case strings.TrimSpace(password) == "":
		return fmt.Errorf("%w: blank", ErrWeakPassword)
	}
	return nil
}

// HashPassword hashes password with Argon2id and returns a PHC string:
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	p := defaultArgon
	salt := make([]byte, p.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether password matches encodedHash. The cost
// parameters are read from the hash, so older hashes keep verifying after
// defaultArgon changes.
func VerifyPassword(password, encodedHash string) (bool, error) {
	p, salt, key, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

func decodePHC(encoded string) (p argonParams, salt, key []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" { //nolint:mnd // "", alg, version, params, salt, key
		return p, nil, nil, fmt.Errorf("%w: malformed", ErrInvalidHash)
	}
	if parts[1] != "argon2id" {
		return p, nil, nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil { //nolint:govet // shadow
		return p, nil, nil, fmt.Errorf("%w: version: %w", ErrInvalidHash, err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidHash, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil { //nolint:govet // shadow
		return p, nil, nil, fmt.Errorf("%w: parameters: %w", ErrInvalidHash, err)
	}

	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return p, nil, nil, fmt.Errorf("%w: salt: %w", ErrInvalidHash, err)
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return p, nil, nil, fmt.Errorf("%w: key: %w", ErrInvalidHash, err)
	}
	if len(key) == 0 {
		return p, nil, nil, fmt.Errorf("%w: empty key", ErrInvalidHash)
	}

	p.saltLen = len(salt)
	p.keyLen = uint32(len(key)) //nolint:gosec // G115: decoded key length fits uint32
	return p, salt, key, nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// dummyPasswordHash returns a valid hash of a random password, used to keep
// unknown-account logins as slow as real ones.
func dummyPasswordHash() string {
	dummyHashOnce.Do(func() {
		b := make([]byte, defaultArgon.saltLen)
		_, _ = rand.Read(b) //nolint:errcheck // crypto/rand does not fail
		dummyHash, _ = HashPassword(base64.RawStdEncoding.EncodeToString(b)) //nolint:errcheck // only fails on rand
	})
	return dummyHash
}
