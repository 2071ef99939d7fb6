package krypto

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters, chosen following the OWASP recommendations.
const (
	argonVariant     = "argon2id"
	argonMemoryKiB   = 47104
	argonIterations  = 1
	argonParallelism = 1
	argonSaltLen     = 16
	argonKeyLen      = 32
)

var ErrInvalidInput = errors.New("invalid input")

// Argon2Hash is the parsed representation of an argon2 hash in PHC
// string format. It contains everything needed to re-run the key
// derivation for a candidate value.
type Argon2Hash struct {
	Variant     string
	Version     int
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	Salt        []byte
	Hash        []byte
}

// HashArgon2 hashes data using the argon2id algorithm with a random salt.
func HashArgon2(data []byte) (Argon2Hash, error) {
	if len(data) == 0 {
		return Argon2Hash{}, fmt.Errorf("no data provided: %w", ErrInvalidInput)
	}

	salt, err := randBytes(argonSaltLen)
	if err != nil {
		return Argon2Hash{}, err
	}

	return hashWithSalt(data, salt), nil
}

// HashArgon2WithKey hashes data using the argon2id algorithm with the
// provided key as the salt. The result is deterministic for the same
// data and key, which makes it usable as a blind index.
func HashArgon2WithKey(data []byte, key Key) (Argon2Hash, error) {
	if len(data) == 0 {
		return Argon2Hash{}, fmt.Errorf("no data provided: %w", ErrInvalidInput)
	}

	return hashWithSalt(data, key.value), nil
}

func hashWithSalt(data, salt []byte) Argon2Hash {
	hash := argon2.IDKey(data, salt, argonIterations, argonMemoryKiB, argonParallelism, argonKeyLen)

	saltCopy := make([]byte, len(salt))
	copy(saltCopy, salt)

	return Argon2Hash{
		Variant:     argonVariant,
		Version:     argon2.Version,
		MemoryKiB:   argonMemoryKiB,
		Iterations:  argonIterations,
		Parallelism: argonParallelism,
		Salt:        saltCopy,
		Hash:        hash,
	}
}

// ParseArgon2Hash parses a hash in PHC string format:
//
//	$argon2id$v=19$m=47104,t=1,p=1$<base64 salt>$<base64 hash>
//
// Only the argon2id variant is accepted.
func ParseArgon2Hash(raw string) (Argon2Hash, error) {
	parts := strings.Split(raw, "$")
	if len(parts) != 6 || parts[0] != "" {
		return Argon2Hash{}, fmt.Errorf("malformed hash: %w", ErrInvalidInput)
	}

	if parts[1] != argonVariant {
		return Argon2Hash{}, fmt.Errorf("unsupported variant %q: %w", parts[1], ErrInvalidInput)
	}

	version, err := parseAssignment(parts[2], "v")
	if err != nil {
		return Argon2Hash{}, err
	}

	if version != argon2.Version {
		return Argon2Hash{}, fmt.Errorf("unsupported version %d: %w", version, ErrInvalidInput)
	}

	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		return Argon2Hash{}, fmt.Errorf("malformed parameters: %w", ErrInvalidInput)
	}

	memory, err := parseAssignment(params[0], "m")
	if err != nil {
		return Argon2Hash{}, err
	}

	iterations, err := parseAssignment(params[1], "t")
	if err != nil {
		return Argon2Hash{}, err
	}

	parallelism, err := parseAssignment(params[2], "p")
	if err != nil {
		return Argon2Hash{}, err
	}

	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil {
		return Argon2Hash{}, fmt.Errorf("malformed salt: %w", ErrInvalidInput)
	}

	hash, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil {
		return Argon2Hash{}, fmt.Errorf("malformed hash: %w", ErrInvalidInput)
	}

	return Argon2Hash{
		Variant:     argonVariant,
		Version:     version,
		MemoryKiB:   uint32(memory),
		Iterations:  uint32(iterations),
		Parallelism: uint8(parallelism),
		Salt:        salt,
		Hash:        hash,
	}, nil
}

func parseAssignment(s, key string) (int, error) {
	val, ok := strings.CutPrefix(s, key+"=")
	if !ok {
		return 0, fmt.Errorf("missing %q parameter: %w", key, ErrInvalidInput)
	}

	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("non-numeric %q parameter: %w", key, ErrInvalidInput)
	}

	return n, nil
}

// MatchBytes re-derives the hash for data using the parameters and salt
// of h and compares the result in constant time.
func (h Argon2Hash) MatchBytes(data []byte) bool {
	derived := argon2.IDKey(data, h.Salt, h.Iterations, h.MemoryKiB, h.Parallelism, uint32(len(h.Hash)))
	return subtle.ConstantTimeCompare(derived, h.Hash) == 1
}

// String returns the hash in PHC string format.
func (h Argon2Hash) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		h.Variant,
		h.Version,
		h.MemoryKiB,
		h.Iterations,
		h.Parallelism,
		base64.RawStdEncoding.EncodeToString(h.Salt),
		base64.RawStdEncoding.EncodeToString(h.Hash),
	)
}

func (h Argon2Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Argon2Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseArgon2Hash(string(text))
	if err != nil {
		return err
	}

	*h = parsed

	return nil
}

// Scan implements sql.Scanner so hashes can be read from the database.
func (h *Argon2Hash) Scan(src any) error {
	s, ok := src.(string)
	if !ok {
		return fmt.Errorf("cannot scan %T into Argon2Hash", src)
	}

	return h.UnmarshalText([]byte(s))
}
