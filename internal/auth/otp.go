package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/krypto"
)

const otpDigits = 6

var ErrInvalidOTPCode = errors.New("invalid one-time code")

// Challenge is an outstanding two-factor login challenge. At most one
// challenge exists per account, issuing a new one replaces the old.
type Challenge struct {
	UserID    uuid.UUID
	CodeHash  krypto.Argon2Hash
	ExpiresAt time.Time
	CreatedAt time.Time
}

// OTPCode is a fixed-width numeric one-time code.
//
// Like tokens, the only place a plaintext code should show up is in
// the email to the user. Only the hash is persisted.
type OTPCode string

// GenerateOTPCode creates a new uniformly random code.
func GenerateOTPCode() (OTPCode, error) {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	return OTPCode(fmt.Sprintf("%0*d", otpDigits, n)), nil
}

// ParseOTPCode parses a code from a string.
func ParseOTPCode(raw string) (OTPCode, error) {
	if len(raw) != otpDigits {
		return "", ErrInvalidOTPCode
	}

	for _, c := range raw {
		if c < '0' || c > '9' {
			return "", ErrInvalidOTPCode
		}
	}

	return OTPCode(raw), nil
}

// Hash hashes the code using the argon2id algorithm.
func (c OTPCode) Hash() (krypto.Argon2Hash, error) {
	return krypto.HashArgon2([]byte(c))
}

// Match checks if the code matches the given hash.
func (c OTPCode) Match(h krypto.Argon2Hash) bool {
	return h.MatchBytes([]byte(c))
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (c *OTPCode) UnmarshalText(text []byte) error {
	parsed, err := ParseOTPCode(string(text))
	if err != nil {
		return err
	}

	*c = parsed
	return nil
}

// LogValue implements the slog.Valuer interface.
func (c OTPCode) LogValue() slog.Value {
	return slog.StringValue(krypto.SecretMarker)
}
