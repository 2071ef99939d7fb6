package auth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/email"
	"github.com/mwestra/ballotbox/internal/krypto"
)

var (
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidCivicNumber = errors.New("invalid civic number")
)

// Role determines what an account is allowed to do. An account is
// either a regular voter or the admin that manages candidates.
type Role string

const (
	RoleVoter Role = "voter"
	RoleAdmin Role = "admin"
)

// ParseRole parses a role from a string.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleVoter, RoleAdmin:
		return Role(raw), nil
	}
	return "", ErrInvalidRole
}

const (
	minCivicNumberDigits = 6
	maxCivicNumberDigits = 20
)

// CivicNumber is the government-issued identifier that uniquely
// identifies a voter. It doubles as the login identifier.
//
// Civic numbers are personal data, they are stored encrypted and
// looked up via a blind index. They should never show up in logs.
type CivicNumber string

// ParseCivicNumber parses a civic number from a string. Civic numbers
// consist of digits only.
func ParseCivicNumber(raw string) (CivicNumber, error) {
	if len(raw) < minCivicNumberDigits || len(raw) > maxCivicNumberDigits {
		return "", ErrInvalidCivicNumber
	}

	for _, c := range raw {
		if c < '0' || c > '9' {
			return "", ErrInvalidCivicNumber
		}
	}

	return CivicNumber(raw), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (c *CivicNumber) UnmarshalText(text []byte) error {
	parsed, err := ParseCivicNumber(string(text))
	if err != nil {
		return err
	}

	*c = parsed
	return nil
}

// LogValue implements the slog.Valuer interface.
func (c CivicNumber) LogValue() slog.Value {
	return slog.StringValue(krypto.SecretMarker)
}

// Account contains the data for a single account, either a voter or
// the admin.
type Account struct {
	ID               uuid.UUID
	Name             string
	Email            email.Address
	Age              int
	Mobile           string
	Address          string
	CivicNumber      CivicNumber
	PasswordHash     krypto.Argon2Hash
	Role             Role
	HasVoted         bool
	EmailVerified    bool
	TwoFactorEnabled bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
