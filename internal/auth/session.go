package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/krypto"
)

var (
	// ErrNoSession indicates no session credential was provided.
	ErrNoSession = errors.New("no session credential")
	// ErrMalformedSession indicates the credential could not be parsed.
	ErrMalformedSession = errors.New("malformed session credential")
	// ErrInvalidSession indicates the credential is expired or its
	// signature does not check out.
	ErrInvalidSession = errors.New("invalid session credential")
)

// SessionAuthenticator issues and validates stateless session
// credentials. Credentials are HS256 signed JWTs holding the account
// ID and an expiry, nothing is persisted server-side.
type SessionAuthenticator struct {
	secret krypto.Secret
	ttl    time.Duration

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

// NewSessionAuthenticator creates a SessionAuthenticator that signs
// with the provided secret. Credentials expire after ttl.
func NewSessionAuthenticator(secret krypto.Secret, ttl time.Duration) *SessionAuthenticator {
	return &SessionAuthenticator{
		secret:  secret,
		ttl:     ttl,
		NowFunc: time.Now,
	}
}

// IssueSession creates a signed credential for the provided account.
func (a *SessionAuthenticator) IssueSession(accountID uuid.UUID) (string, error) {
	now := a.NowFunc()

	claims := jwt.RegisteredClaims{
		Subject:   accountID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(a.secret.SecretValue())
}

// Authenticate verifies a credential and resolves it to an account ID.
func (a *SessionAuthenticator) Authenticate(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, ErrNoSession
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return a.secret.SecretValue(), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(a.NowFunc), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return uuid.Nil, ErrMalformedSession
		}
		return uuid.Nil, ErrInvalidSession
	}

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidSession
	}

	return accountID, nil
}
