package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/email"
	"github.com/mwestra/ballotbox/internal/krypto"
)

// EmailToken contains the state of a random token that is sent via email.
// Such tokens are single-use and have a limited lifetime.
type EmailToken struct {
	ID uuid.UUID
	// TokenHash is the hash of the token. We hash the token to prevent someone with
	// access to the database from mis-using the tokens.
	TokenHash  krypto.Argon2Hash
	UserID     uuid.UUID
	Email      email.Address
	Purpose    TokenPurpose
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

// TokenPurpose limits what an email token may be used for. A token
// issued for one purpose can never be consumed by an operation that
// requires another.
type TokenPurpose string

const (
	// TokenPurposeVerifyEmail indicates a token is for confirming an
	// accounts email address.
	TokenPurposeVerifyEmail TokenPurpose = "verify-email"
	// TokenPurposePasswordReset indicates a token is for resetting
	// an accounts password.
	TokenPurposePasswordReset TokenPurpose = "password-reset"
)

// TokenRequest identifies a plaintext token and the email token record
// it should be checked against. It is what ends up in the links we email.
type TokenRequest struct {
	ID    uuid.UUID    `schema:"id"`
	Token krypto.Token `schema:"token"`
}
