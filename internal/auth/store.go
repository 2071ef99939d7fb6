package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/email"
)

// AccountFilter is used to filter accounts.
// Returned accounts must match all the provided fields.
// If a field is empty or nil, it's ignored.
type AccountFilter struct {
	IDs           []uuid.UUID
	Emails        []email.Address
	CivicNumbers  []CivicNumber
	Roles         []Role
	EmailVerified *bool
}

// EmailTokenFilter is used to filter email tokens.
// Returned tokens must match all the provided fields.
// If a field is empty or nil, it's ignored.
type EmailTokenFilter struct {
	IDs        []uuid.UUID
	UserIDs    []uuid.UUID
	Purposes   []TokenPurpose
	IsConsumed *bool
}

// Store provides access to the account store.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a transaction. If an error occurs on any of the methods,
// the transaction is considered to have failed and should be rolled back.
// Tx is not safe for concurrent use.
type Tx interface {
	Commit() error
	Rollback() error

	CreateAccount(a *Account) error
	UpdateAccount(a *Account) error
	FindAccounts(filter *AccountFilter) ([]Account, error)

	CreateEmailToken(t *EmailToken) error
	UpdateEmailToken(t *EmailToken) error
	FindEmailTokens(filter *EmailTokenFilter) ([]EmailToken, error)

	UpsertChallenge(c *Challenge) error
	FindChallenge(userID uuid.UUID) (Challenge, error)
	DeleteChallenge(userID uuid.UUID) error
}
