package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/auth"
)

type Tx struct {
	tx    *sql.Tx
	store *Store
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// CreateAccount creates an account in the database.
// The caller is expected to have set the ID.
func (t *Tx) CreateAccount(a *auth.Account) error {
	return insertAccount(t.store.newQuery(), t.tx.Exec, a)
}

// UpdateAccount updates an account in the database.
// It returns errorz.ErrNotFound if no account is found.
func (t *Tx) UpdateAccount(a *auth.Account) error {
	return updateAccount(t.store.newQuery(), t.tx.Exec, a)
}

// FindAccounts queries for accounts based on the provided filter.
// It returns an empty slice if no accounts are found.
func (t *Tx) FindAccounts(filter *auth.AccountFilter) ([]auth.Account, error) {
	return selectAccounts(t.store.newQuery(), t.tx.Query, filter)
}

// CreateEmailToken creates an email token in the database.
// The caller is expected to have set the ID.
func (t *Tx) CreateEmailToken(tok *auth.EmailToken) error {
	return insertEmailToken(t.store.newQuery(), t.tx.Exec, tok)
}

// UpdateEmailToken updates an email token in the database.
// It returns errorz.ErrNotFound if no email token is found.
func (t *Tx) UpdateEmailToken(tok *auth.EmailToken) error {
	return updateEmailToken(t.store.newQuery(), t.tx.Exec, tok)
}

// FindEmailTokens queries for email tokens based on the provided filter.
func (t *Tx) FindEmailTokens(filter *auth.EmailTokenFilter) ([]auth.EmailToken, error) {
	return selectEmailTokens(t.store.newQuery(), t.tx.Query, filter)
}

// UpsertChallenge creates a two-factor challenge, replacing any
// outstanding challenge for the same account.
func (t *Tx) UpsertChallenge(c *auth.Challenge) error {
	return upsertChallenge(t.store.newQuery(), t.tx.Exec, c)
}

// FindChallenge returns the outstanding challenge for an account.
// It returns errorz.ErrNotFound if there is none.
func (t *Tx) FindChallenge(userID uuid.UUID) (auth.Challenge, error) {
	return selectChallenge(t.store.newQuery(), t.tx.Query, userID)
}

// DeleteChallenge deletes the outstanding challenge for an account.
// It returns errorz.ErrNotFound if there is none.
func (t *Tx) DeleteChallenge(userID uuid.UUID) error {
	return deleteChallenge(t.store.newQuery(), t.tx.Exec, userID)
}
