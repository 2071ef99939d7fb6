package db

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/auth"
	"github.com/mwestra/ballotbox/internal/db"
	"github.com/mwestra/ballotbox/internal/email"
	"github.com/mwestra/ballotbox/internal/errorz"
)

type execFunc func(query string, params ...any) (sql.Result, error)
type queryFunc func(query string, params ...any) (*sql.Rows, error)

func insertAccount(q db.Query, ef execFunc, a *auth.Account) error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("zero uuid provided: %w", errorz.ErrConstraintViolated)
	}

	q.Unsafe(`INSERT INTO users (id, name, email_encrypted, email_blind_index, age, mobile, address_encrypted, civic_number_encrypted, civic_number_blind_index, password_hash, role, has_voted, email_verified, two_factor_enabled, created_at, updated_at) VALUES (`)
	q.Params(a.ID, a.Name)
	q.Unsafe(`, `)
	q.ParamEncrypted([]byte(a.Email))
	q.Unsafe(`, `)
	q.ParamBlindIndex([]byte(a.Email))
	q.Unsafe(`, `)
	q.Params(a.Age, a.Mobile)
	q.Unsafe(`, `)
	q.ParamEncrypted([]byte(a.Address))
	q.Unsafe(`, `)
	q.ParamEncrypted([]byte(a.CivicNumber))
	q.Unsafe(`, `)
	q.ParamBlindIndex([]byte(a.CivicNumber))
	q.Unsafe(`, `)
	q.Params(a.PasswordHash.String(), a.Role, a.HasVoted, a.EmailVerified, a.TwoFactorEnabled, a.CreatedAt, a.UpdatedAt)
	q.Unsafe(`)`)

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	_, err = ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	return nil
}

func updateAccount(q db.Query, ef execFunc, a *auth.Account) error {
	q.Unsafe(`UPDATE users SET `)

	q.Unsafe(`name = `)
	q.Param(a.Name)

	q.Unsafe(`, email_encrypted = `)
	q.ParamEncrypted([]byte(a.Email))

	q.Unsafe(`, email_blind_index = `)
	q.ParamBlindIndex([]byte(a.Email))

	q.Unsafe(`, age = `)
	q.Param(a.Age)

	q.Unsafe(`, mobile = `)
	q.Param(a.Mobile)

	q.Unsafe(`, address_encrypted = `)
	q.ParamEncrypted([]byte(a.Address))

	q.Unsafe(`, civic_number_encrypted = `)
	q.ParamEncrypted([]byte(a.CivicNumber))

	q.Unsafe(`, civic_number_blind_index = `)
	q.ParamBlindIndex([]byte(a.CivicNumber))

	q.Unsafe(`, password_hash = `)
	q.Param(a.PasswordHash.String())

	q.Unsafe(`, role = `)
	q.Param(a.Role)

	q.Unsafe(`, has_voted = `)
	q.Param(a.HasVoted)

	q.Unsafe(`, email_verified = `)
	q.Param(a.EmailVerified)

	q.Unsafe(`, two_factor_enabled = `)
	q.Param(a.TwoFactorEnabled)

	q.Unsafe(`, updated_at = `)
	q.Param(a.UpdatedAt)

	q.Unsafe(` WHERE id = `)
	q.Params(a.ID)

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	result, err := ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errorz.MapDBErr(err)
	}

	if rows == 0 {
		return fmt.Errorf("account not found: %w", errorz.ErrNotFound)
	}

	return nil
}

func selectAccounts(q db.Query, qf queryFunc, f *auth.AccountFilter) ([]auth.Account, error) {
	q.Unsafe(`SELECT id, name, email_encrypted, age, mobile, address_encrypted, civic_number_encrypted, password_hash, role, has_voted, email_verified, two_factor_enabled, created_at, updated_at FROM users WHERE 1=1 `)

	if len(f.IDs) > 0 {
		q.Unsafe(`AND id IN (`)
		q.Params(anySlice(f.IDs)...)
		q.Unsafe(`) `)
	}

	if len(f.Emails) > 0 {
		q.Unsafe(`AND email_blind_index IN (`)
		for i, addr := range f.Emails {
			if i > 0 {
				q.Unsafe(`, `)
			}
			q.ParamBlindIndex([]byte(addr))
		}
		q.Unsafe(`) `)
	}

	if len(f.CivicNumbers) > 0 {
		q.Unsafe(`AND civic_number_blind_index IN (`)
		for i, cn := range f.CivicNumbers {
			if i > 0 {
				q.Unsafe(`, `)
			}
			q.ParamBlindIndex([]byte(cn))
		}
		q.Unsafe(`) `)
	}

	if len(f.Roles) > 0 {
		q.Unsafe(`AND role IN (`)
		q.Params(anySlice(f.Roles)...)
		q.Unsafe(`) `)
	}

	if f.EmailVerified != nil {
		q.Unsafe(`AND email_verified = `)
		q.Param(*f.EmailVerified)
	}

	q.Unsafe(` ORDER BY created_at ASC, id ASC`)

	s, params, err := q.Get()
	if err != nil {
		return nil, err
	}

	rows, err := qf(s, params...)
	if err != nil {
		return nil, errorz.MapDBErr(err)
	}

	defer rows.Close()

	out := make([]auth.Account, 0)
	for rows.Next() {
		var a auth.Account
		emailBytes := q.DecryptionTarget()
		addressBytes := q.DecryptionTarget()
		civicBytes := q.DecryptionTarget()
		err := rows.Scan(&a.ID, &a.Name, emailBytes, &a.Age, &a.Mobile, addressBytes, civicBytes, &a.PasswordHash, &a.Role, &a.HasVoted, &a.EmailVerified, &a.TwoFactorEnabled, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, errorz.MapDBErr(err)
		}

		a.Email, err = email.ParseAddress(string(emailBytes.Data))
		if err != nil {
			return nil, err
		}

		a.Address = string(addressBytes.Data)

		a.CivicNumber, err = auth.ParseCivicNumber(string(civicBytes.Data))
		if err != nil {
			return nil, err
		}

		out = append(out, a)
	}

	if err := rows.Err(); err != nil {
		return nil, errorz.MapDBErr(err)
	}

	return out, nil
}

func insertEmailToken(q db.Query, ef execFunc, tok *auth.EmailToken) error {
	if tok.ID == uuid.Nil {
		return fmt.Errorf("zero uuid provided: %w", errorz.ErrConstraintViolated)
	}

	q.Unsafe(`INSERT INTO email_tokens (id, token_hash, user_id, email_encrypted, purpose, created_at, consumed_at) VALUES (`)
	q.Params(tok.ID, tok.TokenHash.String(), tok.UserID)
	q.Unsafe(`, `)
	q.ParamEncrypted([]byte(tok.Email))
	q.Unsafe(`, `)
	q.Params(tok.Purpose, tok.CreatedAt, tok.ConsumedAt)
	q.Unsafe(`)`)

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	_, err = ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	return nil
}

func updateEmailToken(q db.Query, ef execFunc, tok *auth.EmailToken) error {
	q.Unsafe(`UPDATE email_tokens SET `)

	q.Unsafe(`token_hash = `)
	q.Param(tok.TokenHash.String())

	q.Unsafe(`, user_id = `)
	q.Param(tok.UserID)

	q.Unsafe(`, email_encrypted = `)
	q.ParamEncrypted([]byte(tok.Email))

	q.Unsafe(`, purpose = `)
	q.Param(tok.Purpose)

	q.Unsafe(`, created_at = `)
	q.Param(tok.CreatedAt)

	q.Unsafe(`, consumed_at = `)
	q.Param(tok.ConsumedAt)

	q.Unsafe(` WHERE id = `)
	q.Params(tok.ID)

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	result, err := ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errorz.MapDBErr(err)
	}

	if rows == 0 {
		return fmt.Errorf("email token not found: %w", errorz.ErrNotFound)
	}

	return nil
}

func selectEmailTokens(q db.Query, qf queryFunc, f *auth.EmailTokenFilter) ([]auth.EmailToken, error) {
	q.Unsafe(`SELECT id, token_hash, user_id, email_encrypted, purpose, created_at, consumed_at FROM email_tokens WHERE 1=1 `)

	if len(f.IDs) > 0 {
		q.Unsafe(`AND id IN (`)
		q.Params(anySlice(f.IDs)...)
		q.Unsafe(`) `)
	}

	if len(f.UserIDs) > 0 {
		q.Unsafe(`AND user_id IN (`)
		q.Params(anySlice(f.UserIDs)...)
		q.Unsafe(`) `)
	}

	if len(f.Purposes) > 0 {
		q.Unsafe(`AND purpose IN (`)
		q.Params(anySlice(f.Purposes)...)
		q.Unsafe(`) `)
	}

	if f.IsConsumed != nil {
		q.Unsafe("AND consumed_at IS ")
		if *f.IsConsumed {
			q.Unsafe("NOT ")
		}
		q.Unsafe("NULL ")
	}

	q.Unsafe(`ORDER BY created_at ASC`)

	s, params, err := q.Get()
	if err != nil {
		return nil, err
	}

	rows, err := qf(s, params...)
	if err != nil {
		return nil, errorz.MapDBErr(err)
	}

	defer rows.Close()

	out := make([]auth.EmailToken, 0)
	for rows.Next() {
		var token auth.EmailToken
		emailBytes := q.DecryptionTarget()
		err := rows.Scan(&token.ID, &token.TokenHash, &token.UserID, emailBytes, &token.Purpose, &token.CreatedAt, &token.ConsumedAt)
		if err != nil {
			return nil, errorz.MapDBErr(err)
		}

		token.Email, err = email.ParseAddress(string(emailBytes.Data))
		if err != nil {
			return nil, err
		}

		out = append(out, token)
	}

	if err := rows.Err(); err != nil {
		return nil, errorz.MapDBErr(err)
	}

	return out, nil
}

func upsertChallenge(q db.Query, ef execFunc, c *auth.Challenge) error {
	if c.UserID == uuid.Nil {
		return fmt.Errorf("zero uuid provided: %w", errorz.ErrConstraintViolated)
	}

	q.Unsafe(`INSERT INTO otp_challenges (user_id, code_hash, expires_at, created_at) VALUES (`)
	q.Params(c.UserID, c.CodeHash.String(), c.ExpiresAt, c.CreatedAt)
	q.Unsafe(`) ON CONFLICT (user_id) DO UPDATE SET code_hash = excluded.code_hash, expires_at = excluded.expires_at, created_at = excluded.created_at`)

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	_, err = ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	return nil
}

func selectChallenge(q db.Query, qf queryFunc, userID uuid.UUID) (auth.Challenge, error) {
	q.Unsafe(`SELECT user_id, code_hash, expires_at, created_at FROM otp_challenges WHERE user_id = `)
	q.Param(userID)

	s, params, err := q.Get()
	if err != nil {
		return auth.Challenge{}, err
	}

	rows, err := qf(s, params...)
	if err != nil {
		return auth.Challenge{}, errorz.MapDBErr(err)
	}

	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return auth.Challenge{}, errorz.MapDBErr(err)
		}
		return auth.Challenge{}, fmt.Errorf("challenge not found: %w", errorz.ErrNotFound)
	}

	var c auth.Challenge
	if err := rows.Scan(&c.UserID, &c.CodeHash, &c.ExpiresAt, &c.CreatedAt); err != nil {
		return auth.Challenge{}, errorz.MapDBErr(err)
	}

	return c, rows.Err()
}

func deleteChallenge(q db.Query, ef execFunc, userID uuid.UUID) error {
	q.Unsafe(`DELETE FROM otp_challenges WHERE user_id = `)
	q.Param(userID)

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	result, err := ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errorz.MapDBErr(err)
	}

	if rows == 0 {
		return fmt.Errorf("challenge not found: %w", errorz.ErrNotFound)
	}

	return nil
}

func anySlice[T any](s []T) []any {
	out := make([]any, 0, len(s))
	for _, v := range s {
		out = append(out, v)
	}
	return out
}
