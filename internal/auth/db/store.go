package db

import (
	"context"
	"database/sql"

	"github.com/mwestra/ballotbox/internal/auth"
	"github.com/mwestra/ballotbox/internal/db"
	"github.com/mwestra/ballotbox/internal/krypto"
)

// Store provides access to accounts, email tokens and two-factor
// challenges in a sqlite database.
type Store struct {
	db            *sql.DB
	encryptor     *krypto.Encryptor
	blindIndexKey krypto.Key
}

// New creates a new Store. The encryptor protects personal data at
// rest, the blind index key makes encrypted columns findable.
func New(sqlDB *sql.DB, encryptor *krypto.Encryptor, blindIndexKey krypto.Key) *Store {
	return &Store{
		db:            sqlDB,
		encryptor:     encryptor,
		blindIndexKey: blindIndexKey,
	}
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (auth.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{
		tx:    tx,
		store: s,
	}, nil
}

func (s *Store) newQuery() db.Query {
	return db.Query{
		Encryptor:     s.encryptor,
		BlindIndexKey: s.blindIndexKey,
	}
}
