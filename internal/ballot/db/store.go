package db

import (
	"context"
	"database/sql"

	"github.com/mwestra/ballotbox/internal/ballot"
	"github.com/mwestra/ballotbox/internal/db"
)

// Store provides access to candidates and the vote ledger in a sqlite
// database. Candidates and votes hold no personal data, so unlike the
// account store no encryptor is involved.
type Store struct {
	db *sql.DB
}

// New creates a new Store.
func New(sqlDB *sql.DB) *Store {
	return &Store{db: sqlDB}
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (ballot.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func newQuery() db.Query {
	return db.Query{}
}
