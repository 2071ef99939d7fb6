package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/ballot"
)

type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// CreateCandidate creates a candidate in the database.
// The caller is expected to have set the ID.
func (t *Tx) CreateCandidate(c *ballot.Candidate) error {
	return insertCandidate(newQuery(), t.tx.Exec, c)
}

// UpdateCandidate updates a candidate in the database.
// It returns errorz.ErrNotFound if no candidate is found.
func (t *Tx) UpdateCandidate(c *ballot.Candidate) error {
	return updateCandidate(newQuery(), t.tx.Exec, c)
}

// DeleteCandidate deletes a candidate from the database.
// It returns errorz.ErrNotFound if no candidate is found.
func (t *Tx) DeleteCandidate(id uuid.UUID) error {
	return deleteCandidate(newQuery(), t.tx.Exec, id)
}

// FindCandidates queries for candidates based on the provided filter.
// It returns an empty slice if no candidates are found.
func (t *Tx) FindCandidates(filter *ballot.CandidateFilter) ([]ballot.Candidate, error) {
	return selectCandidates(newQuery(), t.tx.Query, filter)
}

// CreateVote appends a vote to the ledger.
// The caller is expected to have set the ID.
func (t *Tx) CreateVote(v *ballot.Vote) error {
	return insertVote(newQuery(), t.tx.Exec, v)
}

// Voter reads the voting-related fields of an account.
func (t *Tx) Voter(id uuid.UUID) (ballot.Voter, error) {
	return selectVoter(newQuery(), t.tx.Query, id)
}

// MarkVoted flips the has_voted flag of an account.
func (t *Tx) MarkVoted(id uuid.UUID, now time.Time) error {
	return markVoted(newQuery(), t.tx.Exec, id, now)
}

// Tally returns the vote counts per candidate.
func (t *Tx) Tally() ([]ballot.TallyEntry, error) {
	return selectTally(newQuery(), t.tx.Query)
}
