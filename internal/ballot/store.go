package ballot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/auth"
)

// CandidateFilter is used to filter candidates.
// Returned candidates must match all the provided fields.
// If a field is empty, it's ignored.
type CandidateFilter struct {
	IDs []uuid.UUID
	// Search matches case-insensitively against name and party.
	Search string
}

// Voter is the slice of an account the vote ledger cares about.
type Voter struct {
	ID            uuid.UUID
	Role          auth.Role
	HasVoted      bool
	EmailVerified bool
}

// Store provides access to the candidate and vote store.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a transaction. If an error occurs on any of the methods,
// the transaction is considered to have failed and should be rolled back.
// Tx is not safe for concurrent use.
type Tx interface {
	Commit() error
	Rollback() error

	CreateCandidate(c *Candidate) error
	UpdateCandidate(c *Candidate) error
	DeleteCandidate(id uuid.UUID) error
	FindCandidates(filter *CandidateFilter) ([]Candidate, error)

	CreateVote(v *Vote) error

	// Voter reads the voting-related fields of an account.
	// It returns errorz.ErrNotFound for unknown accounts.
	Voter(id uuid.UUID) (Voter, error)
	// MarkVoted flips the has_voted flag of an account. The flag is
	// monotonic, marking an account that already voted returns
	// errorz.ErrConstraintViolated.
	MarkVoted(id uuid.UUID, now time.Time) error

	// Tally returns (party, count) per candidate ordered by count
	// descending, ties broken by candidate insertion order.
	Tally() ([]TallyEntry, error)
}
