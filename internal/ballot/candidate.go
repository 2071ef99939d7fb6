package ballot

import (
	"time"

	"github.com/google/uuid"
)

// Candidate is someone that can be voted for. VoteCount is a cached
// count of the ledger rows for this candidate, maintained in the same
// transaction that appends them.
type Candidate struct {
	ID        uuid.UUID
	Name      string
	Party     string
	Age       int
	VoteCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Vote is a single ledger entry. The ledger is append-only, entries
// are never updated or deleted.
type Vote struct {
	ID          uuid.UUID
	CandidateID uuid.UUID
	VoterID     uuid.UUID
	VotedAt     time.Time
}

// TallyEntry is the vote count for a single candidate.
type TallyEntry struct {
	Party string
	Count int
}
