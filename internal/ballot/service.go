package ballot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/auth"
	"github.com/mwestra/ballotbox/internal/errorz"
)

var (
	// ErrCandidateNotFound indicates the candidate does not exist.
	ErrCandidateNotFound = errors.New("candidate not found")
	// ErrVoterNotFound indicates the voter account does not exist.
	ErrVoterNotFound = errors.New("voter not found")
	// ErrAlreadyVoted indicates the account has already cast its vote.
	ErrAlreadyVoted = errors.New("already voted")
	// ErrAdminCannotVote indicates the admin account tried to vote.
	ErrAdminCannotVote = errors.New("admin cannot vote")
	// ErrEmailNotVerified indicates the account has to verify its
	// email address before voting.
	ErrEmailNotVerified = errors.New("email address not verified")
	// ErrCandidateHasVotes indicates a candidate with recorded votes
	// cannot be deleted, the ledger is append-only.
	ErrCandidateHasVotes = errors.New("candidate has recorded votes")
)

// Service provides the main rules for candidates and vote casting.
type Service struct {
	store Store

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

func NewService(s Store) *Service {
	return &Service{
		store:   s,
		NowFunc: time.Now,
	}
}

// CandidateInput is the input for creating or updating a candidate.
type CandidateInput struct {
	Name  string
	Party string
	Age   int
}

func (in CandidateInput) validate() error {
	var errs errorz.InvalidInput

	if in.Name == "" {
		errs = append(errs, errorz.Keyed{Key: "name", Err: errors.New("is required")})
	}
	if in.Party == "" {
		errs = append(errs, errorz.Keyed{Key: "party", Err: errors.New("is required")})
	}
	if in.Age <= 0 {
		errs = append(errs, errorz.Keyed{Key: "age", Err: errors.New("is required")})
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

// CreateCandidate adds a new candidate to the election.
func (s *Service) CreateCandidate(ctx context.Context, in CandidateInput) (Candidate, error) {
	if err := in.validate(); err != nil {
		return Candidate{}, err
	}

	now := s.NowFunc()

	candidate := Candidate{
		ID:        uuid.New(),
		Name:      in.Name,
		Party:     in.Party,
		Age:       in.Age,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.inTx(ctx, func(tx Tx) error {
		return tx.CreateCandidate(&candidate)
	})
	if err != nil {
		return Candidate{}, err
	}

	return candidate, nil
}

// UpdateCandidate replaces the profile fields of a candidate. The vote
// count is never touched.
func (s *Service) UpdateCandidate(ctx context.Context, id uuid.UUID, in CandidateInput) (Candidate, error) {
	if err := in.validate(); err != nil {
		return Candidate{}, err
	}

	var candidate Candidate

	err := s.inTx(ctx, func(tx Tx) error {
		found, err := s.candidateByID(tx, id)
		if err != nil {
			return err
		}

		found.Name = in.Name
		found.Party = in.Party
		found.Age = in.Age
		found.UpdatedAt = s.NowFunc()

		if err := tx.UpdateCandidate(&found); err != nil {
			return err
		}

		candidate = found
		return nil
	})
	if err != nil {
		return Candidate{}, err
	}

	return candidate, nil
}

// DeleteCandidate removes a candidate. Candidates with recorded votes
// cannot be removed.
func (s *Service) DeleteCandidate(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, func(tx Tx) error {
		candidate, err := s.candidateByID(tx, id)
		if err != nil {
			return err
		}

		if candidate.VoteCount > 0 {
			return ErrCandidateHasVotes
		}

		return tx.DeleteCandidate(candidate.ID)
	})
}

// ListCandidates returns all candidates, optionally narrowed by a
// case-insensitive search on name or party.
func (s *Service) ListCandidates(ctx context.Context, search string) ([]Candidate, error) {
	var candidates []Candidate

	err := s.inTx(ctx, func(tx Tx) error {
		var txErr error
		candidates, txErr = tx.FindCandidates(&CandidateFilter{Search: search})
		return txErr
	})
	if err != nil {
		return nil, err
	}

	return candidates, nil
}

// CastVote records a vote by the provided account for the provided
// candidate.
//
// The ledger entry, the cached vote count and the voters has_voted
// flag are committed in a single transaction, a partially recorded
// vote is never observable. The unique index on the ledgers voter
// column backstops the has_voted check at the storage layer.
func (s *Service) CastVote(ctx context.Context, voterID, candidateID uuid.UUID) (Vote, error) {
	now := s.NowFunc()

	vote := Vote{
		ID:          uuid.New(),
		CandidateID: candidateID,
		VoterID:     voterID,
		VotedAt:     now,
	}

	err := s.inTx(ctx, func(tx Tx) error {
		candidate, err := s.candidateByID(tx, candidateID)
		if err != nil {
			return err
		}

		voter, err := tx.Voter(voterID)
		if err != nil {
			if errors.Is(err, errorz.ErrNotFound) {
				return ErrVoterNotFound
			}
			return err
		}

		if voter.HasVoted {
			return ErrAlreadyVoted
		}

		if voter.Role == auth.RoleAdmin {
			return ErrAdminCannotVote
		}

		if !voter.EmailVerified {
			return ErrEmailNotVerified
		}

		if err := tx.CreateVote(&vote); err != nil {
			return err
		}

		candidate.VoteCount++
		candidate.UpdatedAt = now

		if err := tx.UpdateCandidate(&candidate); err != nil {
			return err
		}

		return tx.MarkVoted(voter.ID, now)
	})
	if err != nil {
		return Vote{}, err
	}

	return vote, nil
}

// Tally returns the vote counts per candidate, most votes first, ties
// broken by candidate insertion order. The counts come from a single
// read transaction and are a consistent snapshot.
func (s *Service) Tally(ctx context.Context) ([]TallyEntry, error) {
	var entries []TallyEntry

	err := s.inTx(ctx, func(tx Tx) error {
		var txErr error
		entries, txErr = tx.Tally()
		return txErr
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (s *Service) candidateByID(tx Tx, id uuid.UUID) (Candidate, error) {
	candidates, err := tx.FindCandidates(&CandidateFilter{IDs: []uuid.UUID{id}})
	if err != nil {
		return Candidate{}, err
	}

	if len(candidates) != 1 {
		return Candidate{}, ErrCandidateNotFound
	}

	return candidates[0], nil
}

func (s *Service) inTx(ctx context.Context, f func(tx Tx) error) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return err
	}

	err = f(tx)
	if err != nil {
		rBackErr := tx.Rollback()
		if rBackErr != nil {
			err = errors.Join(err, rBackErr)
		}
		return err
	}

	return tx.Commit()
}
