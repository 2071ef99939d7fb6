package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/ballot"
	"github.com/mwestra/ballotbox/internal/db"
	"github.com/mwestra/ballotbox/internal/errorz"
)

type execFunc func(query string, params ...any) (sql.Result, error)
type queryFunc func(query string, params ...any) (*sql.Rows, error)

func insertCandidate(q db.Query, ef execFunc, c *ballot.Candidate) error {
	if c.ID == uuid.Nil {
		return fmt.Errorf("zero uuid provided: %w", errorz.ErrConstraintViolated)
	}

	q.Unsafe(`INSERT INTO candidates (id, name, party, age, vote_count, created_at, updated_at) VALUES (`)
	q.Params(c.ID, c.Name, c.Party, c.Age, c.VoteCount, c.CreatedAt, c.UpdatedAt)
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

func updateCandidate(q db.Query, ef execFunc, c *ballot.Candidate) error {
	q.Unsafe(`UPDATE candidates SET `)

	q.Unsafe(`name = `)
	q.Param(c.Name)

	q.Unsafe(`, party = `)
	q.Param(c.Party)

	q.Unsafe(`, age = `)
	q.Param(c.Age)

	q.Unsafe(`, vote_count = `)
	q.Param(c.VoteCount)

	q.Unsafe(`, updated_at = `)
	q.Param(c.UpdatedAt)

	q.Unsafe(` WHERE id = `)
	q.Params(c.ID)

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
		return fmt.Errorf("candidate not found: %w", errorz.ErrNotFound)
	}

	return nil
}

func deleteCandidate(q db.Query, ef execFunc, id uuid.UUID) error {
	q.Unsafe(`DELETE FROM candidates WHERE id = `)
	q.Param(id)

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
		return fmt.Errorf("candidate not found: %w", errorz.ErrNotFound)
	}

	return nil
}

func selectCandidates(q db.Query, qf queryFunc, f *ballot.CandidateFilter) ([]ballot.Candidate, error) {
	q.Unsafe(`SELECT id, name, party, age, vote_count, created_at, updated_at FROM candidates WHERE 1=1 `)

	if len(f.IDs) > 0 {
		q.Unsafe(`AND id IN (`)
		q.Params(anySlice(f.IDs)...)
		q.Unsafe(`) `)
	}

	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		q.Unsafe(`AND (name LIKE `)
		q.Param(pattern)
		q.Unsafe(` OR party LIKE `)
		q.Param(pattern)
		q.Unsafe(`) `)
	}

	q.Unsafe(`ORDER BY created_at ASC, id ASC`)

	s, params, err := q.Get()
	if err != nil {
		return nil, err
	}

	rows, err := qf(s, params...)
	if err != nil {
		return nil, errorz.MapDBErr(err)
	}

	defer rows.Close()

	out := make([]ballot.Candidate, 0)
	for rows.Next() {
		var c ballot.Candidate
		err := rows.Scan(&c.ID, &c.Name, &c.Party, &c.Age, &c.VoteCount, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, errorz.MapDBErr(err)
		}

		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, errorz.MapDBErr(err)
	}

	return out, nil
}

func insertVote(q db.Query, ef execFunc, v *ballot.Vote) error {
	if v.ID == uuid.Nil {
		return fmt.Errorf("zero uuid provided: %w", errorz.ErrConstraintViolated)
	}

	q.Unsafe(`INSERT INTO votes (id, candidate_id, voter_id, voted_at) VALUES (`)
	q.Params(v.ID, v.CandidateID, v.VoterID, v.VotedAt)
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

func selectVoter(q db.Query, qf queryFunc, id uuid.UUID) (ballot.Voter, error) {
	q.Unsafe(`SELECT id, role, has_voted, email_verified FROM users WHERE id = `)
	q.Param(id)

	s, params, err := q.Get()
	if err != nil {
		return ballot.Voter{}, err
	}

	rows, err := qf(s, params...)
	if err != nil {
		return ballot.Voter{}, errorz.MapDBErr(err)
	}

	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ballot.Voter{}, errorz.MapDBErr(err)
		}
		return ballot.Voter{}, fmt.Errorf("voter not found: %w", errorz.ErrNotFound)
	}

	var v ballot.Voter
	if err := rows.Scan(&v.ID, &v.Role, &v.HasVoted, &v.EmailVerified); err != nil {
		return ballot.Voter{}, errorz.MapDBErr(err)
	}

	return v, rows.Err()
}

func markVoted(q db.Query, ef execFunc, id uuid.UUID, now time.Time) error {
	// The has_voted flag is monotonic, the guard in the WHERE clause
	// keeps it that way even if a caller raced us.
	q.Unsafe(`UPDATE users SET has_voted = TRUE, updated_at = `)
	q.Param(now)
	q.Unsafe(` WHERE id = `)
	q.Param(id)
	q.Unsafe(` AND has_voted = FALSE`)

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
		return fmt.Errorf("account already voted or not found: %w", errorz.ErrConstraintViolated)
	}

	return nil
}

func selectTally(q db.Query, qf queryFunc) ([]ballot.TallyEntry, error) {
	q.Unsafe(`SELECT party, vote_count FROM candidates ORDER BY vote_count DESC, created_at ASC, id ASC`)

	s, params, err := q.Get()
	if err != nil {
		return nil, err
	}

	rows, err := qf(s, params...)
	if err != nil {
		return nil, errorz.MapDBErr(err)
	}

	defer rows.Close()

	out := make([]ballot.TallyEntry, 0)
	for rows.Next() {
		var e ballot.TallyEntry
		if err := rows.Scan(&e.Party, &e.Count); err != nil {
			return nil, errorz.MapDBErr(err)
		}

		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, errorz.MapDBErr(err)
	}

	return out, nil
}

func anySlice[T any](s []T) []any {
	out := make([]any, 0, len(s))
	for _, v := range s {
		out = append(out, v)
	}
	return out
}
