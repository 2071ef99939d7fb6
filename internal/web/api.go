package web

import (
	"time"

	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/auth"
	"github.com/mwestra/ballotbox/internal/ballot"
	"github.com/mwestra/ballotbox/internal/email"
	"github.com/mwestra/ballotbox/internal/krypto"
)

// The types below shape the JSON wire format. They are deliberately
// separate from the domain types, renaming a Go field should never
// silently change the API.

type registrationRequest struct {
	Name        string           `json:"name"`
	Email       email.Address    `json:"email"`
	Age         int              `json:"age"`
	Mobile      string           `json:"mobile"`
	Address     string           `json:"address"`
	CivicNumber auth.CivicNumber `json:"civicNumber"`
	Password    auth.Password    `json:"password"`
	Role        string           `json:"role"`
}

type accountResponse struct {
	ID               uuid.UUID     `json:"id"`
	Name             string        `json:"name"`
	Email            email.Address `json:"email"`
	Age              int           `json:"age"`
	Mobile           string        `json:"mobile,omitempty"`
	Address          string        `json:"address"`
	CivicNumber      string        `json:"civicNumber"`
	Role             auth.Role     `json:"role"`
	HasVoted         bool          `json:"hasVoted"`
	EmailVerified    bool          `json:"emailVerified"`
	TwoFactorEnabled bool          `json:"twoFactorEnabled"`
	CreatedAt        time.Time     `json:"createdAt"`
}

func newAccountResponse(a auth.Account) accountResponse {
	return accountResponse{
		ID:               a.ID,
		Name:             a.Name,
		Email:            a.Email,
		Age:              a.Age,
		Mobile:           a.Mobile,
		Address:          a.Address,
		CivicNumber:      string(a.CivicNumber),
		Role:             a.Role,
		HasVoted:         a.HasVoted,
		EmailVerified:    a.EmailVerified,
		TwoFactorEnabled: a.TwoFactorEnabled,
		CreatedAt:        a.CreatedAt,
	}
}

type tokenRequest struct {
	ID    uuid.UUID    `json:"id"`
	Token krypto.Token `json:"token"`
}

type loginRequest struct {
	CivicNumber auth.CivicNumber `json:"civicNumber"`
	Password    auth.Password    `json:"password"`
}

type loginResponse struct {
	TwoFactorPending bool             `json:"twoFactorPending"`
	Token            string           `json:"token,omitempty"`
	Account          *accountResponse `json:"account,omitempty"`
}

func newLoginResponse(result auth.LoginResult) loginResponse {
	resp := loginResponse{
		TwoFactorPending: result.TwoFactorPending,
		Token:            result.Session,
	}

	if !result.TwoFactorPending {
		account := newAccountResponse(result.Account)
		resp.Account = &account
	}

	return resp
}

type otpRequest struct {
	Email email.Address `json:"email"`
	Code  auth.OTPCode  `json:"code"`
}

type resetRequest struct {
	Email email.Address `json:"email"`
}

type passwordResetRequest struct {
	ID       uuid.UUID     `json:"id"`
	Token    krypto.Token  `json:"token"`
	Password auth.Password `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword auth.Password `json:"currentPassword"`
	NewPassword     auth.Password `json:"newPassword"`
}

type twoFactorResponse struct {
	TwoFactorEnabled bool `json:"twoFactorEnabled"`
}

type candidateRequest struct {
	Name  string `json:"name"`
	Party string `json:"party"`
	Age   int    `json:"age"`
}

func (c candidateRequest) input() ballot.CandidateInput {
	return ballot.CandidateInput{
		Name:  c.Name,
		Party: c.Party,
		Age:   c.Age,
	}
}

type candidateResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Party     string    `json:"party"`
	Age       int       `json:"age"`
	VoteCount int       `json:"voteCount"`
}

func newCandidateResponse(c ballot.Candidate) candidateResponse {
	return candidateResponse{
		ID:        c.ID,
		Name:      c.Name,
		Party:     c.Party,
		Age:       c.Age,
		VoteCount: c.VoteCount,
	}
}

func newCandidateResponses(candidates []ballot.Candidate) []candidateResponse {
	out := make([]candidateResponse, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, newCandidateResponse(c))
	}

	return out
}

type candidateListRequest struct {
	Query string `schema:"query"`
}

type voteResponse struct {
	ID          uuid.UUID `json:"id"`
	CandidateID uuid.UUID `json:"candidateId"`
	VotedAt     time.Time `json:"votedAt"`
}

type tallyEntryResponse struct {
	Party string `json:"party"`
	Count int    `json:"count"`
}

func newTallyResponse(entries []ballot.TallyEntry) []tallyEntryResponse {
	out := make([]tallyEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, tallyEntryResponse{Party: e.Party, Count: e.Count})
	}

	return out
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
