package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/schema"
	"github.com/mwestra/ballotbox/internal/auth"
	"github.com/mwestra/ballotbox/internal/ballot"
	"github.com/mwestra/ballotbox/internal/errorz"
)

// ServerDeps are the dependencies for the server.
type ServerDeps struct {
	Logger        *slog.Logger
	AuthService   *auth.Service
	BallotService *ballot.Service
	Sessions      *auth.SessionAuthenticator
}

// Server exposes the account and election services as a JSON API.
type Server struct {
	deps    *ServerDeps
	mux     *http.ServeMux
	decoder *schema.Decoder
}

func NewServer(deps *ServerDeps) *Server {
	s := &Server{
		deps:    deps,
		mux:     http.NewServeMux(),
		decoder: schema.NewDecoder(),
	}

	s.decoder.IgnoreUnknownKeys(true)

	// Most endpoints below are created using the map functions. These
	// functions return handlers that automatically map between HTTP
	// requests, target functions and JSON responses. The request
	// mapping and response writing is customizable.

	// Account registration and email verification.
	{
		h := mapBoth(s, s.register).withStatus(http.StatusCreated)
		s.public("POST /api/accounts", h)
	}
	{
		h := mapRequest(s, func(ctx context.Context, req tokenRequest) error {
			return s.deps.AuthService.VerifyEmail(ctx, auth.TokenRequest{
				ID:    req.ID,
				Token: req.Token,
			})
		})
		s.public("POST /api/email-verifications", h)
	}

	// Login endpoints. A session is issued directly, or after the
	// one-time code round trip when two-factor login is enabled.
	{
		h := mapBoth(s, func(ctx context.Context, req loginRequest) (loginResponse, error) {
			result, err := s.deps.AuthService.Authenticate(ctx, auth.Credentials{
				CivicNumber: req.CivicNumber,
				Password:    req.Password,
			})
			if err != nil {
				return loginResponse{}, err
			}

			return newLoginResponse(result), nil
		})
		s.public("POST /api/sessions", h)
	}
	{
		h := mapBoth(s, func(ctx context.Context, req otpRequest) (loginResponse, error) {
			result, err := s.deps.AuthService.VerifyOTP(ctx, req.Email, req.Code)
			if err != nil {
				return loginResponse{}, err
			}

			return newLoginResponse(result), nil
		})
		s.public("POST /api/sessions/two-factor", h)
	}

	// Password reset endpoints. Requesting a reset always responds
	// with 202, the outcome is only visible in the inbox.
	{
		h := mapRequest(s, func(ctx context.Context, req resetRequest) error {
			s.deps.AuthService.RequestPasswordReset(ctx, req.Email)
			return nil
		}).withStatus(http.StatusAccepted)
		s.public("POST /api/password-resets/requests", h)
	}
	{
		h := mapRequest(s, func(ctx context.Context, req passwordResetRequest) error {
			return s.deps.AuthService.ResetPassword(ctx, auth.TokenRequest{
				ID:    req.ID,
				Token: req.Token,
			}, req.Password)
		})
		s.public("POST /api/password-resets", h)
	}

	// Profile endpoints.
	{
		h := mapResponse(s, func(ctx context.Context) (accountResponse, error) {
			accountID, err := accountIDFromCtx(ctx)
			if err != nil {
				return accountResponse{}, err
			}

			account, err := s.deps.AuthService.Account(ctx, accountID)
			if err != nil {
				return accountResponse{}, err
			}

			return newAccountResponse(account), nil
		})
		s.loggedIn("GET /api/profile", h)
	}
	{
		h := mapRequest(s, func(ctx context.Context, req changePasswordRequest) error {
			accountID, err := accountIDFromCtx(ctx)
			if err != nil {
				return err
			}

			return s.deps.AuthService.ChangePassword(ctx, accountID, req.CurrentPassword, req.NewPassword)
		})
		s.loggedIn("PATCH /api/profile/password", h)
	}
	{
		h := mapResponse(s, func(ctx context.Context) (twoFactorResponse, error) {
			accountID, err := accountIDFromCtx(ctx)
			if err != nil {
				return twoFactorResponse{}, err
			}

			enabled, err := s.deps.AuthService.ToggleTwoFactor(ctx, accountID)
			if err != nil {
				return twoFactorResponse{}, err
			}

			return twoFactorResponse{TwoFactorEnabled: enabled}, nil
		})
		s.loggedIn("POST /api/profile/two-factor", h)
	}

	// Candidate endpoints. The list and the tally are public, the
	// rest is for the admin.
	{
		h := mapBoth(s, func(ctx context.Context, req candidateListRequest) ([]candidateResponse, error) {
			candidates, err := s.deps.BallotService.ListCandidates(ctx, req.Query)
			if err != nil {
				return nil, err
			}

			return newCandidateResponses(candidates), nil
		})
		s.public("GET /api/candidates", h)
	}
	{
		h := mapBoth(s, func(ctx context.Context, req candidateRequest) (candidateResponse, error) {
			candidate, err := s.deps.BallotService.CreateCandidate(ctx, req.input())
			if err != nil {
				return candidateResponse{}, err
			}

			return newCandidateResponse(candidate), nil
		}).withStatus(http.StatusCreated)
		s.admin("POST /api/candidates", h)
	}
	{
		type updateRequest struct {
			id    uuid.UUID
			input candidateRequest
		}

		h := mapBoth(s, func(ctx context.Context, req updateRequest) (candidateResponse, error) {
			candidate, err := s.deps.BallotService.UpdateCandidate(ctx, req.id, req.input.input())
			if err != nil {
				return candidateResponse{}, err
			}

			return newCandidateResponse(candidate), nil
		}).request(func(r *http.Request) (updateRequest, error) {
			var req updateRequest

			id, err := pathID(r)
			if err != nil {
				return req, err
			}
			req.id = id

			if err := json.NewDecoder(r.Body).Decode(&req.input); err != nil {
				return req, errorz.InvalidInput{errorz.Keyed{Key: "body", Err: err}}
			}

			return req, nil
		})
		s.admin("PATCH /api/candidates/{id}", h)
	}
	{
		h := mapRequest(s, func(ctx context.Context, id uuid.UUID) error {
			return s.deps.BallotService.DeleteCandidate(ctx, id)
		}).request(func(r *http.Request) (uuid.UUID, error) {
			return pathID(r)
		})
		s.admin("DELETE /api/candidates/{id}", h)
	}

	// Vote endpoints.
	{
		h := mapBoth(s, func(ctx context.Context, candidateID uuid.UUID) (voteResponse, error) {
			accountID, err := accountIDFromCtx(ctx)
			if err != nil {
				return voteResponse{}, err
			}

			vote, err := s.deps.BallotService.CastVote(ctx, accountID, candidateID)
			if err != nil {
				return voteResponse{}, err
			}

			return voteResponse{
				ID:          vote.ID,
				CandidateID: vote.CandidateID,
				VotedAt:     vote.VotedAt,
			}, nil
		}).request(func(r *http.Request) (uuid.UUID, error) {
			return pathID(r)
		}).withStatus(http.StatusCreated)
		s.loggedIn("POST /api/candidates/{id}/votes", h)
	}
	{
		h := mapResponse(s, func(ctx context.Context) ([]tallyEntryResponse, error) {
			entries, err := s.deps.BallotService.Tally(ctx)
			if err != nil {
				return nil, err
			}

			return newTallyResponse(entries), nil
		})
		s.public("GET /api/tally", h)
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// register adapts the wire format to the registration input. The role
// is checked here, unknown roles should fail before they hit the
// database constraints.
func (s *Server) register(ctx context.Context, req registrationRequest) (accountResponse, error) {
	reg := auth.Registration{
		Name:        req.Name,
		Email:       req.Email,
		Age:         req.Age,
		Mobile:      req.Mobile,
		Address:     req.Address,
		CivicNumber: req.CivicNumber,
		Password:    req.Password,
	}

	if req.Role != "" {
		role, err := auth.ParseRole(req.Role)
		if err != nil {
			return accountResponse{}, errorz.InvalidInput{errorz.Keyed{Key: "role", Err: err}}
		}
		reg.Role = role
	}

	account, err := s.deps.AuthService.Register(ctx, reg)
	if err != nil {
		return accountResponse{}, err
	}

	return newAccountResponse(account), nil
}

// pathID parses the {id} path segment.
func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, errorz.InvalidInput{errorz.Keyed{Key: "id", Err: err}}
	}

	return id, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(data)
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var invalidInput errorz.InvalidInput
	if errors.As(err, &invalidInput) {
		fields := make(map[string]string)
		for _, e := range invalidInput {
			var keyed errorz.Keyed
			if errors.As(e, &keyed) {
				fields[keyed.Key] = keyed.Err.Error()
			}
		}

		s.writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid input", Fields: fields})
		return
	}

	switch {
	case errors.Is(err, errorz.ErrNotFound),
		errors.Is(err, ballot.ErrCandidateNotFound),
		errors.Is(err, ballot.ErrVoterNotFound):
		s.writeError(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, auth.ErrAdminExists),
		errors.Is(err, auth.ErrDuplicateAccount),
		errors.Is(err, ballot.ErrAlreadyVoted),
		errors.Is(err, ballot.ErrCandidateHasVotes):
		s.writeError(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidOTP),
		errors.Is(err, auth.ErrIncorrectPassword),
		errors.Is(err, auth.ErrNoSession),
		errors.Is(err, auth.ErrMalformedSession),
		errors.Is(err, auth.ErrInvalidSession):
		s.writeError(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case errors.Is(err, ballot.ErrAdminCannotVote),
		errors.Is(err, ballot.ErrEmailNotVerified),
		errors.Is(err, auth.ErrEmailNotVerified),
		errors.Is(err, errForbidden):
		s.writeError(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	default:
		s.deps.Logger.Error("internal server error", "url", r.URL.String(), "error", err)
		s.writeError(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, resp errorResponse) {
	if err := s.writeJSON(w, status, resp); err != nil {
		s.deps.Logger.Error("failed to write error response", "error", err)
	}
}
