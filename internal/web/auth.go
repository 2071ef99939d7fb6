package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/auth"
)

// errForbidden indicates the account is not allowed to perform the
// requested operation.
var errForbidden = errors.New("forbidden")

type ctxKey int

const accountIDKey ctxKey = iota

func ctxWithAccountID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, accountIDKey, id)
}

// accountIDFromCtx returns the account ID of the authenticated session.
// It only succeeds for requests that passed the loggedIn middleware.
func accountIDFromCtx(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(accountIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, auth.ErrNoSession
	}

	return id, nil
}

// bearerToken extracts the session credential from the Authorization
// header. It returns an empty string if there is none.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "

	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}

	return ""
}

// public registers a route anyone can call.
func (s *Server) public(route string, h http.Handler) {
	s.mux.Handle(route, h)
}

// loggedIn registers a route that requires a valid session. The account
// ID of the session is made available via the request context.
func (s *Server) loggedIn(route string, h http.Handler) {
	s.mux.Handle(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID, err := s.deps.Sessions.Authenticate(bearerToken(r))
		if err != nil {
			s.handleError(w, r, err)
			return
		}

		h.ServeHTTP(w, r.WithContext(ctxWithAccountID(r.Context(), accountID)))
	}))
}

// admin registers a route that requires a valid session belonging to
// the admin account.
func (s *Server) admin(route string, h http.Handler) {
	s.loggedIn(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID, err := accountIDFromCtx(r.Context())
		if err != nil {
			s.handleError(w, r, err)
			return
		}

		account, err := s.deps.AuthService.Account(r.Context(), accountID)
		if err != nil {
			s.handleError(w, r, err)
			return
		}

		if account.Role != auth.RoleAdmin {
			s.handleError(w, r, errForbidden)
			return
		}

		h.ServeHTTP(w, r)
	}))
}
