package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/auth"
	"github.com/mwestra/ballotbox/internal/krypto"
)

func Test_SessionAuthenticator(t *testing.T) {
	secret := krypto.NewSecret("test-session-secret")

	t.Run("ok, issue and authenticate", func(t *testing.T) {
		a := auth.NewSessionAuthenticator(secret, time.Hour)

		accountID := uuid.New()

		session, err := a.IssueSession(accountID)
		if err != nil {
			t.Fatalf("failed to issue session: %v", err)
		}

		got, err := a.Authenticate(session)
		if err != nil {
			t.Fatalf("failed to authenticate session: %v", err)
		}

		if got != accountID {
			t.Errorf("got account ID %v, want %v", got, accountID)
		}
	})

	t.Run("fail, no credential", func(t *testing.T) {
		a := auth.NewSessionAuthenticator(secret, time.Hour)

		_, err := a.Authenticate("")
		if !errors.Is(err, auth.ErrNoSession) {
			t.Fatalf("got %v, want %v (via errors.Is)", err, auth.ErrNoSession)
		}
	})

	t.Run("fail, malformed credential", func(t *testing.T) {
		a := auth.NewSessionAuthenticator(secret, time.Hour)

		_, err := a.Authenticate("not-a-jwt")
		if !errors.Is(err, auth.ErrMalformedSession) {
			t.Fatalf("got %v, want %v (via errors.Is)", err, auth.ErrMalformedSession)
		}
	})

	t.Run("fail, wrong signing secret", func(t *testing.T) {
		a := auth.NewSessionAuthenticator(secret, time.Hour)
		other := auth.NewSessionAuthenticator(krypto.NewSecret("other-secret"), time.Hour)

		session, err := other.IssueSession(uuid.New())
		if err != nil {
			t.Fatalf("failed to issue session: %v", err)
		}

		_, err = a.Authenticate(session)
		if !errors.Is(err, auth.ErrInvalidSession) {
			t.Fatalf("got %v, want %v (via errors.Is)", err, auth.ErrInvalidSession)
		}
	})

	t.Run("fail, expired credential", func(t *testing.T) {
		a := auth.NewSessionAuthenticator(secret, time.Hour)

		session, err := a.IssueSession(uuid.New())
		if err != nil {
			t.Fatalf("failed to issue session: %v", err)
		}

		a.NowFunc = func() time.Time {
			return time.Now().Add(time.Hour + time.Minute)
		}

		_, err = a.Authenticate(session)
		if !errors.Is(err, auth.ErrInvalidSession) {
			t.Fatalf("got %v, want %v (via errors.Is)", err, auth.ErrInvalidSession)
		}
	})
}
