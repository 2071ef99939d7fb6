package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mwestra/ballotbox/internal/email"
	"github.com/mwestra/ballotbox/internal/errorz"
	"github.com/mwestra/ballotbox/internal/krypto"
)

var (
	// ErrAdminExists indicates an admin account already exists and no
	// second one can be registered.
	ErrAdminExists = errors.New("admin account already exists")
	// ErrDuplicateAccount indicates an account with the same civic
	// number already exists.
	ErrDuplicateAccount = errors.New("duplicate account")
	// ErrInvalidCredentials is returned for both unknown accounts and
	// wrong passwords, deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrIncorrectPassword indicates the provided current password did
	// not verify.
	ErrIncorrectPassword = errors.New("incorrect password")
	// ErrInvalidOTP is returned for expired, mismatched or absent
	// one-time codes, deliberately indistinguishable.
	ErrInvalidOTP = errors.New("invalid or expired one-time code")
	// ErrEmailNotVerified indicates an operation requires a verified
	// email address.
	ErrEmailNotVerified = errors.New("email address not verified")
)

// Emailer is used to send templated emails.
type Emailer interface {
	Send(ctx context.Context, template string, to email.Address, data interface{}) error
}

// ErrFunc is a function that handles errors.
type ErrFunc func(error)

// ServiceConfig is the configuration for the Service.
type ServiceConfig struct {
	// BaseURL is prefixed to the links embedded in emails.
	BaseURL string
	// WorkerTimeout is the max duration worker goroutines are allowed
	// to take before they are cancelled.
	WorkerTimeout time.Duration
	// TokenExpiry is the duration an email token is valid.
	TokenExpiry time.Duration
	// OTPExpiry is the duration a two-factor login code is valid.
	OTPExpiry time.Duration
}

// Service provides the main rules for accounts and authentication.
type Service struct {
	store      Store
	emailer    Emailer
	sessions   *SessionAuthenticator
	wg         *sync.WaitGroup
	errHandler ErrFunc
	cfg        ServiceConfig

	// comparisonHash is used to compare passwords when no account was found.
	comparisonHash krypto.Argon2Hash

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

func NewService(s Store, emailer Emailer, sessions *SessionAuthenticator, errHandler ErrFunc, cfg ServiceConfig) (*Service, error) {
	tok, err := krypto.GenerateToken()
	if err != nil {
		return nil, err
	}

	hash, err := krypto.HashArgon2(tok[:])
	if err != nil {
		return nil, err
	}

	svc := &Service{
		store:          s,
		emailer:        emailer,
		sessions:       sessions,
		wg:             &sync.WaitGroup{},
		errHandler:     errHandler,
		cfg:            cfg,
		comparisonHash: hash,
		NowFunc:        time.Now,
	}

	return svc, nil
}

// Wait waits for all open workers to finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Registration is the input for registering a new account.
type Registration struct {
	Name        string
	Email       email.Address
	Age         int
	Mobile      string
	Address     string
	CivicNumber CivicNumber
	Password    Password
	Role        Role
}

func (r Registration) validate() error {
	var errs errorz.InvalidInput

	if r.Name == "" {
		errs = append(errs, errorz.Keyed{Key: "name", Err: errors.New("is required")})
	}
	if r.Email == "" {
		errs = append(errs, errorz.Keyed{Key: "email", Err: errors.New("is required")})
	}
	if r.Age <= 0 {
		errs = append(errs, errorz.Keyed{Key: "age", Err: errors.New("is required")})
	}
	if r.Address == "" {
		errs = append(errs, errorz.Keyed{Key: "address", Err: errors.New("is required")})
	}
	if r.CivicNumber == "" {
		errs = append(errs, errorz.Keyed{Key: "civicNumber", Err: errors.New("is required")})
	}
	if len(r.Password.plain) == 0 {
		errs = append(errs, errorz.Keyed{Key: "password", Err: errors.New("is required")})
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

// Register creates a new account with the provided profile and sends a
// verification link to its email address.
//
// The account and its verification token are committed in a single
// transaction. Creating a second admin fails with ErrAdminExists,
// re-using a civic number fails with ErrDuplicateAccount. The email is
// sent by a separate goroutine, a send failure does not undo the
// registration.
func (s *Service) Register(ctx context.Context, reg Registration) (Account, error) {
	if reg.Role == "" {
		reg.Role = RoleVoter
	}

	if err := reg.validate(); err != nil {
		return Account{}, err
	}

	pwdHash, err := reg.Password.Hash()
	if err != nil {
		return Account{}, err
	}

	now := s.NowFunc()

	account := Account{
		ID:           uuid.New(),
		Name:         reg.Name,
		Email:        reg.Email,
		Age:          reg.Age,
		Mobile:       reg.Mobile,
		Address:      reg.Address,
		CivicNumber:  reg.CivicNumber,
		PasswordHash: pwdHash,
		Role:         reg.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	token, err := krypto.GenerateToken()
	if err != nil {
		return Account{}, err
	}

	tokenHash, err := token.Hash()
	if err != nil {
		return Account{}, err
	}

	emailToken := EmailToken{
		ID:        uuid.New(),
		TokenHash: tokenHash,
		UserID:    account.ID,
		Email:     account.Email,
		Purpose:   TokenPurposeVerifyEmail,
		CreatedAt: now,
	}

	err = s.inTx(ctx, func(tx Tx) error {
		// The single write connection serializes write transactions,
		// making these check-then-insert sequences atomic. The unique
		// indexes on role and civic number backstop them regardless.
		existing, txErr := tx.FindAccounts(&AccountFilter{
			CivicNumbers: []CivicNumber{account.CivicNumber},
		})
		if txErr != nil {
			return txErr
		}
		if len(existing) > 0 {
			// Someone who never received the verification email can
			// register again with the same details to get a new link.
			if existing[0].EmailVerified || existing[0].Email != account.Email || !reg.Password.Match(existing[0].PasswordHash) {
				return ErrDuplicateAccount
			}

			account = existing[0]
			emailToken.UserID = account.ID

			return tx.CreateEmailToken(&emailToken)
		}

		if account.Role == RoleAdmin {
			admins, txErr := tx.FindAccounts(&AccountFilter{Roles: []Role{RoleAdmin}})
			if txErr != nil {
				return txErr
			}
			if len(admins) > 0 {
				return ErrAdminExists
			}
		}

		if txErr := tx.CreateAccount(&account); txErr != nil {
			return txErr
		}

		return tx.CreateEmailToken(&emailToken)
	})
	if err != nil {
		return Account{}, err
	}

	// Send the email outside the critical path.
	// This could fail independently of the transaction. This is an acceptable
	// risk for now. If the user has not received the email, they can always
	// request a new verification link.
	//
	// If at some point this becomes unacceptable, we need to consider some
	// kind of outbox pattern.
	s.sendAsync("verify-email", account.Email, LinkData{
		URL: s.tokenURL("verify-email", TokenRequest{ID: emailToken.ID, Token: token}),
	})

	return account, nil
}

// VerifyEmail attempts to verify the email address of the account the
// token was issued for.
func (s *Service) VerifyEmail(ctx context.Context, req TokenRequest) error {
	// - Find the token.
	// - Check if the token is still valid.
	// - Mark the email address as verified.
	// - Consume all outstanding verification tokens for the account.
	return s.inTx(ctx, func(tx Tx) error {
		token, err := s.consumableToken(tx, req, TokenPurposeVerifyEmail)
		if err != nil {
			return err
		}

		now := s.NowFunc()

		accounts, err := tx.FindAccounts(&AccountFilter{IDs: []uuid.UUID{token.UserID}})
		if err != nil {
			return err
		}

		if len(accounts) != 1 || accounts[0].EmailVerified {
			return errorz.ErrNotFound
		}

		accounts[0].EmailVerified = true
		accounts[0].UpdatedAt = now

		if err := tx.UpdateAccount(&accounts[0]); err != nil {
			return err
		}

		return s.consumeAll(tx, token.UserID, TokenPurposeVerifyEmail, now)
	})
}

// Credentials identify an account by civic number and password.
type Credentials struct {
	CivicNumber CivicNumber
	Password    Password
}

func (c Credentials) validate() error {
	var errs errorz.InvalidInput

	if c.CivicNumber == "" {
		errs = append(errs, errorz.Keyed{Key: "civicNumber", Err: errors.New("is required")})
	}
	if len(c.Password.plain) == 0 {
		errs = append(errs, errorz.Keyed{Key: "password", Err: errors.New("is required")})
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

// LoginResult is the outcome of a successful credential check.
// Either Session holds an issued credential, or TwoFactorPending is
// set and the caller has to follow up with VerifyOTP.
type LoginResult struct {
	Account          Account
	TwoFactorPending bool
	Session          string
}

// Authenticate checks the provided credentials. When the account has
// two-factor login enabled a one-time code is emailed and no session
// is issued yet.
func (s *Service) Authenticate(ctx context.Context, c Credentials) (LoginResult, error) {
	if err := c.validate(); err != nil {
		return LoginResult{}, err
	}

	var result LoginResult
	var code OTPCode

	err := s.inTx(ctx, func(tx Tx) error {
		accounts, err := tx.FindAccounts(&AccountFilter{
			CivicNumbers: []CivicNumber{c.CivicNumber},
		})
		if err != nil {
			return err
		}

		if len(accounts) != 1 {
			// Even if no account is found we compare to a hash to prevent
			// timing differences that could result in enumeration attacks.
			_ = c.Password.Match(s.comparisonHash)
			return ErrInvalidCredentials
		}

		account := accounts[0]

		if !c.Password.Match(account.PasswordHash) {
			return ErrInvalidCredentials
		}

		result.Account = account

		if !account.TwoFactorEnabled {
			session, err := s.sessions.IssueSession(account.ID)
			if err != nil {
				return err
			}

			result.Session = session
			return nil
		}

		// Two-factor login, replace any outstanding challenge.
		code, err = GenerateOTPCode()
		if err != nil {
			return err
		}

		codeHash, err := code.Hash()
		if err != nil {
			return err
		}

		now := s.NowFunc()

		result.TwoFactorPending = true
		return tx.UpsertChallenge(&Challenge{
			UserID:    account.ID,
			CodeHash:  codeHash,
			ExpiresAt: now.Add(s.cfg.OTPExpiry),
			CreatedAt: now,
		})
	})
	if err != nil {
		return LoginResult{}, err
	}

	if result.TwoFactorPending {
		s.sendAsync("login-otp", result.Account.Email, OTPData{
			Code: code,
			TTL:  s.cfg.OTPExpiry.String(),
		})
	}

	return result, nil
}

// VerifyOTP finishes a two-factor login. The challenge is deleted and
// the session issued in the same transaction, a code can never be
// redeemed twice.
func (s *Service) VerifyOTP(ctx context.Context, addr email.Address, code OTPCode) (LoginResult, error) {
	var errs errorz.InvalidInput
	if addr == "" {
		errs = append(errs, errorz.Keyed{Key: "email", Err: errors.New("is required")})
	}
	if code == "" {
		errs = append(errs, errorz.Keyed{Key: "code", Err: errors.New("is required")})
	}
	if len(errs) > 0 {
		return LoginResult{}, errs
	}

	var result LoginResult

	err := s.inTx(ctx, func(tx Tx) error {
		accounts, err := tx.FindAccounts(&AccountFilter{
			Emails: []email.Address{addr},
		})
		if err != nil {
			return err
		}

		if len(accounts) != 1 {
			return ErrInvalidOTP
		}

		account := accounts[0]

		challenge, err := tx.FindChallenge(account.ID)
		if err != nil {
			if errors.Is(err, errorz.ErrNotFound) {
				return ErrInvalidOTP
			}
			return err
		}

		// Expired or mismatched codes are rejected without side effects.
		if s.NowFunc().After(challenge.ExpiresAt) {
			return ErrInvalidOTP
		}

		if !code.Match(challenge.CodeHash) {
			return ErrInvalidOTP
		}

		if err := tx.DeleteChallenge(account.ID); err != nil {
			return err
		}

		session, err := s.sessions.IssueSession(account.ID)
		if err != nil {
			return err
		}

		result = LoginResult{
			Account: account,
			Session: session,
		}
		return nil
	})
	if err != nil {
		return LoginResult{}, err
	}

	return result, nil
}

// RequestPasswordReset requests a password reset for the account with the
// provided email address. The main work is done in a separate goroutine and
// no output is returned to indicate if the request was successful. This is
// by design to prevent information leakage.
func (s *Service) RequestPasswordReset(ctx context.Context, addr email.Address) {
	// The actual work is done in a separate goroutine to prevent:
	// - Waiting for the email to be send might slow down sending a response.
	// - Information leakage. Timing difference between existing/non-existing
	//   accounts could lead to enumeration attacks.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		wCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WorkerTimeout)
		defer cancel()

		err := s.startPasswordReset(wCtx, addr)
		if err != nil {
			s.errHandler(err)
			return
		}
	}()
}

func (s *Service) startPasswordReset(ctx context.Context, addr email.Address) error {
	now := s.NowFunc()

	token, err := krypto.GenerateToken()
	if err != nil {
		return err
	}

	tokenHash, err := token.Hash()
	if err != nil {
		return err
	}

	emailToken := EmailToken{
		ID:        uuid.New(),
		TokenHash: tokenHash,
		Email:     addr,
		Purpose:   TokenPurposePasswordReset,
		CreatedAt: now,
	}

	err = s.inTx(ctx, func(tx Tx) error {
		accounts, txErr := tx.FindAccounts(&AccountFilter{
			Emails:        []email.Address{addr},
			EmailVerified: ptr(true),
		})
		if txErr != nil {
			return txErr
		}

		if len(accounts) != 1 {
			return errorz.ErrNotFound
		}

		emailToken.UserID = accounts[0].ID

		return tx.CreateEmailToken(&emailToken)
	})
	if err != nil {
		return err
	}

	return s.emailer.Send(ctx, "password-reset", addr, LinkData{
		URL: s.tokenURL("reset-password", TokenRequest{ID: emailToken.ID, Token: token}),
	})
}

// ResetPassword consumes a password reset token and replaces the
// credential hash of the account it was issued for.
func (s *Service) ResetPassword(ctx context.Context, req TokenRequest, newPwd Password) error {
	if len(newPwd.plain) == 0 {
		return errorz.InvalidInput{errorz.Keyed{Key: "password", Err: errors.New("is required")}}
	}

	pwdHash, err := newPwd.Hash()
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx Tx) error {
		token, err := s.consumableToken(tx, req, TokenPurposePasswordReset)
		if err != nil {
			return err
		}

		now := s.NowFunc()

		accounts, err := tx.FindAccounts(&AccountFilter{IDs: []uuid.UUID{token.UserID}})
		if err != nil {
			return err
		}

		if len(accounts) != 1 {
			return errorz.ErrNotFound
		}

		accounts[0].PasswordHash = pwdHash
		accounts[0].UpdatedAt = now

		if err := tx.UpdateAccount(&accounts[0]); err != nil {
			return err
		}

		return s.consumeAll(tx, token.UserID, TokenPurposePasswordReset, now)
	})
}

// ChangePassword replaces the credential hash of an account after
// verifying the current password.
func (s *Service) ChangePassword(ctx context.Context, accountID uuid.UUID, current, newPwd Password) error {
	var errs errorz.InvalidInput
	if len(current.plain) == 0 {
		errs = append(errs, errorz.Keyed{Key: "currentPassword", Err: errors.New("is required")})
	}
	if len(newPwd.plain) == 0 {
		errs = append(errs, errorz.Keyed{Key: "newPassword", Err: errors.New("is required")})
	}
	if len(errs) > 0 {
		return errs
	}

	pwdHash, err := newPwd.Hash()
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx Tx) error {
		account, err := s.accountByID(tx, accountID)
		if err != nil {
			return err
		}

		if !current.Match(account.PasswordHash) {
			return ErrIncorrectPassword
		}

		account.PasswordHash = pwdHash
		account.UpdatedAt = s.NowFunc()

		return tx.UpdateAccount(&account)
	})
}

// ToggleTwoFactor flips the two-factor login flag of an account and
// returns the new state. Codes are delivered over email, so the email
// address has to be verified first.
func (s *Service) ToggleTwoFactor(ctx context.Context, accountID uuid.UUID) (bool, error) {
	var enabled bool

	err := s.inTx(ctx, func(tx Tx) error {
		account, err := s.accountByID(tx, accountID)
		if err != nil {
			return err
		}

		if !account.EmailVerified {
			return ErrEmailNotVerified
		}

		account.TwoFactorEnabled = !account.TwoFactorEnabled
		account.UpdatedAt = s.NowFunc()
		enabled = account.TwoFactorEnabled

		return tx.UpdateAccount(&account)
	})
	if err != nil {
		return false, err
	}

	return enabled, nil
}

// Account returns the account with the provided ID.
func (s *Service) Account(ctx context.Context, accountID uuid.UUID) (Account, error) {
	var account Account

	err := s.inTx(ctx, func(tx Tx) error {
		var txErr error
		account, txErr = s.accountByID(tx, accountID)
		return txErr
	})
	if err != nil {
		return Account{}, err
	}

	return account, nil
}

// consumableToken finds the unconsumed token identified by req and
// checks expiry and the token hash. Expired, consumed, unknown and
// mismatched tokens all come back as errorz.ErrNotFound so callers
// can't probe for their state.
func (s *Service) consumableToken(tx Tx, req TokenRequest, purpose TokenPurpose) (EmailToken, error) {
	tokens, err := tx.FindEmailTokens(&EmailTokenFilter{
		IDs:        []uuid.UUID{req.ID},
		Purposes:   []TokenPurpose{purpose},
		IsConsumed: ptr(false),
	})
	if err != nil {
		return EmailToken{}, err
	}

	if len(tokens) != 1 {
		return EmailToken{}, errorz.ErrNotFound
	}

	token := tokens[0]

	if s.NowFunc().Sub(token.CreatedAt) > s.cfg.TokenExpiry {
		return EmailToken{}, errorz.ErrNotFound
	}

	if !req.Token.Match(token.TokenHash) {
		return EmailToken{}, errorz.ErrNotFound
	}

	return token, nil
}

// consumeAll marks all unconsumed tokens of the provided purpose
// consumed for an account.
func (s *Service) consumeAll(tx Tx, userID uuid.UUID, purpose TokenPurpose, now time.Time) error {
	tokens, err := tx.FindEmailTokens(&EmailTokenFilter{
		UserIDs:    []uuid.UUID{userID},
		Purposes:   []TokenPurpose{purpose},
		IsConsumed: ptr(false),
	})
	if err != nil {
		return err
	}

	for _, t := range tokens {
		t.ConsumedAt = ptr(now)
		if err := tx.UpdateEmailToken(&t); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) accountByID(tx Tx, accountID uuid.UUID) (Account, error) {
	accounts, err := tx.FindAccounts(&AccountFilter{IDs: []uuid.UUID{accountID}})
	if err != nil {
		return Account{}, err
	}

	if len(accounts) != 1 {
		return Account{}, errorz.ErrNotFound
	}

	return accounts[0], nil
}

// LinkData and OTPData are the inputs for the email templates.
type LinkData struct {
	URL string
}

type OTPData struct {
	Code OTPCode
	TTL  string
}

func (s *Service) tokenURL(path string, req TokenRequest) string {
	return fmt.Sprintf("%s/%s?id=%s&token=%s", strings.TrimSuffix(s.cfg.BaseURL, "/"), path, req.ID, req.Token)
}

func (s *Service) sendAsync(template string, to email.Address, data any) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		wCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WorkerTimeout)
		defer cancel()

		if err := s.emailer.Send(wCtx, template, to, data); err != nil {
			s.errHandler(err)
		}
	}()
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

func ptr[T any](v T) *T {
	return &v
}
