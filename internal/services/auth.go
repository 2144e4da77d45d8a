package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/authsvc/apiserver/config"
	"github.com/authsvc/apiserver/internal/security"
	"github.com/authsvc/apiserver/internal/store"
	"github.com/authsvc/apiserver/types"
	"go.uber.org/zap"
)

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	Create(ctx context.Context, user types.User) (types.User, error)
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByEmailAndResetCode(ctx context.Context, email, code string) (types.User, error)
	Activate(ctx context.Context, id int, otp string, attempts int) error
	ConsumeAttempt(ctx context.Context, id int, otp *string) (remaining int, deleted bool, err error)
	SetResetCode(ctx context.Context, id int, code string) error
	FailResetAttempt(ctx context.Context, email string, maxAttempts int) error
	ResetPassword(ctx context.Context, id int, code, passwordHash string) error
	SetPassword(ctx context.Context, id int, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id int, at time.Time) error
	SetPhoto(ctx context.Context, id int, key *string) error
	UpdateProfile(ctx context.Context, id int, patch types.ProfilePatch) (types.User, error)
	Delete(ctx context.Context, id int) error
}

// SessionRepository defines persistence operations for issued token pairs.
type SessionRepository interface {
	Record(ctx context.Context, pair types.TokenPair) (types.Session, error)
	FindValidByAccess(ctx context.Context, accessToken string) (types.Session, error)
	FindValidByRefresh(ctx context.Context, refreshToken string) (types.Session, error)
	RevokeValid(ctx context.Context, id int64) error
}

// PasswordHasher is a one-way password transform.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// CodeGenerator produces one-time codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// TokenIssuer signs and verifies token pairs.
type TokenIssuer interface {
	IssuePair(userID int) (types.TokenPair, error)
	Decode(token string) (security.Payload, error)
}

// OTPNotifier delivers freshly issued codes to the account owner.
type OTPNotifier interface {
	NotifyOTP(ctx context.Context, event types.OTPIssued) error
}

// RegisterInput is the payload of Register.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// ResetConfirmInput is the payload of ResetPasswordConfirm.
type ResetConfirmInput struct {
	Email           string
	Code            string
	NewPassword     string
	ConfirmPassword string
}

// SetPasswordInput is the payload of SetNewPassword.
type SetPasswordInput struct {
	OldPassword     string
	NewPassword     string
	ConfirmPassword string
}

// AuthService encapsulates registration, activation, session and password use-cases.
type AuthService struct {
	accounts      AccountRepository
	sessions      SessionRepository
	hasher        PasswordHasher
	codes         CodeGenerator
	tokens        TokenIssuer
	notifier      OTPNotifier
	logger        *zap.Logger
	maxAttempts   int
	registerDelay time.Duration
	now           func() time.Time
}

func NewAuthService(
	accounts AccountRepository,
	sessions SessionRepository,
	hasher PasswordHasher,
	codes CodeGenerator,
	tokens TokenIssuer,
	notifier OTPNotifier,
	cfg config.AuthConfig,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &AuthService{
		accounts:      accounts,
		sessions:      sessions,
		hasher:        hasher,
		codes:         codes,
		tokens:        tokens,
		notifier:      notifier,
		logger:        logger,
		maxAttempts:   maxAttempts,
		registerDelay: cfg.RegisterDelay,
		now:           time.Now,
	}
}

// Register creates a pending account with a fresh activation code.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) error {
	first, err := ValidateName("first_name", in.FirstName)
	if err != nil {
		return err
	}
	last, err := ValidateName("last_name", in.LastName)
	if err != nil {
		return err
	}
	email, err := ValidateEmail(in.Email)
	if err != nil {
		return err
	}
	if err := ValidatePassword("password", in.Password); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	code, err := s.codes.Generate()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}

	// Spaces out codes generated by concurrent registrations. Not a uniqueness guarantee.
	if err := sleepContext(ctx, s.registerDelay); err != nil {
		return err
	}

	user, err := s.accounts.Create(ctx, types.User{
		FirstName:     first,
		LastName:      last,
		Email:         email,
		PasswordHash:  hash,
		OTPCode:       &code,
		AttemptsCount: s.maxAttempts,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return ErrEmailDuplication
		case errors.Is(err, store.ErrInvalidData):
			return ErrInvalidData
		}
		return err
	}

	s.logger.Info("account registered", zap.Int("user_id", user.ID))
	s.notify(ctx, email, types.OTPPurposeActivation, code)
	return nil
}

// VerifyAccount consumes an activation code. Wrong codes cost one attempt and
// the account is deleted when none are left.
func (s *AuthService) VerifyAccount(ctx context.Context, email, otp string) error {
	user, err := s.accounts.GetByEmail(ctx, CanonicalEmail(email))
	if err != nil {
		return mapAccountErr(err)
	}
	if user.IsActive {
		return ErrAccountAlreadyVerified
	}
	if user.AttemptsCount <= 0 {
		if err := s.accounts.Delete(ctx, user.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		s.logger.Info("account deleted after exhausting attempts", zap.Int("user_id", user.ID))
		return ErrAccountDeleted
	}

	if user.OTPCode != nil && codesEqual(*user.OTPCode, otp) {
		err := s.accounts.Activate(ctx, user.ID, otp, s.maxAttempts)
		if err == nil {
			s.logger.Info("account verified", zap.Int("user_id", user.ID))
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		// Activated or re-challenged by a concurrent request.
		current, err := s.accounts.GetByID(ctx, user.ID)
		if err != nil {
			return mapAccountErr(err)
		}
		if current.IsActive {
			return ErrAccountAlreadyVerified
		}
	}

	return s.consumeAttempt(ctx, user.ID, nil)
}

func (s *AuthService) consumeAttempt(ctx context.Context, userID int, otp *string) error {
	remaining, deleted, err := s.accounts.ConsumeAttempt(ctx, userID, otp)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrAccountAlreadyVerified
		}
		return mapAccountErr(err)
	}
	if deleted {
		s.logger.Info("account deleted after exhausting attempts", zap.Int("user_id", userID))
		return ErrAccountDeleted
	}
	if otp != nil {
		return nil
	}
	return &InvalidOTPError{Remaining: remaining}
}

// Login checks credentials of an active account and opens a session.
func (s *AuthService) Login(ctx context.Context, email, password string) (types.TokenPair, error) {
	user, err := s.accounts.GetByEmail(ctx, CanonicalEmail(email))
	if err != nil {
		return types.TokenPair{}, mapAccountErr(err)
	}
	if !user.IsActive {
		return types.TokenPair{}, ErrUnActivated
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return types.TokenPair{}, ErrUnauthorized
	}

	if err := s.accounts.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		return types.TokenPair{}, mapAccountErr(err)
	}
	return s.openSession(ctx, user.ID)
}

// RefreshToken rotates a refresh token. Each refresh token is accepted once.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (types.TokenPair, error) {
	payload, err := s.decode(refreshToken, types.TokenKindRefresh)
	if err != nil {
		return types.TokenPair{}, err
	}

	session, err := s.sessions.FindValidByRefresh(ctx, refreshToken)
	if err != nil {
		return types.TokenPair{}, mapSessionErr(err)
	}
	if err := s.sessions.RevokeValid(ctx, session.ID); err != nil {
		return types.TokenPair{}, mapSessionErr(err)
	}
	return s.openSession(ctx, payload.UserID)
}

// Logout revokes the session holding accessToken.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	session, err := s.sessions.FindValidByAccess(ctx, accessToken)
	if err != nil {
		return mapSessionErr(err)
	}
	if err := s.sessions.RevokeValid(ctx, session.ID); err != nil {
		return mapSessionErr(err)
	}
	return nil
}

// Authenticate resolves a bearer access token to its user id. The token must
// verify and belong to an unrevoked session.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (int, error) {
	payload, err := s.decode(accessToken, types.TokenKindAccess)
	if err != nil {
		return 0, err
	}
	if _, err := s.sessions.FindValidByAccess(ctx, accessToken); err != nil {
		return 0, mapSessionErr(err)
	}
	return payload.UserID, nil
}

// RequestOTP issues a new activation code for a pending account. It costs
// one attempt, like a failed verification.
func (s *AuthService) RequestOTP(ctx context.Context, email, password string) error {
	email = CanonicalEmail(email)
	user, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return mapAccountErr(err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return ErrUnauthorized
	}
	if user.IsActive {
		return ErrAccountAlreadyVerified
	}

	code, err := s.codes.Generate()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	if err := s.consumeAttempt(ctx, user.ID, &code); err != nil {
		return err
	}

	s.notify(ctx, email, types.OTPPurposeActivation, code)
	return nil
}

// ResetPassword issues a password-reset code without any credential check.
func (s *AuthService) ResetPassword(ctx context.Context, email string) error {
	email = CanonicalEmail(email)
	user, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return mapAccountErr(err)
	}

	code, err := s.codes.Generate()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	if err := s.accounts.SetResetCode(ctx, user.ID, code); err != nil {
		return mapAccountErr(err)
	}

	s.notify(ctx, email, types.OTPPurposePasswordReset, code)
	return nil
}

// ResetPasswordConfirm sets a new password for the account holding the reset code.
// A wrong code counts against the outstanding one, which is dropped after
// maxAttempts failures.
func (s *AuthService) ResetPasswordConfirm(ctx context.Context, in ResetConfirmInput) error {
	if in.NewPassword != in.ConfirmPassword {
		return ErrPasswordsDidNotMatch
	}
	if err := ValidatePassword("new_password", in.NewPassword); err != nil {
		return err
	}

	email := CanonicalEmail(in.Email)
	user, err := s.accounts.GetByEmailAndResetCode(ctx, email, in.Code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if ferr := s.accounts.FailResetAttempt(ctx, email, s.maxAttempts); ferr != nil {
				s.logger.Warn("record failed reset attempt", zap.Error(ferr))
			}
		}
		return mapAccountErr(err)
	}
	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.ResetPassword(ctx, user.ID, in.Code, hash); err != nil {
		return mapAccountErr(err)
	}

	s.logger.Info("password reset", zap.Int("user_id", user.ID))
	return nil
}

// SetNewPassword changes the password of an authenticated user.
func (s *AuthService) SetNewPassword(ctx context.Context, userID int, in SetPasswordInput) error {
	if in.NewPassword != in.ConfirmPassword {
		return ErrPasswordsDidNotMatch
	}
	if err := ValidatePassword("new_password", in.NewPassword); err != nil {
		return err
	}

	user, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return mapAccountErr(err)
	}
	if !s.hasher.Verify(in.OldPassword, user.PasswordHash) {
		return ErrPermissionDenied
	}
	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.SetPassword(ctx, user.ID, hash); err != nil {
		return mapAccountErr(err)
	}

	s.logger.Info("password changed", zap.Int("user_id", user.ID))
	return nil
}

func (s *AuthService) openSession(ctx context.Context, userID int) (types.TokenPair, error) {
	pair, err := s.tokens.IssuePair(userID)
	if err != nil {
		return types.TokenPair{}, err
	}
	if _, err := s.sessions.Record(ctx, pair); err != nil {
		return types.TokenPair{}, fmt.Errorf("record session: %w", err)
	}
	return pair, nil
}

func (s *AuthService) decode(token string, kind types.TokenKind) (security.Payload, error) {
	payload, err := s.tokens.Decode(token)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return security.Payload{}, ErrTokenExpired
		}
		return security.Payload{}, ErrUnauthorized
	}
	// Expiry is rechecked against the service clock.
	if !s.now().Before(payload.ExpiresAt) {
		return security.Payload{}, ErrTokenExpired
	}
	if payload.Kind != kind {
		return security.Payload{}, ErrUnauthorized
	}
	return payload, nil
}

func (s *AuthService) notify(ctx context.Context, email string, purpose types.OTPPurpose, code string) {
	if s.notifier == nil {
		return
	}
	event := types.OTPIssued{Email: email, Purpose: purpose, Code: code, IssuedAt: s.now()}
	if err := s.notifier.NotifyOTP(ctx, event); err != nil {
		s.logger.Warn("otp notification failed", zap.String("purpose", string(purpose)), zap.Error(err))
	}
}

func codesEqual(stored, given string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func mapAccountErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if errors.Is(err, store.ErrInvalidData) {
		return ErrInvalidData
	}
	return err
}

func mapSessionErr(err error) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
		return ErrUnauthorized
	}
	return err
}
