package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/auth"
	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
	pkgauth "github.com/Nancyzolla/Groupe8-SI3/pkg/auth"
	pkglogger "github.com/Nancyzolla/Groupe8-SI3/pkg/logger"
)

// LockedOutError reports an active lockout and how long it has left.
type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("account locked, retry in %ds", int(e.RetryAfter.Seconds()))
}

func (e *LockedOutError) Unwrap() error { return models.ErrAccountLocked }

// FailedLoginError reports a rejected credential attempt with the failure
// counter surfaced to the client.
type FailedLoginError struct {
	Attempts int
	Max      int
}

func (e *FailedLoginError) Error() string {
	return fmt.Sprintf("invalid credentials (%d/%d)", e.Attempts, e.Max)
}

func (e *FailedLoginError) Unwrap() error { return models.ErrUnauthorized }

// LoginResult is a successful authentication outcome.
type LoginResult struct {
	Pair               *TokenPair
	Role               string
	MustChangePassword bool
}

// LoginService runs the credential flow: lockout gate, password, TOTP, then
// token issuance. Failed attempts feed the lockout guard; all failure paths
// are padded to a uniform response time.
type LoginService struct {
	users   UserFetcher
	lockout *LockoutService
	tokens  *TokenService
	totp    *auth.TOTPVerifier
	timing  *auth.TimingDelay
	logger  *slog.Logger
}

// NewLoginService creates a new LoginService
func NewLoginService(users UserFetcher, lockout *LockoutService, tokens *TokenService, totp *auth.TOTPVerifier, timing *auth.TimingDelay, logger *slog.Logger) *LoginService {
	return &LoginService{
		users:   users,
		lockout: lockout,
		tokens:  tokens,
		totp:    totp,
		timing:  timing,
		logger:  logger,
	}
}

// Login authenticates a username, password and TOTP code from the given IP.
func (s *LoginService) Login(ctx context.Context, username, password, totpCode, ip string) (*LoginResult, error) {
	start := time.Now()

	if locked, remaining := s.lockout.IsLocked(username, ip); locked {
		s.timing.WaitFrom(start, false)
		return nil, &LockedOutError{RetryAfter: remaining}
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, s.fail(start, username, ip, "unknown user")
		}
		return nil, err
	}

	if !user.Active {
		s.logger.Warn("login attempt on disabled account",
			slog.String("username", pkglogger.MaskUsername(username)), slog.String("ip_address", ip))
		s.timing.WaitFrom(start, false)
		return nil, models.ErrAccountDisabled
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, s.fail(start, username, ip, "bad password")
	}

	ok, err := s.totp.Verify(user.TOTPSecret, totpCode)
	if err != nil || !ok {
		return nil, s.fail(start, username, ip, "bad TOTP code")
	}

	s.lockout.RecordSuccess(username, ip)

	pair, err := s.tokens.IssuePair(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("login succeeded",
		slog.String("username", pkglogger.MaskUsername(username)),
		slog.String("ip_address", ip),
		slog.String("role", user.Role))

	return &LoginResult{
		Pair:               pair,
		Role:               user.Role,
		MustChangePassword: user.MustChangePassword,
	}, nil
}

// fail records the attempt, pads the response time and builds the counting
// error. The recorded failure is visible to the next attempt's lockout check,
// not this one.
func (s *LoginService) fail(start time.Time, username, ip, cause string) error {
	n := s.lockout.RecordFailure(username, ip)

	s.logger.Warn("login failed",
		slog.String("username", pkglogger.MaskUsername(username)),
		slog.String("ip_address", ip),
		slog.String("cause", cause),
		slog.Int("attempts", n))

	s.timing.WaitFrom(start, false)
	return &FailedLoginError{Attempts: n, Max: s.lockout.MaxFailures()}
}
