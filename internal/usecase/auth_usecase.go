package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
	"github.com/FilipeAphrody/farmhand-auth/internal/lib/sl"
	"github.com/FilipeAphrody/farmhand-auth/internal/metrics"
	"github.com/FilipeAphrody/farmhand-auth/internal/notifier"
	"github.com/FilipeAphrody/farmhand-auth/pkg/security"
)

// ErrTwoFactorRequired means the password was accepted and a login code was sent.
var ErrTwoFactorRequired = errors.New("two_factor_required")

// Audit event types written to audit_logs.
const (
	eventRegistered        = "REGISTERED"
	eventLoginSuccess      = "LOGIN_SUCCESS"
	eventLoginFailed       = "LOGIN_FAILED"
	eventTwoFactorFailed   = "TWO_FACTOR_FAILED"
	eventRefreshReuse      = "REFRESH_TOKEN_REUSE"
	eventLogoutAll         = "LOGOUT_ALL"
	eventPasswordReset     = "PASSWORD_RESET"
	eventEmailVerified     = "EMAIL_VERIFIED"
	eventSecurityUpdated   = "SECURITY_UPDATED"
	eventAccountDeleted    = "ACCOUNT_DELETED"
	eventUserCreated       = "USER_CREATED"
	eventAdminBootstrapped = "ADMIN_BOOTSTRAPPED"
)

// Config holds the lifetimes and limits of every auth artifact.
type Config struct {
	PendingTTL           time.Duration
	ResetTTL             time.Duration
	VerifyTTL            time.Duration
	TwoFactorTTL         time.Duration
	CodeLength           int
	MaxTwoFactorAttempts int
}

// DefaultConfig returns the standard lifetimes: 15m registration codes, 1h reset codes,
// 24h verification codes and 5m second-factor challenges.
func DefaultConfig() Config {
	return Config{
		PendingTTL:           15 * time.Minute,
		ResetTTL:             time.Hour,
		VerifyTTL:            24 * time.Hour,
		TwoFactorTTL:         security.LoginCodeTTL,
		CodeLength:           6,
		MaxTwoFactorAttempts: 5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PendingTTL <= 0 {
		c.PendingTTL = d.PendingTTL
	}
	if c.ResetTTL <= 0 {
		c.ResetTTL = d.ResetTTL
	}
	if c.VerifyTTL <= 0 {
		c.VerifyTTL = d.VerifyTTL
	}
	if c.TwoFactorTTL <= 0 {
		c.TwoFactorTTL = d.TwoFactorTTL
	}
	if c.CodeLength <= 0 {
		c.CodeLength = d.CodeLength
	}
	if c.MaxTwoFactorAttempts <= 0 {
		c.MaxTwoFactorAttempts = d.MaxTwoFactorAttempts
	}
	return c
}

// Notifier accepts messages for asynchronous delivery.
type Notifier interface {
	Notify(msg notifier.Message)
}

type AuthUsecase struct {
	users    domain.UserRepository
	pending  domain.PendingRepository
	sessions domain.SessionRepository
	tokens   *security.TokenIssuer
	notifier Notifier
	cfg      Config

	log     *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

type Option func(*AuthUsecase)

func WithLogger(log *slog.Logger) Option {
	return func(u *AuthUsecase) { u.log = log }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(u *AuthUsecase) { u.metrics = m }
}

// WithClock replaces the time source used for every expiry decision.
func WithClock(now func() time.Time) Option {
	return func(u *AuthUsecase) { u.now = now }
}

func NewAuthUsecase(
	users domain.UserRepository,
	pending domain.PendingRepository,
	sessions domain.SessionRepository,
	tokens *security.TokenIssuer,
	n Notifier,
	cfg Config,
	opts ...Option,
) *AuthUsecase {
	u := &AuthUsecase{
		users:    users,
		pending:  pending,
		sessions: sessions,
		tokens:   tokens,
		notifier: n,
		cfg:      cfg.withDefaults(),
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// generateSession issues an access/refresh pair and records the refresh token as a new session.
// Sessions on other devices are left untouched.
func (u *AuthUsecase) generateSession(ctx context.Context, user *domain.User, device domain.Device) (*domain.AuthResponse, error) {
	const op = "usecase.generateSession"

	accessToken, accessExp, err := u.tokens.IssueAccess(user.ID)
	if err != nil {
		return nil, internal(op, err)
	}

	refreshToken, refreshExp, err := u.tokens.IssueRefresh(user.ID)
	if err != nil {
		return nil, internal(op, err)
	}

	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: security.HashToken(refreshToken),
		IssuedAt:  u.now(),
		ExpiresAt: refreshExp,
		UserAgent: device.UserAgent,
		IP:        device.IP,
	}
	if err := u.sessions.Create(ctx, session); err != nil {
		return nil, internal(op, err)
	}

	return &domain.AuthResponse{
		User:             user,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// audit writes a security event. Failures are logged and never surface to the caller.
func (u *AuthUsecase) audit(ctx context.Context, userID, event, ip string, meta map[string]interface{}) {
	if err := u.users.LogSecurityEvent(ctx, userID, event, ip, meta); err != nil {
		u.log.Warn("failed to write audit event", slog.String("event", event), sl.Err(err))
	}
}

func (u *AuthUsecase) newCode() (string, error) {
	return security.GenerateCode(u.cfg.CodeLength)
}

// findUserByEmail returns (nil, nil) when no user has the email.
func (u *AuthUsecase) findUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := u.users.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return user, err
}

func (u *AuthUsecase) findUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, err := u.users.GetByUsername(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return user, err
}

// ensureUnique rejects a username or email that already belongs to a user.
// The message does not say which of the two collided.
func (u *AuthUsecase) ensureUnique(ctx context.Context, op, username, email string) error {
	byEmail, err := u.findUserByEmail(ctx, email)
	if err != nil {
		return internal(op, err)
	}
	byName, err := u.findUserByUsername(ctx, username)
	if err != nil {
		return internal(op, err)
	}
	if byEmail != nil || byName != nil {
		return domain.Conflict("user already exists")
	}
	return nil
}

func internal(op string, err error) error {
	return domain.Internal(fmt.Errorf("%s: %w", op, err))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func expired(at *time.Time, now time.Time) bool {
	return at == nil || !now.Before(*at)
}
