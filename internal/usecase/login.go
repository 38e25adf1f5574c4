package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
	"github.com/FilipeAphrody/farmhand-auth/internal/metrics"
	"github.com/FilipeAphrody/farmhand-auth/internal/notifier"
	"github.com/FilipeAphrody/farmhand-auth/internal/validate"
	"github.com/FilipeAphrody/farmhand-auth/pkg/security"
)

// Login handles the first step of authentication: validating credentials.
// identifier is a username or an email.
func (u *AuthUsecase) Login(ctx context.Context, identifier, password string, device domain.Device) (*domain.AuthResponse, error) {
	const op = "usecase.Login"

	identifier = strings.TrimSpace(identifier)
	if err := validate.Collect(
		validate.Required("emailOrUsername", identifier),
		validate.Required("password", password),
	); err != nil {
		return nil, err
	}

	user, err := u.users.GetByIdentifier(ctx, identifier)
	if errors.Is(err, domain.ErrNotFound) {
		u.audit(ctx, "", eventLoginFailed, device.IP, map[string]interface{}{"reason": "unknown_account"})
		u.metrics.Event(metrics.EventLogin, metrics.OutcomeFailure)
		return nil, domain.NotFound("account not found")
	}
	if err != nil {
		return nil, internal(op, err)
	}

	// Verification is checked before the password, so an unverified account
	// is refused whatever password was given.
	if !user.EmailVerified {
		u.metrics.Event(metrics.EventLogin, metrics.OutcomeFailure)
		return nil, domain.Forbidden("email not verified")
	}
	if user.Status != domain.StatusActive {
		u.metrics.Event(metrics.EventLogin, metrics.OutcomeFailure)
		return nil, domain.Forbidden("account is inactive")
	}

	match, err := security.ComparePassword(password, user.PasswordHash)
	if err != nil {
		return nil, internal(op, err)
	}
	if !match {
		u.audit(ctx, user.ID, eventLoginFailed, device.IP, map[string]interface{}{"reason": "bad_password"})
		u.metrics.Event(metrics.EventLogin, metrics.OutcomeFailure)
		return nil, domain.Unauthorized("invalid credentials")
	}

	if user.TwoFactorEnabled {
		if err := u.startChallenge(ctx, user); err != nil {
			return nil, err
		}
		return nil, ErrTwoFactorRequired
	}

	resp, err := u.generateSession(ctx, user, device)
	if err != nil {
		return nil, err
	}

	u.audit(ctx, user.ID, eventLoginSuccess, device.IP, map[string]interface{}{"user_agent": device.UserAgent})
	u.metrics.Event(metrics.EventLogin, metrics.OutcomeSuccess)
	return resp, nil
}

// usedCodeRetention covers the furthest step startChallenge may issue a code for.
const usedCodeRetention = 3 * security.LoginCodeTTL

// startChallenge opens a second-factor challenge and texts its login code.
// A code consumed earlier in the same step is never issued again: the next step's code is used instead.
func (u *AuthUsecase) startChallenge(ctx context.Context, user *domain.User) error {
	const op = "usecase.startChallenge"

	if user.TwoFactorSecret == "" || user.Phone == "" {
		return internal(op, errors.New("two-factor enabled without secret or phone"))
	}

	now := u.now()
	for step := time.Duration(0); step < 3; step++ {
		code, err := security.GenerateLoginCode(user.TwoFactorSecret, now.Add(step*security.LoginCodeTTL))
		if err != nil {
			return internal(op, err)
		}

		ch := &domain.TwoFactorChallenge{UserID: user.ID, CodeHash: security.HashToken(code)}
		err = u.sessions.SaveChallenge(ctx, ch, u.cfg.TwoFactorTTL)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return internal(op, err)
		}

		u.notifier.Notify(notifier.TwoFactorCode(user.Phone, code))
		return nil
	}
	return internal(op, errors.New("no unused login code available"))
}

// VerifyTwoFactor handles the second step: validating the login code of an open challenge.
func (u *AuthUsecase) VerifyTwoFactor(ctx context.Context, identifier, code string, device domain.Device) (*domain.AuthResponse, error) {
	const op = "usecase.VerifyTwoFactor"

	identifier = strings.TrimSpace(identifier)
	if err := validate.Collect(
		validate.Required("emailOrUsername", identifier),
		validate.Code(code),
	); err != nil {
		return nil, err
	}

	invalid := domain.Unauthorized("invalid two-factor code")

	user, err := u.users.GetByIdentifier(ctx, identifier)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, internal(op, err)
	}
	if !user.TwoFactorEnabled {
		return nil, invalid
	}

	ch, err := u.sessions.AttemptChallenge(ctx, user.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Unauthorized("no pending two-factor challenge, please log in again")
	}
	if err != nil {
		return nil, internal(op, err)
	}
	// The counter survives new logins, so exceeding it locks the second factor
	// until the counter expires.
	if ch.Attempts > u.cfg.MaxTwoFactorAttempts {
		if err := u.sessions.ClearChallenge(ctx, user.ID); err != nil {
			return nil, internal(op, err)
		}
		u.metrics.Event(metrics.EventTwoFactor, metrics.OutcomeFailure)
		return nil, domain.Unauthorized("too many attempts, please try again later")
	}

	hash := security.HashToken(code)
	if !codesEqual(ch.CodeHash, hash) {
		u.audit(ctx, user.ID, eventTwoFactorFailed, device.IP, map[string]interface{}{"attempt": ch.Attempts})
		u.metrics.Event(metrics.EventTwoFactor, metrics.OutcomeFailure)
		return nil, invalid
	}

	consumed, err := u.sessions.ConsumeChallenge(ctx, user.ID, hash, usedCodeRetention)
	if err != nil {
		return nil, internal(op, err)
	}
	if !consumed {
		u.metrics.Event(metrics.EventTwoFactor, metrics.OutcomeFailure)
		return nil, invalid
	}

	resp, err := u.generateSession(ctx, user, device)
	if err != nil {
		return nil, err
	}

	u.audit(ctx, user.ID, eventLoginSuccess, device.IP, map[string]interface{}{"two_factor": true})
	u.metrics.Event(metrics.EventTwoFactor, metrics.OutcomeSuccess)
	return resp, nil
}
