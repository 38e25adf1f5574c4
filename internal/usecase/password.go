package usecase

import (
	"context"
	"crypto/subtle"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
	"github.com/FilipeAphrody/farmhand-auth/internal/metrics"
	"github.com/FilipeAphrody/farmhand-auth/internal/notifier"
	"github.com/FilipeAphrody/farmhand-auth/internal/validate"
	"github.com/FilipeAphrody/farmhand-auth/pkg/security"
)

// ForgotPassword emails a reset code when the account exists.
// The outcome is identical for unknown emails.
func (u *AuthUsecase) ForgotPassword(ctx context.Context, email string) error {
	const op = "usecase.ForgotPassword"

	email = normalizeEmail(email)
	if err := validate.Collect(validate.Email(email)); err != nil {
		return err
	}

	user, err := u.findUserByEmail(ctx, email)
	if err != nil {
		return internal(op, err)
	}
	if user == nil {
		return nil
	}

	code, err := u.newCode()
	if err != nil {
		return internal(op, err)
	}
	expires := u.now().Add(u.cfg.ResetTTL)
	user.ResetCode = code
	user.ResetExpires = &expires
	if err := u.users.Update(ctx, user); err != nil {
		return internal(op, err)
	}

	u.notifier.Notify(notifier.PasswordResetCode(user.Email, code, u.cfg.ResetTTL))
	return nil
}

// CheckResetCode confirms a reset code is valid without consuming it.
func (u *AuthUsecase) CheckResetCode(ctx context.Context, email, code string) error {
	_, err := u.userForReset(ctx, "usecase.CheckResetCode", email, code)
	return err
}

// ConfirmForgotPassword sets a new password using a valid reset code, then revokes every session.
func (u *AuthUsecase) ConfirmForgotPassword(ctx context.Context, email, code, newPassword string) error {
	const op = "usecase.ConfirmForgotPassword"

	if err := validate.Collect(validate.Password("newPassword", newPassword)); err != nil {
		return err
	}

	user, err := u.userForReset(ctx, op, email, code)
	if err != nil {
		u.metrics.Event(metrics.EventPasswordReset, metrics.OutcomeFailure)
		return err
	}

	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return internal(op, err)
	}
	user.PasswordHash = hash
	user.ResetCode = ""
	user.ResetExpires = nil
	if err := u.users.Update(ctx, user); err != nil {
		return internal(op, err)
	}

	n, err := u.sessions.RevokeAll(ctx, user.ID)
	if err != nil {
		return internal(op, err)
	}

	u.audit(ctx, user.ID, eventPasswordReset, "", map[string]interface{}{"revoked": n})
	u.metrics.SessionsRevoked(n)
	u.metrics.Event(metrics.EventPasswordReset, metrics.OutcomeSuccess)
	return nil
}

// userForReset returns the user whose live reset code matches. A stale code is cleared.
func (u *AuthUsecase) userForReset(ctx context.Context, op, email, code string) (*domain.User, error) {
	email = normalizeEmail(email)
	if err := validate.Collect(validate.Email(email), validate.Code(code)); err != nil {
		return nil, err
	}

	invalid := domain.Validation("invalid code", map[string]string{"code": "is invalid"})

	user, err := u.findUserByEmail(ctx, email)
	if err != nil {
		return nil, internal(op, err)
	}
	if user == nil || !codesEqual(user.ResetCode, code) {
		return nil, invalid
	}

	if expired(user.ResetExpires, u.now()) {
		user.ResetCode = ""
		user.ResetExpires = nil
		if err := u.users.Update(ctx, user); err != nil {
			return nil, internal(op, err)
		}
		return nil, domain.Expired("code expired, please request a new one")
	}
	return user, nil
}

// codesEqual compares in constant time. An empty stored code never matches.
func codesEqual(stored, given string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}
