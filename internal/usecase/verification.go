package usecase

import (
	"context"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
	"github.com/FilipeAphrody/farmhand-auth/internal/metrics"
	"github.com/FilipeAphrody/farmhand-auth/internal/notifier"
	"github.com/FilipeAphrody/farmhand-auth/internal/validate"
)

// VerifyEmail confirms the email of an account created outside self-registration.
// Unknown, already verified and mismatched inputs all get the same error.
func (u *AuthUsecase) VerifyEmail(ctx context.Context, email, code string) error {
	const op = "usecase.VerifyEmail"

	email = normalizeEmail(email)
	if err := validate.Collect(validate.Email(email), validate.Code(code)); err != nil {
		return err
	}

	user, err := u.findUserByEmail(ctx, email)
	if err != nil {
		return internal(op, err)
	}
	// Verified accounts have no code left, so they fail like unknown emails.
	if user == nil || user.EmailVerified || !codesEqual(user.VerificationCode, code) {
		u.metrics.Event(metrics.EventEmailVerified, metrics.OutcomeFailure)
		return domain.Validation("invalid code", map[string]string{"code": "is invalid"})
	}
	if expired(user.VerificationExpires, u.now()) {
		u.metrics.Event(metrics.EventEmailVerified, metrics.OutcomeFailure)
		return domain.Expired("code expired, please request a new one")
	}

	user.EmailVerified = true
	user.VerificationCode = ""
	user.VerificationExpires = nil
	if err := u.users.Update(ctx, user); err != nil {
		return internal(op, err)
	}

	u.audit(ctx, user.ID, eventEmailVerified, "", nil)
	u.metrics.Event(metrics.EventEmailVerified, metrics.OutcomeSuccess)
	return nil
}

// ResendVerification sends a new verification code. Unknown and already verified
// accounts succeed without doing anything.
func (u *AuthUsecase) ResendVerification(ctx context.Context, email string) error {
	const op = "usecase.ResendVerification"

	email = normalizeEmail(email)
	if err := validate.Collect(validate.Email(email)); err != nil {
		return err
	}

	user, err := u.findUserByEmail(ctx, email)
	if err != nil {
		return internal(op, err)
	}
	if user == nil || user.EmailVerified {
		return nil
	}

	if err := u.issueVerificationCode(ctx, user); err != nil {
		return internal(op, err)
	}
	return nil
}

func (u *AuthUsecase) issueVerificationCode(ctx context.Context, user *domain.User) error {
	code, err := u.newCode()
	if err != nil {
		return err
	}
	expires := u.now().Add(u.cfg.VerifyTTL)
	user.VerificationCode = code
	user.VerificationExpires = &expires
	if err := u.users.Update(ctx, user); err != nil {
		return err
	}

	u.notifier.Notify(notifier.VerificationCode(user.Email, code, u.cfg.VerifyTTL))
	return nil
}
