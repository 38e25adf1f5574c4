package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
	"github.com/FilipeAphrody/farmhand-auth/internal/metrics"
	"github.com/FilipeAphrody/farmhand-auth/internal/notifier"
	"github.com/FilipeAphrody/farmhand-auth/internal/validate"
	"github.com/FilipeAphrody/farmhand-auth/pkg/security"
)

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     string
}

// StartRegistration stores a pending registration and emails its confirmation code.
// A second attempt for the same email replaces the first.
func (u *AuthUsecase) StartRegistration(ctx context.Context, in RegisterInput) error {
	const op = "usecase.StartRegistration"

	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)

	if err := validate.Collect(
		validate.Username(in.Username),
		validate.Email(in.Email),
		validate.Password("password", in.Password),
		validate.SelfServiceRole(in.Role),
	); err != nil {
		return err
	}

	role := domain.Role(in.Role)
	if role == "" {
		role = domain.RoleGeneral
	}

	// Existence is revealed here, unlike the reset and verification flows.
	if err := u.ensureUnique(ctx, op, in.Username, in.Email); err != nil {
		return err
	}

	hash, err := security.HashPassword(in.Password)
	if err != nil {
		return internal(op, err)
	}
	code, err := u.newCode()
	if err != nil {
		return internal(op, err)
	}

	p := &domain.PendingRegistration{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         role,
		Code:         code,
		ExpiresAt:    u.now().Add(u.cfg.PendingTTL),
	}
	if err := u.pending.Replace(ctx, p); err != nil {
		return internal(op, err)
	}

	u.notifier.Notify(notifier.RegistrationCode(p.Email, p.Username, code, u.cfg.PendingTTL))
	u.metrics.Event(metrics.EventRegistrationStarted, metrics.OutcomeSuccess)
	return nil
}

// ConfirmRegistration promotes the pending record matching (email, code) to an active,
// verified user and opens the first session.
func (u *AuthUsecase) ConfirmRegistration(ctx context.Context, email, code string, device domain.Device) (*domain.AuthResponse, error) {
	const op = "usecase.ConfirmRegistration"

	email = normalizeEmail(email)
	if err := validate.Collect(validate.Email(email), validate.Code(code)); err != nil {
		return nil, err
	}

	p, err := u.pending.FindByEmailAndCode(ctx, email, code)
	if errors.Is(err, domain.ErrNotFound) {
		u.metrics.Event(metrics.EventRegistrationConfirmed, metrics.OutcomeFailure)
		return nil, domain.Validation("invalid code", map[string]string{"code": "is invalid"})
	}
	if err != nil {
		return nil, internal(op, err)
	}

	if p.Expired(u.now()) {
		if err := u.pending.Delete(ctx, p.Email); err != nil {
			return nil, internal(op, err)
		}
		u.metrics.Event(metrics.EventRegistrationConfirmed, metrics.OutcomeFailure)
		return nil, domain.Expired("code expired, please register again")
	}

	user := &domain.User{
		Username:      p.Username,
		Email:         p.Email,
		PasswordHash:  p.PasswordHash,
		Role:          p.Role,
		Status:        domain.StatusActive,
		EmailVerified: true,
	}
	if err := u.pending.Promote(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.Conflict("user already exists")
		}
		return nil, internal(op, err)
	}

	resp, err := u.generateSession(ctx, user, device)
	if err != nil {
		return nil, err
	}

	u.audit(ctx, user.ID, eventRegistered, device.IP, nil)
	u.metrics.Event(metrics.EventRegistrationConfirmed, metrics.OutcomeSuccess)
	return resp, nil
}

// ResendPendingCode issues a fresh code for a pending registration.
// Unknown emails succeed silently.
func (u *AuthUsecase) ResendPendingCode(ctx context.Context, email string) error {
	const op = "usecase.ResendPendingCode"

	email = normalizeEmail(email)
	if err := validate.Collect(validate.Email(email)); err != nil {
		return err
	}

	p, err := u.pending.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return internal(op, err)
	}

	code, err := u.newCode()
	if err != nil {
		return internal(op, err)
	}
	if err := u.pending.UpdateCode(ctx, p.Email, code, u.now().Add(u.cfg.PendingTTL)); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return internal(op, err)
	}

	u.notifier.Notify(notifier.RegistrationCode(p.Email, p.Username, code, u.cfg.PendingTTL))
	return nil
}

type RegistrationStatus struct {
	Pending       bool `json:"pending"`
	UserExists    bool `json:"userExists"`
	EmailVerified bool `json:"emailVerified"`
}

// VerificationStatus reports where an email stands in the sign-up flow.
func (u *AuthUsecase) VerificationStatus(ctx context.Context, email string) (RegistrationStatus, error) {
	const op = "usecase.VerificationStatus"

	var st RegistrationStatus
	email = normalizeEmail(email)
	if err := validate.Collect(validate.Email(email)); err != nil {
		return st, err
	}

	p, err := u.pending.GetByEmail(ctx, email)
	switch {
	case err == nil:
		st.Pending = !p.Expired(u.now())
	case !errors.Is(err, domain.ErrNotFound):
		return st, internal(op, err)
	}

	user, err := u.findUserByEmail(ctx, email)
	if err != nil {
		return st, internal(op, err)
	}
	if user != nil {
		st.UserExists = true
		st.EmailVerified = user.EmailVerified
	}
	return st, nil
}
