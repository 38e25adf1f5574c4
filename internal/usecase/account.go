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

// Me returns the account behind an access token.
func (u *AuthUsecase) Me(ctx context.Context, userID string) (*domain.User, error) {
	user, err := u.users.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NotFound("user not found")
	}
	if err != nil {
		return nil, internal("usecase.Me", err)
	}
	return user, nil
}

func (u *AuthUsecase) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	sessions, err := u.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, internal("usecase.ListSessions", err)
	}
	return sessions, nil
}

// SecurityInput carries the optional changes of UpdateSecurity. Nil means unchanged.
type SecurityInput struct {
	CurrentPassword  string
	NewPassword      *string
	ConfirmPassword  *string
	TwoFactorEnabled *bool
}

// UpdateSecurity changes the password and/or toggles second-factor login after
// re-authenticating with the current password.
func (u *AuthUsecase) UpdateSecurity(ctx context.Context, userID string, in SecurityInput) (*domain.User, error) {
	const op = "usecase.UpdateSecurity"

	if err := validate.Collect(validate.Required("currentPassword", in.CurrentPassword)); err != nil {
		return nil, err
	}

	user, err := u.Me(ctx, userID)
	if err != nil {
		return nil, err
	}

	match, err := security.ComparePassword(in.CurrentPassword, user.PasswordHash)
	if err != nil {
		return nil, internal(op, err)
	}
	if !match {
		u.metrics.Event(metrics.EventSecurityUpdate, metrics.OutcomeFailure)
		return nil, domain.Unauthorized("current password is incorrect")
	}

	if in.NewPassword == nil && in.TwoFactorEnabled == nil {
		return nil, domain.Validation("no changes requested", nil)
	}

	changes := map[string]interface{}{}

	if in.NewPassword != nil {
		if err := validate.Collect(validate.Password("newPassword", *in.NewPassword)); err != nil {
			return nil, err
		}
		if in.ConfirmPassword == nil || *in.ConfirmPassword != *in.NewPassword {
			return nil, domain.Validation("passwords do not match", map[string]string{"confirmPassword": "does not match newPassword"})
		}
		hash, err := security.HashPassword(*in.NewPassword)
		if err != nil {
			return nil, internal(op, err)
		}
		user.PasswordHash = hash
		changes["password"] = true
	}

	if in.TwoFactorEnabled != nil {
		switch {
		case *in.TwoFactorEnabled && !user.TwoFactorEnabled:
			if err := validate.Collect(validate.Phone(user.Phone)); err != nil {
				return nil, domain.Validation("a valid phone number is required to enable two-factor login",
					map[string]string{"phone": "must be an E.164 phone number such as +14155552671"})
			}
			secret, err := security.GenerateMFASecret()
			if err != nil {
				return nil, internal(op, err)
			}
			user.TwoFactorEnabled = true
			user.TwoFactorSecret = secret
			changes["two_factor"] = "enabled"
		case !*in.TwoFactorEnabled && user.TwoFactorEnabled:
			user.TwoFactorEnabled = false
			user.TwoFactorSecret = ""
			changes["two_factor"] = "disabled"
		}
	}

	if err := u.users.Update(ctx, user); err != nil {
		return nil, internal(op, err)
	}

	u.audit(ctx, user.ID, eventSecurityUpdated, "", changes)
	u.metrics.Event(metrics.EventSecurityUpdate, metrics.OutcomeSuccess)
	return user, nil
}

// UpdateProfile sets or clears the phone number. A nil phone is no change.
func (u *AuthUsecase) UpdateProfile(ctx context.Context, userID string, phone *string) (*domain.User, error) {
	const op = "usecase.UpdateProfile"

	if phone == nil {
		return nil, domain.Validation("no changes requested", nil)
	}

	user, err := u.Me(ctx, userID)
	if err != nil {
		return nil, err
	}

	p := strings.TrimSpace(*phone)
	if p == "" {
		if user.TwoFactorEnabled {
			return nil, domain.Validation("disable two-factor login before removing the phone number",
				map[string]string{"phone": "is required while two-factor login is enabled"})
		}
	} else if err := validate.Collect(validate.Phone(p)); err != nil {
		return nil, err
	}

	user.Phone = p
	if err := u.users.Update(ctx, user); err != nil {
		return nil, internal(op, err)
	}
	return user, nil
}

// DeleteAccount removes the user after password confirmation and revokes every session.
func (u *AuthUsecase) DeleteAccount(ctx context.Context, userID, password string) error {
	const op = "usecase.DeleteAccount"

	if err := validate.Collect(validate.Required("password", password)); err != nil {
		return err
	}

	user, err := u.Me(ctx, userID)
	if err != nil {
		return err
	}

	match, err := security.ComparePassword(password, user.PasswordHash)
	if err != nil {
		return internal(op, err)
	}
	if !match {
		return domain.Unauthorized("password is incorrect")
	}

	if _, err := u.sessions.RevokeAll(ctx, user.ID); err != nil {
		return internal(op, err)
	}
	if err := u.users.Delete(ctx, user.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return internal(op, err)
	}

	u.audit(ctx, "", eventAccountDeleted, "", map[string]interface{}{"user_id": user.ID})
	u.metrics.Event(metrics.EventAccountDeleted, metrics.OutcomeSuccess)
	return nil
}

type CreateUserInput struct {
	Username string
	Email    string
	Password string
	Role     string
	Phone    string
}

// CreateUser is the admin path: the account starts unverified and a verification code is emailed.
func (u *AuthUsecase) CreateUser(ctx context.Context, in CreateUserInput) (*domain.User, error) {
	const op = "usecase.CreateUser"

	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)

	checks := []validate.Check{
		validate.Username(in.Username),
		validate.Email(in.Email),
		validate.Password("password", in.Password),
		validate.AnyRole(in.Role),
	}
	if in.Phone != "" {
		checks = append(checks, validate.Phone(in.Phone))
	}
	if err := validate.Collect(checks...); err != nil {
		return nil, err
	}

	if err := u.ensureUnique(ctx, op, in.Username, in.Email); err != nil {
		return nil, err
	}

	role := domain.Role(in.Role)
	if role == "" {
		role = domain.RoleGeneral
	}

	hash, err := security.HashPassword(in.Password)
	if err != nil {
		return nil, internal(op, err)
	}
	code, err := u.newCode()
	if err != nil {
		return nil, internal(op, err)
	}
	expires := u.now().Add(u.cfg.VerifyTTL)

	user := &domain.User{
		Username:            in.Username,
		Email:               in.Email,
		PasswordHash:        hash,
		Role:                role,
		Status:              domain.StatusActive,
		EmailVerified:       false,
		VerificationCode:    code,
		VerificationExpires: &expires,
		Phone:               in.Phone,
	}
	if err := u.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.Conflict("user already exists")
		}
		return nil, internal(op, err)
	}

	u.notifier.Notify(notifier.VerificationCode(user.Email, code, u.cfg.VerifyTTL))
	u.audit(ctx, user.ID, eventUserCreated, "", map[string]interface{}{"role": string(role)})
	return user, nil
}

// BootstrapAdmin creates a verified admin unless a user with the email already exists.
// It reports whether an account was created.
func (u *AuthUsecase) BootstrapAdmin(ctx context.Context, username, email, password string) (bool, error) {
	const op = "usecase.BootstrapAdmin"

	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if err := validate.Collect(
		validate.Username(username),
		validate.Email(email),
		validate.Password("password", password),
	); err != nil {
		return false, err
	}

	existing, err := u.findUserByEmail(ctx, email)
	if err != nil {
		return false, internal(op, err)
	}
	if existing != nil {
		return false, nil
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return false, internal(op, err)
	}

	admin := &domain.User{
		Username:      username,
		Email:         email,
		PasswordHash:  hash,
		Role:          domain.RoleAdmin,
		Status:        domain.StatusActive,
		EmailVerified: true,
	}
	if err := u.users.Create(ctx, admin); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return false, domain.Conflict("user already exists")
		}
		return false, internal(op, err)
	}

	u.audit(ctx, admin.ID, eventAdminBootstrapped, "", nil)
	return true, nil
}
