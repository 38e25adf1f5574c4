package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
	"github.com/FilipeAphrody/farmhand-auth/internal/lib/sl"
	"github.com/FilipeAphrody/farmhand-auth/internal/metrics"
	"github.com/FilipeAphrody/farmhand-auth/pkg/security"
)

// Refresh rotates a refresh token: the presented session is removed and a new pair is issued.
//
// Removal is atomic, so of several concurrent calls with the same token only one rotates.
// A verifiable token whose session is already gone was rotated or revoked before; it is
// treated as stolen and every session of the subject is revoked.
func (u *AuthUsecase) Refresh(ctx context.Context, refreshToken string, device domain.Device) (*domain.AuthResponse, error) {
	const op = "usecase.Refresh"

	if refreshToken == "" {
		return nil, domain.Unauthorized("missing refresh token")
	}

	userID, err := u.tokens.Verify(refreshToken, security.RefreshToken)
	if err != nil {
		u.metrics.Event(metrics.EventRefresh, metrics.OutcomeFailure)
		return nil, domain.Unauthorized("invalid refresh token")
	}

	removed, err := u.sessions.Remove(ctx, userID, security.HashToken(refreshToken))
	if err != nil {
		return nil, internal(op, err)
	}
	if !removed {
		return nil, u.revokeOnReuse(ctx, op, userID, device)
	}

	user, err := u.users.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Unauthorized("invalid refresh token")
	}
	if err != nil {
		return nil, internal(op, err)
	}
	if user.Status != domain.StatusActive {
		if _, err := u.sessions.RevokeAll(ctx, user.ID); err != nil {
			return nil, internal(op, err)
		}
		return nil, domain.Forbidden("account is inactive")
	}

	resp, err := u.generateSession(ctx, user, device)
	if err != nil {
		return nil, err
	}

	u.metrics.Event(metrics.EventRefresh, metrics.OutcomeSuccess)
	return resp, nil
}

func (u *AuthUsecase) revokeOnReuse(ctx context.Context, op, userID string, device domain.Device) error {
	n, err := u.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return internal(op, err)
	}

	u.log.Warn("refresh token reuse detected, all sessions revoked",
		slog.String("user_id", userID),
		slog.String("ip", device.IP),
		slog.Int("revoked", n),
	)
	u.audit(ctx, userID, eventRefreshReuse, device.IP, map[string]interface{}{"revoked": n})
	u.metrics.ReuseDetected()
	u.metrics.SessionsRevoked(n)
	u.metrics.Event(metrics.EventRefresh, metrics.OutcomeFailure)

	return domain.Unauthorized("refresh token reuse detected, please log in again")
}

// Logout removes the session of refreshToken if it can. It never fails.
func (u *AuthUsecase) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	userID, err := u.tokens.Verify(refreshToken, security.RefreshToken)
	if err != nil {
		return
	}
	if _, err := u.sessions.Remove(ctx, userID, security.HashToken(refreshToken)); err != nil {
		u.log.Warn("logout: failed to remove session", slog.String("user_id", userID), sl.Err(err))
		return
	}
	u.metrics.Event(metrics.EventLogout, metrics.OutcomeSuccess)
}

// LogoutAll revokes every session of userID and returns how many were live.
func (u *AuthUsecase) LogoutAll(ctx context.Context, userID, ip string) (int, error) {
	const op = "usecase.LogoutAll"

	n, err := u.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return 0, internal(op, err)
	}
	u.audit(ctx, userID, eventLogoutAll, ip, map[string]interface{}{"revoked": n})
	u.metrics.SessionsRevoked(n)
	return n, nil
}
