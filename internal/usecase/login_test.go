package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
	"github.com/FilipeAphrody/farmhand-auth/pkg/security"
)

func TestLoginByUsernameOrEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerVerified(t, "alice", "alice@x.com", "Passw0rd1")

	resp, err := h.auth.Login(ctx, "alice", "Passw0rd1", device)
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.User.Username)

	_, err = h.auth.Login(ctx, "ALICE@x.com", "Passw0rd1", device)
	require.NoError(t, err)
	assert.True(t, h.users.hasEvent(eventLoginSuccess))
}

func TestLoginFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.registerVerified(t, "alice", "alice@x.com", "Passw0rd1")

	_, err := h.auth.Login(ctx, "ghost", "Passw0rd1", device)
	requireKind(t, err, domain.KindNotFound)

	_, err = h.auth.Login(ctx, "alice", "Wrong0pass", device)
	requireKind(t, err, domain.KindUnauthorized)
	assert.True(t, h.users.hasEvent(eventLoginFailed))

	_, err = h.auth.Login(ctx, "", "", device)
	requireKind(t, err, domain.KindValidation)

	user, err := h.users.GetByID(ctx, resp.User.ID)
	require.NoError(t, err)
	user.Status = domain.StatusInactive
	require.NoError(t, h.users.Update(ctx, user))
	_, err = h.auth.Login(ctx, "alice", "Passw0rd1", device)
	requireKind(t, err, domain.KindForbidden)
}

func TestLoginUnverifiedIsForbiddenRegardlessOfPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.auth.CreateUser(ctx, CreateUserInput{Username: "carol", Email: "carol@x.com", Password: "Passw0rd1", Role: "agronomist"})
	require.NoError(t, err)

	for _, pw := range []string{"Passw0rd1", "wrong", "Another1Pass"} {
		_, err := h.auth.Login(ctx, "carol", pw, device)
		requireKind(t, err, domain.KindForbidden)
	}
}

func TestLoginIsAdditiveAcrossDevices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.registerVerified(t, "alice", "alice@x.com", "Passw0rd1")

	laptop, err := h.auth.Login(ctx, "alice", "Passw0rd1", domain.Device{UserAgent: "laptop"})
	require.NoError(t, err)
	phone, err := h.auth.Login(ctx, "alice", "Passw0rd1", domain.Device{UserAgent: "phone"})
	require.NoError(t, err)

	sessions, err := h.auth.ListSessions(ctx, first.User.ID)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)

	for _, rt := range []string{first.RefreshToken, laptop.RefreshToken, phone.RefreshToken} {
		_, err := h.auth.Refresh(ctx, rt, device)
		require.NoError(t, err)
	}
}

// enableTwoFactor gives alice a phone and turns second-factor login on.
func enableTwoFactor(t *testing.T, h *harness, userID string) {
	t.Helper()
	ctx := context.Background()
	phone := "+14155552671"
	_, err := h.auth.UpdateProfile(ctx, userID, &phone)
	require.NoError(t, err)
	on := true
	_, err = h.auth.UpdateSecurity(ctx, userID, SecurityInput{CurrentPassword: "Passw0rd1", TwoFactorEnabled: &on})
	require.NoError(t, err)
}

func TestTwoFactorLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.registerVerified(t, "alice", "alice@x.com", "Passw0rd1")
	enableTwoFactor(t, h, resp.User.ID)

	_, err := h.auth.Login(ctx, "alice", "Passw0rd1", device)
	require.ErrorIs(t, err, ErrTwoFactorRequired)

	code := h.inbox.lastCode(t, "+14155552671")

	h.clock.Advance(time.Minute)
	out, err := h.auth.VerifyTwoFactor(ctx, "alice", code, device)
	require.NoError(t, err)
	assert.NotEmpty(t, out.RefreshToken)

	// The challenge is consumed.
	_, err = h.auth.VerifyTwoFactor(ctx, "alice", code, device)
	requireKind(t, err, domain.KindUnauthorized)
}

func TestTwoFactorRequiresChallengeAndCapsAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.registerVerified(t, "alice", "alice@x.com", "Passw0rd1")
	enableTwoFactor(t, h, resp.User.ID)

	user, err := h.users.GetByID(ctx, resp.User.ID)
	require.NoError(t, err)
	valid, err := security.GenerateLoginCode(user.TwoFactorSecret, h.clock.Now())
	require.NoError(t, err)

	_, err = h.auth.VerifyTwoFactor(ctx, "alice", valid, device)
	requireKind(t, err, domain.KindUnauthorized)

	_, err = h.auth.Login(ctx, "alice", "Passw0rd1", device)
	require.ErrorIs(t, err, ErrTwoFactorRequired)

	wrong := "000000"
	if wrong == valid {
		wrong = "111111"
	}
	for i := 0; i < DefaultConfig().MaxTwoFactorAttempts; i++ {
		_, err = h.auth.VerifyTwoFactor(ctx, "alice", wrong, device)
		requireKind(t, err, domain.KindUnauthorized)
	}

	// Attempts exhausted: even the right code is refused.
	_, err = h.auth.VerifyTwoFactor(ctx, "alice", valid, device)
	requireKind(t, err, domain.KindUnauthorized)
	assert.True(t, h.users.hasEvent(eventTwoFactorFailed))
}

func otherCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestTwoFactorUsedCodeCannotBeReplayed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.registerVerified(t, "alice", "alice@x.com", "Passw0rd1")
	enableTwoFactor(t, h, resp.User.ID)
	const phone = "+14155552671"

	_, err := h.auth.Login(ctx, "alice", "Passw0rd1", device)
	require.ErrorIs(t, err, ErrTwoFactorRequired)
	used := h.inbox.lastCode(t, phone)
	_, err = h.auth.VerifyTwoFactor(ctx, "alice", used, device)
	require.NoError(t, err)

	// A new login in the same step texts a different code.
	_, err = h.auth.Login(ctx, "alice", "Passw0rd1", device)
	require.ErrorIs(t, err, ErrTwoFactorRequired)
	fresh := h.inbox.lastCode(t, phone)
	assert.NotEqual(t, used, fresh)

	_, err = h.auth.VerifyTwoFactor(ctx, "alice", used, device)
	requireKind(t, err, domain.KindUnauthorized)
	_, err = h.auth.VerifyTwoFactor(ctx, "alice", fresh, device)
	require.NoError(t, err)

	// A few minutes later the first code is still refused.
	h.clock.Advance(3 * time.Minute)
	_, err = h.auth.Login(ctx, "alice", "Passw0rd1", device)
	require.ErrorIs(t, err, ErrTwoFactorRequired)
	latest := h.inbox.lastCode(t, phone)

	for _, old := range []string{used, fresh} {
		if old == latest {
			continue
		}
		_, err = h.auth.VerifyTwoFactor(ctx, "alice", old, device)
		requireKind(t, err, domain.KindUnauthorized)
	}
	_, err = h.auth.VerifyTwoFactor(ctx, "alice", latest, device)
	require.NoError(t, err)
}

func TestTwoFactorAttemptsSurviveNewLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.registerVerified(t, "alice", "alice@x.com", "Passw0rd1")
	enableTwoFactor(t, h, resp.User.ID)
	const phone = "+14155552671"

	_, err := h.auth.Login(ctx, "alice", "Passw0rd1", device)
	require.ErrorIs(t, err, ErrTwoFactorRequired)
	code := h.inbox.lastCode(t, phone)
	for i := 0; i < 3; i++ {
		_, err = h.auth.VerifyTwoFactor(ctx, "alice", otherCode(code), device)
		requireKind(t, err, domain.KindUnauthorized)
	}

	// Logging in again does not hand out fresh guesses.
	_, err = h.auth.Login(ctx, "alice", "Passw0rd1", device)
	require.ErrorIs(t, err, ErrTwoFactorRequired)
	code = h.inbox.lastCode(t, phone)
	for i := 0; i < 2; i++ {
		_, err = h.auth.VerifyTwoFactor(ctx, "alice", otherCode(code), device)
		requireKind(t, err, domain.KindUnauthorized)
	}
	_, err = h.auth.VerifyTwoFactor(ctx, "alice", code, device)
	requireKind(t, err, domain.KindUnauthorized)

	_, err = h.auth.Login(ctx, "alice", "Passw0rd1", device)
	require.ErrorIs(t, err, ErrTwoFactorRequired)
	_, err = h.auth.VerifyTwoFactor(ctx, "alice", h.inbox.lastCode(t, phone), device)
	requireKind(t, err, domain.KindUnauthorized)

	// The lock lifts once the counter expires.
	h.redis.FastForward(DefaultConfig().TwoFactorTTL + time.Second)
	h.clock.Advance(DefaultConfig().TwoFactorTTL + time.Second)
	_, err = h.auth.Login(ctx, "alice", "Passw0rd1", device)
	require.ErrorIs(t, err, ErrTwoFactorRequired)
	_, err = h.auth.VerifyTwoFactor(ctx, "alice", h.inbox.lastCode(t, phone), device)
	require.NoError(t, err)
}
