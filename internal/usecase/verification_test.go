package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
)

func TestVerifyEmailForAdminCreatedUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, err := h.auth.CreateUser(ctx, CreateUserInput{Username: "carol", Email: "carol@x.com", Password: "Passw0rd1"})
	require.NoError(t, err)
	assert.False(t, user.EmailVerified)
	code := h.inbox.lastCode(t, "carol@x.com")

	st, err := h.auth.VerificationStatus(ctx, "carol@x.com")
	require.NoError(t, err)
	assert.Equal(t, RegistrationStatus{UserExists: true}, st)

	require.NoError(t, h.auth.VerifyEmail(ctx, "carol@x.com", code))

	// A verified account answers exactly like an unknown one.
	replay := h.auth.VerifyEmail(ctx, "carol@x.com", code)
	unknown := h.auth.VerifyEmail(ctx, "nobody@x.com", code)
	requireKind(t, replay, domain.KindValidation)
	assert.Equal(t, unknown.Error(), replay.Error())

	_, err = h.auth.Login(ctx, "carol", "Passw0rd1", device)
	require.NoError(t, err)
	assert.True(t, h.users.hasEvent(eventEmailVerified))
}

func TestVerifyEmailExpiredAndResend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.auth.CreateUser(ctx, CreateUserInput{Username: "carol", Email: "carol@x.com", Password: "Passw0rd1"})
	require.NoError(t, err)
	code := h.inbox.lastCode(t, "carol@x.com")

	h.clock.Advance(24*time.Hour + time.Second)
	requireKind(t, h.auth.VerifyEmail(ctx, "carol@x.com", code), domain.KindExpired)

	require.NoError(t, h.auth.ResendVerification(ctx, "carol@x.com"))
	fresh := h.inbox.lastCode(t, "carol@x.com")
	require.NoError(t, h.auth.VerifyEmail(ctx, "carol@x.com", fresh))
}

func TestResendVerificationIsSilentForUnknownOrVerified(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerVerified(t, "alice", "alice@x.com", "Passw0rd1")
	sent := h.inbox.count()

	require.NoError(t, h.auth.ResendVerification(ctx, "nobody@x.com"))
	require.NoError(t, h.auth.ResendVerification(ctx, "alice@x.com"))
	assert.Equal(t, sent, h.inbox.count())

	requireKind(t, h.auth.VerifyEmail(ctx, "nobody@x.com", "123456"), domain.KindValidation)
}
