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

func TestRegistrationConfirmCreatesVerifiedUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.auth.StartRegistration(ctx, RegisterInput{
		Username: "alice", Email: "Alice@X.com", Password: "Passw0rd1", Role: "farmer",
	}))
	assert.True(t, h.pending.has("alice@x.com"))
	assert.Zero(t, h.users.count())

	resp, err := h.auth.ConfirmRegistration(ctx, "alice@x.com", h.inbox.lastCode(t, "alice@x.com"), device)
	require.NoError(t, err)

	assert.False(t, h.pending.has("alice@x.com"))
	assert.True(t, resp.User.EmailVerified)
	assert.Equal(t, domain.StatusActive, resp.User.Status)
	assert.Equal(t, domain.RoleFarmer, resp.User.Role)

	sub, err := h.tokens.Verify(resp.AccessToken, security.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, sub)

	sessions, err := h.sessions.ListByUser(ctx, resp.User.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, security.HashToken(resp.RefreshToken), sessions[0].TokenHash)
	assert.Equal(t, device.UserAgent, sessions[0].UserAgent)
	assert.True(t, h.users.hasEvent(eventRegistered))
}

func TestStartRegistrationDefaultsRole(t *testing.T) {
	h := newHarness(t)
	resp := h.registerVerified(t, "bob", "bob@x.com", "Valid123Pass")
	assert.Equal(t, domain.RoleGeneral, resp.User.Role)
}

func TestStartRegistrationValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"weak password", RegisterInput{Username: "alice", Email: "alice@x.com", Password: "alllowercase1"}},
		{"bad email", RegisterInput{Username: "alice", Email: "alice", Password: "Passw0rd1"}},
		{"bad username", RegisterInput{Username: "a!", Email: "alice@x.com", Password: "Passw0rd1"}},
		{"admin role", RegisterInput{Username: "alice", Email: "alice@x.com", Password: "Passw0rd1", Role: "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireKind(t, h.auth.StartRegistration(ctx, tt.in), domain.KindValidation)
		})
	}
	assert.Zero(t, h.inbox.count())
}

func TestStartRegistrationConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerVerified(t, "alice", "alice@x.com", "Passw0rd1")

	err := h.auth.StartRegistration(ctx, RegisterInput{Username: "alice2", Email: "alice@x.com", Password: "Passw0rd1"})
	requireKind(t, err, domain.KindConflict)

	err = h.auth.StartRegistration(ctx, RegisterInput{Username: "alice", Email: "other@x.com", Password: "Passw0rd1"})
	requireKind(t, err, domain.KindConflict)
	assert.Equal(t, "user already exists", err.(*domain.Error).Message)
}

func TestStartRegistrationReplacesPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.auth.StartRegistration(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "Passw0rd1"}))
	first := h.inbox.lastCode(t, "alice@x.com")
	require.NoError(t, h.auth.StartRegistration(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "Passw0rd2"}))
	second := h.inbox.lastCode(t, "alice@x.com")

	if first != second {
		_, err := h.auth.ConfirmRegistration(ctx, "alice@x.com", first, device)
		requireKind(t, err, domain.KindValidation)
	}

	resp, err := h.auth.ConfirmRegistration(ctx, "alice@x.com", second, device)
	require.NoError(t, err)

	// The password of the latest attempt wins.
	_, err = h.auth.Login(ctx, "alice", "Passw0rd2", device)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.User.ID)
}

func TestConfirmRegistrationExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.auth.StartRegistration(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "Passw0rd1"}))
	code := h.inbox.lastCode(t, "alice@x.com")

	h.clock.Advance(15*time.Minute + time.Second)

	_, err := h.auth.ConfirmRegistration(ctx, "alice@x.com", code, device)
	requireKind(t, err, domain.KindExpired)
	assert.False(t, h.pending.has("alice@x.com"))
	assert.Zero(t, h.users.count())
}

func TestConfirmRegistrationWrongCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.auth.StartRegistration(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "Passw0rd1"}))
	code := h.inbox.lastCode(t, "alice@x.com")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	_, err := h.auth.ConfirmRegistration(ctx, "alice@x.com", wrong, device)
	requireKind(t, err, domain.KindValidation)
	assert.True(t, h.pending.has("alice@x.com"))

	_, err = h.auth.ConfirmRegistration(ctx, "nobody@x.com", code, device)
	requireKind(t, err, domain.KindValidation)
}

func TestResendPendingCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.auth.ResendPendingCode(ctx, "nobody@x.com"))
	assert.Zero(t, h.inbox.count())

	require.NoError(t, h.auth.StartRegistration(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "Passw0rd1"}))
	h.clock.Advance(14 * time.Minute)
	require.NoError(t, h.auth.ResendPendingCode(ctx, "alice@x.com"))
	assert.Equal(t, 2, h.inbox.count())

	// The resent code carries a fresh window.
	h.clock.Advance(10 * time.Minute)
	_, err := h.auth.ConfirmRegistration(ctx, "alice@x.com", h.inbox.lastCode(t, "alice@x.com"), device)
	require.NoError(t, err)
}

func TestVerificationStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.auth.VerificationStatus(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, RegistrationStatus{}, st)

	require.NoError(t, h.auth.StartRegistration(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "Passw0rd1"}))
	st, err = h.auth.VerificationStatus(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, RegistrationStatus{Pending: true}, st)

	_, err = h.auth.ConfirmRegistration(ctx, "alice@x.com", h.inbox.lastCode(t, "alice@x.com"), device)
	require.NoError(t, err)
	st, err = h.auth.VerificationStatus(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, RegistrationStatus{UserExists: true, EmailVerified: true}, st)
}
