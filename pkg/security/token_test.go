package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer(testSecret, "farmhand", 15*time.Minute, 7*24*time.Hour).WithClock(fixedClock(now))

	access, accessExp, err := issuer.IssueAccess("user-1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute), accessExp)

	refresh, refreshExp, err := issuer.IssueRefresh("user-1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(7*24*time.Hour), refreshExp)

	sub, err := issuer.Verify(access, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	sub, err = issuer.Verify(refresh, RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, "farmhand", 0, 0)

	access, _, err := issuer.IssueAccess("user-1")
	require.NoError(t, err)
	refresh, _, err := issuer.IssueRefresh("user-1")
	require.NoError(t, err)

	_, err = issuer.Verify(access, RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = issuer.Verify(refresh, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Now()
	issuer := NewTokenIssuer(testSecret, "farmhand", time.Minute, time.Hour).WithClock(fixedClock(now))

	token, _, err := issuer.IssueAccess("user-1")
	require.NoError(t, err)

	issuer.WithClock(fixedClock(now.Add(2 * time.Minute)))
	_, err = issuer.Verify(token, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsForeignSignatureAndIssuer(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, "farmhand", 0, 0)

	other := NewTokenIssuer("another-secret-another-secret-xx", "farmhand", 0, 0)
	token, _, err := other.IssueAccess("user-1")
	require.NoError(t, err)
	_, err = issuer.Verify(token, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	stranger := NewTokenIssuer(testSecret, "someone-else", 0, 0)
	token, _, err = stranger.IssueAccess("user-1")
	require.NoError(t, err)
	_, err = issuer.Verify(token, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, "farmhand", 0, 0)

	claims := Claims{
		Kind: AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "farmhand",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = issuer.Verify(unsigned, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Verify("not.a.jwt", AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshTokensAreUnique(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, "farmhand", 0, 0).WithClock(fixedClock(time.Now()))

	a, _, err := issuer.IssueRefresh("user-1")
	require.NoError(t, err)
	b, _, err := issuer.IssueRefresh("user-1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, HashToken(a), HashToken(b))
	assert.Len(t, HashToken(a), 64)
}
