package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("bad", nil)))
	assert.Equal(t, KindExpired, KindOf(fmt.Errorf("wrapped: %w", Expired("code expired"))))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal error", err.Message)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPendingExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &PendingRegistration{ExpiresAt: now}

	assert.True(t, p.Expired(now))
	assert.False(t, p.Expired(now.Add(-1)))
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleFarmer, RoleAgronomist, RoleGeneral} {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, Role("root").Valid())
}
