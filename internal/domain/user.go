package domain

import (
	"context"
	"time"
)

// Role is the coarse RBAC role attached to every account.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleFarmer     Role = "farmer"
	RoleAgronomist Role = "agronomist"
	RoleGeneral    Role = "general"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleFarmer, RoleAgronomist, RoleGeneral:
		return true
	}
	return false
}

// Status gates login independently of email verification.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// User represents the central identity entity of the system.
type User struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"` // Never expose the password hash in JSON
	Role                Role       `json:"role"`
	Status              Status     `json:"status"`
	EmailVerified       bool       `json:"emailVerified"`
	VerificationCode    string     `json:"-"`
	VerificationExpires *time.Time `json:"-"`
	ResetCode           string     `json:"-"`
	ResetExpires        *time.Time `json:"-"`
	TwoFactorEnabled    bool       `json:"twoFactorEnabled"`
	TwoFactorSecret     string     `json:"-"` // TOTP secret key
	Phone               string     `json:"phone,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// PendingRegistration is an unconfirmed sign-up. It is not a user until promoted.
type PendingRegistration struct {
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	Code         string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Expired reports whether the pending record is past its window at now.
func (p *PendingRegistration) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Device describes where a session was opened from.
type Device struct {
	UserAgent string `json:"userAgent"`
	IP        string `json:"ip"`
}

// Session is one live refresh token. Only the token hash is stored.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TokenHash string    `json:"-"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserAgent string    `json:"userAgent"`
	IP        string    `json:"ip"`
}

// TwoFactorChallenge is opened after a successful password check for a 2FA account.
// Only the hash of the texted code is kept.
type TwoFactorChallenge struct {
	UserID   string
	CodeHash string
	Attempts int
}

// AuthResponse defines the payload returned after a successful login.
type AuthResponse struct {
	User             *User     `json:"user"`
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// UserRepository defines the contract for user data persistence.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// GetByIdentifier matches either username or email.
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
	Update(ctx context.Context, user *User) error
	Delete(ctx context.Context, id string) error

	// LogSecurityEvent is used for the Audit Logs requirement
	LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error
}

// PendingRepository persists unconfirmed registrations, at most one per email.
type PendingRepository interface {
	Replace(ctx context.Context, p *PendingRegistration) error
	GetByEmail(ctx context.Context, email string) (*PendingRegistration, error)
	FindByEmailAndCode(ctx context.Context, email, code string) (*PendingRegistration, error)
	UpdateCode(ctx context.Context, email, code string, expiresAt time.Time) error
	Delete(ctx context.Context, email string) error
	// Promote inserts user and deletes the pending record for its email atomically.
	Promote(ctx context.Context, user *User) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionRepository tracks live refresh tokens and second-factor challenges.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	// Remove deletes the session if present and reports whether it existed.
	Remove(ctx context.Context, userID, tokenHash string) (bool, error)
	RevokeAll(ctx context.Context, userID string) (int, error)
	ListByUser(ctx context.Context, userID string) ([]Session, error)

	// SaveChallenge returns ErrConflict when ch.CodeHash was consumed recently.
	SaveChallenge(ctx context.Context, ch *TwoFactorChallenge, ttl time.Duration) error
	// AttemptChallenge counts one attempt and returns the open challenge, or ErrNotFound.
	AttemptChallenge(ctx context.Context, userID string) (*TwoFactorChallenge, error)
	// ConsumeChallenge closes the challenge if it expects codeHash and reports whether it did.
	ConsumeChallenge(ctx context.Context, userID, codeHash string, usedTTL time.Duration) (bool, error)
	ClearChallenge(ctx context.Context, userID string) error
}
