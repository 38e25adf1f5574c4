package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
	"github.com/FilipeAphrody/farmhand-auth/pkg/security"
)

// errPlainPassword guards against persisting anything but an argon2id hash.
var errPlainPassword = errors.New("password field is not an argon2id hash")

// PostgresUserRepo implements domain.UserRepository using PostgreSQL.
type PostgresUserRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresUserRepo creates a new repository instance.
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db, now: time.Now}
}

// We join with 'roles' to get the role name directly, avoiding N+1 queries.
const selectUser = `
	SELECT u.id, u.username, u.email, u.password_hash, r.name, u.status, u.email_verified,
		COALESCE(u.verification_code, ''), u.verification_expires,
		COALESCE(u.reset_code, ''), u.reset_expires,
		u.two_factor_enabled, COALESCE(u.two_factor_secret, ''), COALESCE(u.phone, ''),
		u.created_at, u.updated_at
	FROM users u
	JOIN roles r ON u.role_id = r.id
`

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		user                      domain.User
		verifyExpires, resetUntil sql.NullTime
	)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Status,
		&user.EmailVerified,
		&user.VerificationCode,
		&verifyExpires,
		&user.ResetCode,
		&resetUntil,
		&user.TwoFactorEnabled,
		&user.TwoFactorSecret,
		&user.Phone,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if verifyExpires.Valid {
		t := verifyExpires.Time
		user.VerificationExpires = &t
	}
	if resetUntil.Valid {
		t := resetUntil.Time
		user.ResetExpires = &t
	}
	return &user, nil
}

func (r *PostgresUserRepo) getOne(ctx context.Context, op, where string, arg any) (*domain.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, selectUser+where, arg))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapPQError(err))
	}
	return user, nil
}

// GetByID retrieves a user by their UUID.
func (r *PostgresUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, "repository.PostgresUserRepo.GetByID", "WHERE u.id = $1", id)
}

// GetByEmail retrieves a user by their email address. Emails are stored lower-cased.
func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, "repository.PostgresUserRepo.GetByEmail", "WHERE u.email = $1", normalizeEmail(email))
}

func (r *PostgresUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, "repository.PostgresUserRepo.GetByUsername", "WHERE u.username = $1", username)
}

// GetByIdentifier matches the login identifier against username first, then email.
func (r *PostgresUserRepo) GetByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	return r.getOne(ctx, "repository.PostgresUserRepo.GetByIdentifier",
		"WHERE u.username = $1 OR u.email = lower($1) ORDER BY (u.username = $1) DESC LIMIT 1", identifier)
}

// Create inserts a new user into the database.
func (r *PostgresUserRepo) Create(ctx context.Context, user *domain.User) error {
	const op = "repository.PostgresUserRepo.Create"

	if err := insertUser(ctx, r.db, user, r.now()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// insertUser is shared by Create and the pending-registration promotion transaction.
func insertUser(ctx context.Context, q DBTX, user *domain.User, now time.Time) error {
	if !security.IsHashed(user.PasswordHash) {
		return errPlainPassword
	}

	query := `
		INSERT INTO users (username, email, password_hash, role_id, status, email_verified,
			verification_code, verification_expires, reset_code, reset_expires,
			two_factor_enabled, two_factor_secret, phone, created_at, updated_at)
		VALUES ($1, $2, $3, (SELECT id FROM roles WHERE name = $4), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`

	user.Email = normalizeEmail(user.Email)
	user.CreatedAt = now.UTC()
	user.UpdatedAt = user.CreatedAt

	err := q.QueryRowContext(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		string(user.Status),
		user.EmailVerified,
		nullString(user.VerificationCode),
		user.VerificationExpires,
		nullString(user.ResetCode),
		user.ResetExpires,
		user.TwoFactorEnabled,
		nullString(user.TwoFactorSecret),
		nullString(user.Phone),
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID)

	return mapPQError(err)
}

// Update rewrites the whole user record and stamps updated_at.
// The stored hash is written back as is; it is never rehashed here.
func (r *PostgresUserRepo) Update(ctx context.Context, user *domain.User) error {
	const op = "repository.PostgresUserRepo.Update"

	if !security.IsHashed(user.PasswordHash) {
		return fmt.Errorf("%s: %w", op, errPlainPassword)
	}

	query := `
		UPDATE users
		SET username = $1, email = $2, password_hash = $3, role_id = (SELECT id FROM roles WHERE name = $4),
			status = $5, email_verified = $6, verification_code = $7, verification_expires = $8,
			reset_code = $9, reset_expires = $10, two_factor_enabled = $11, two_factor_secret = $12,
			phone = $13, updated_at = $14
		WHERE id = $15
	`

	user.Email = normalizeEmail(user.Email)
	user.UpdatedAt = r.now().UTC()

	result, err := r.db.ExecContext(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		string(user.Status),
		user.EmailVerified,
		nullString(user.VerificationCode),
		user.VerificationExpires,
		nullString(user.ResetCode),
		user.ResetExpires,
		user.TwoFactorEnabled,
		nullString(user.TwoFactorSecret),
		nullString(user.Phone),
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapPQError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}

	return nil
}

func (r *PostgresUserRepo) Delete(ctx context.Context, id string) error {
	const op = "repository.PostgresUserRepo.Delete"

	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

// LogSecurityEvent inserts an immutable record into the audit_logs table.
func (r *PostgresUserRepo) LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil || metadata == nil {
		metaJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (user_id, event_type, ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	// The schema allows user_id to be NULL (e.g. anonymous failed login).
	_, err = r.db.ExecContext(ctx, query, nullString(userID), eventType, nullString(ip), metaJSON, r.now().UTC())
	if err != nil {
		return fmt.Errorf("repository.PostgresUserRepo.LogSecurityEvent: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
