package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
	"github.com/FilipeAphrody/farmhand-auth/pkg/security"
)

// PostgresPendingRepo implements domain.PendingRepository.
// The unique index on email enforces a single live pending registration per address.
type PostgresPendingRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresPendingRepo(db *sql.DB) *PostgresPendingRepo {
	return &PostgresPendingRepo{db: db, now: time.Now}
}

const selectPending = `
	SELECT email, username, password_hash, role, code, expires_at, created_at
	FROM pending_registrations
`

func scanPending(row *sql.Row) (*domain.PendingRegistration, error) {
	var p domain.PendingRegistration
	if err := row.Scan(&p.Email, &p.Username, &p.PasswordHash, &p.Role, &p.Code, &p.ExpiresAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// Replace upserts the pending record for p.Email, superseding any earlier attempt.
func (r *PostgresPendingRepo) Replace(ctx context.Context, p *domain.PendingRegistration) error {
	const op = "repository.PostgresPendingRepo.Replace"

	if !security.IsHashed(p.PasswordHash) {
		return fmt.Errorf("%s: %w", op, errPlainPassword)
	}

	query := `
		INSERT INTO pending_registrations (email, username, password_hash, role, code, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO UPDATE
		SET username = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			code = EXCLUDED.code,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
	`

	p.Email = normalizeEmail(p.Email)
	p.CreatedAt = r.now().UTC()

	_, err := r.db.ExecContext(ctx, query, p.Email, p.Username, p.PasswordHash, string(p.Role), p.Code, p.ExpiresAt.UTC(), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapPQError(err))
	}
	return nil
}

func (r *PostgresPendingRepo) GetByEmail(ctx context.Context, email string) (*domain.PendingRegistration, error) {
	const op = "repository.PostgresPendingRepo.GetByEmail"

	p, err := scanPending(r.db.QueryRowContext(ctx, selectPending+"WHERE email = $1", normalizeEmail(email)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapPQError(err))
	}
	return p, nil
}

func (r *PostgresPendingRepo) FindByEmailAndCode(ctx context.Context, email, code string) (*domain.PendingRegistration, error) {
	const op = "repository.PostgresPendingRepo.FindByEmailAndCode"

	p, err := scanPending(r.db.QueryRowContext(ctx, selectPending+"WHERE email = $1 AND code = $2", normalizeEmail(email), code))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapPQError(err))
	}
	return p, nil
}

// UpdateCode refreshes the code and window of an existing pending record.
func (r *PostgresPendingRepo) UpdateCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	const op = "repository.PostgresPendingRepo.UpdateCode"

	result, err := r.db.ExecContext(ctx,
		`UPDATE pending_registrations SET code = $1, expires_at = $2 WHERE email = $3`,
		code, expiresAt.UTC(), normalizeEmail(email))
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

// Delete is idempotent.
func (r *PostgresPendingRepo) Delete(ctx context.Context, email string) error {
	const op = "repository.PostgresPendingRepo.Delete"

	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_registrations WHERE email = $1`, normalizeEmail(email)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Promote creates the user and drops the pending record in one transaction.
func (r *PostgresPendingRepo) Promote(ctx context.Context, user *domain.User) error {
	const op = "repository.PostgresPendingRepo.Promote"

	err := withTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		if err := insertUser(ctx, tx, user, r.now()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM pending_registrations WHERE email = $1`, user.Email)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PurgeExpired removes every pending record whose window closed at or before now.
func (r *PostgresPendingRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "repository.PostgresPendingRepo.PurgeExpired"

	result, err := r.db.ExecContext(ctx, `DELETE FROM pending_registrations WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
