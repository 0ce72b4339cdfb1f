package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jwhitfield/gatehouse/internal/database"
	"github.com/jwhitfield/gatehouse/internal/models"
)

// AccountRepository persists accounts in PostgreSQL. Username and email
// uniqueness is enforced by case-insensitive unique indexes at the storage
// layer; unique violations surface as models.ErrConflict.
type AccountRepository struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// rowScanner interface for scanning account rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const accountColumns = `id, username, email, password_hash, mfa_enabled, totp_secret_encrypted, totp_secret_nonce, mfa_enrolled_at, failed_attempts, locked_until, created_at, updated_at, last_login_at`

// scanAccountRow handles nullable fields and populates an Account model
func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var acct models.Account
	var lockedUntil, enrolledAt, lastLoginAt *time.Time

	err := scanner.Scan(
		&acct.ID, &acct.Username, &acct.Email, &acct.PasswordHash,
		&acct.MFAEnabled, &acct.TOTPSecretEncrypted, &acct.TOTPSecretNonce, &enrolledAt,
		&acct.Security.FailedAttempts, &lockedUntil,
		&acct.CreatedAt, &acct.UpdatedAt, &lastLoginAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	acct.MFAEnrolledAt = enrolledAt
	acct.Security.LockedUntil = lockedUntil
	acct.LastLoginAt = lastLoginAt

	return &acct, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, id))
}

// GetByUsername fetches an account by case-insensitive username match
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(username) = LOWER($1)`

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, username))
}

// GetByEmail fetches an account by case-insensitive email match
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1)`

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, email))
}

func (r *AccountRepository) Create(ctx context.Context, acct *models.Account) (*models.Account, error) {
	acct.ID = uuid.New().String()

	now := time.Now()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	query := `
		INSERT INTO accounts (id, username, email, password_hash, mfa_enabled, failed_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + accountColumns

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query,
		acct.ID, acct.Username, acct.Email, acct.PasswordHash,
		acct.MFAEnabled, acct.Security.FailedAttempts, acct.CreatedAt, acct.UpdatedAt,
	))
}

// UpdateSecurityState persists the failure counter and lock expiry after a
// login-state transition. The write runs in a transaction that re-reads the
// row under lock: a failure transition computed from a stale read must not
// shrink a counter or lift a lock a concurrent attempt has already
// committed. A clearing write (counter zero, no lock) applies as-is.
func (r *AccountRepository) UpdateSecurityState(ctx context.Context, id string, st models.SecurityState) error {
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var current models.SecurityState
		row := tx.QueryRow(ctx, `SELECT failed_attempts, locked_until FROM accounts WHERE id = $1 FOR UPDATE`, id)
		if err := row.Scan(&current.FailedAttempts, &current.LockedUntil); err != nil {
			return err
		}

		if st.FailedAttempts > 0 {
			if current.FailedAttempts > st.FailedAttempts {
				st.FailedAttempts = current.FailedAttempts
			}
			if current.LockedUntil != nil && (st.LockedUntil == nil || current.LockedUntil.After(*st.LockedUntil)) {
				st.LockedUntil = current.LockedUntil
			}
		}

		_, err := tx.Exec(ctx,
			`UPDATE accounts SET failed_attempts = $1, locked_until = $2, updated_at = $3 WHERE id = $4`,
			st.FailedAttempts, st.LockedUntil, time.Now(), id)
		return err
	})
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// UpdateMFA persists MFA enrollment fields: the encrypted secret, its
// nonce, the enabled flag, and the enrollment timestamp
func (r *AccountRepository) UpdateMFA(ctx context.Context, id string, enabled bool, secretEncrypted, secretNonce []byte, enrolledAt *time.Time) error {
	query := `
		UPDATE accounts SET mfa_enabled = $1, totp_secret_encrypted = $2, totp_secret_nonce = $3, mfa_enrolled_at = $4, updated_at = $5
		WHERE id = $6
	`

	result, err := r.db.Pool.Exec(ctx, query, enabled, secretEncrypted, secretNonce, enrolledAt, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// UpdateLastLogin stamps a successful full authentication
func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE accounts SET last_login_at = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Pool.Exec(ctx, query, at, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
