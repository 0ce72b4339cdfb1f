package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwhitfield/gatehouse/internal/database"
	"github.com/jwhitfield/gatehouse/internal/models"
)

// LoginAttemptRepository records authentication attempts. Password-stage
// rows are audit data; MFA-stage rows also back the failed-attempt counter
// for the TOTP step.
type LoginAttemptRepository struct {
	db *database.DB
}

func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// RecordAttempt records a login attempt in the database
func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	attempt.ID = uuid.New().String()
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now()
	}

	query := `
		INSERT INTO login_attempts (id, account_id, username, stage, ip_address, user_agent, success, failure_reason, attempted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.ID,
		attempt.AccountID,
		attempt.Username,
		attempt.Stage,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Success,
		attempt.FailureReason,
		attempt.AttemptedAt,
		attempt.ExpiresAt,
	)

	return database.MapPostgresError(err)
}

// CountFailedMFAAttempts returns the number of failed MFA-stage attempts
// for an account since the given time
func (r *LoginAttemptRepository) CountFailedMFAAttempts(ctx context.Context, accountID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE account_id = $1 AND stage = 'mfa' AND success = false AND attempted_at >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, accountID, since).Scan(&count)
	return count, err
}

// DeleteExpired removes attempt rows past their retention window
func (r *LoginAttemptRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM login_attempts WHERE expires_at < NOW()`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
