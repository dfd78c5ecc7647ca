package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/hstar0124/cpp-boost-chat/shared/models"
)

const uniqueViolation = "23505"

// AccountWriteRepository handles all state-mutating operations for accounts.
// It operates exclusively against the PostgreSQL write store (source of truth).
type AccountWriteRepository struct {
	db  *sql.DB
	log logrus.FieldLogger
}

func NewAccountWriteRepository(db *sql.DB, log logrus.FieldLogger) *AccountWriteRepository {
	return &AccountWriteRepository{db: db, log: log}
}

// Create inserts account and fills in its id and timestamps. The user id must
// not exist on any row, dead or alive. A concurrent insert of the same user id
// is rejected by the UNIQUE constraint and reported the same way.
func (r *AccountWriteRepository) Create(ctx context.Context, account *models.Account) models.StatusCode {
	log := r.log.WithField("userId", account.UserID)

	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE user_id = $1)`, account.UserID,
	).Scan(&exists)
	if err != nil {
		log.WithError(err).Error("failed to check user id uniqueness")
		return models.ServerError
	}
	if exists {
		log.Info("user id already taken")
		return models.UserIdAlreadyExists
	}

	query := `
		INSERT INTO accounts (user_id, password_hash, display_name, email, alive)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		account.UserID, account.PasswordHash, account.DisplayName, account.Email,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			log.Info("user id taken by a concurrent create")
			return models.UserIdAlreadyExists
		}
		log.WithError(err).Error("failed to insert account")
		return models.ServerError
	}

	account.Alive = true
	return models.Success
}

// Update replaces the mutable fields of the live row with account.ID.
// Failure means the row is gone or was soft-deleted in the meantime.
func (r *AccountWriteRepository) Update(ctx context.Context, account *models.Account) models.StatusCode {
	log := r.log.WithField("userId", account.UserID)

	query := `
		UPDATE accounts
		SET password_hash = $2, display_name = $3, email = $4, alive = $5, updated_at = NOW()
		WHERE id = $1 AND alive
	`
	result, err := r.db.ExecContext(ctx, query,
		account.ID, account.PasswordHash, account.DisplayName, account.Email, account.Alive,
	)
	if err != nil {
		log.WithError(err).Error("failed to update account")
		return models.ServerError
	}
	rows, err := result.RowsAffected()
	if err != nil {
		log.WithError(err).Error("failed to check rows affected")
		return models.ServerError
	}
	if rows == 0 {
		log.Warn("account vanished before update")
		return models.Failure
	}
	return models.Success
}
