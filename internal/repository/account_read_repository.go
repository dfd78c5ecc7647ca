package repository

import (
	"context"
	"database/sql"
	"errors"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hstar0124/cpp-boost-chat/shared/models"
	sharedredis "github.com/hstar0124/cpp-boost-chat/shared/redis"
	"github.com/hstar0124/cpp-boost-chat/shared/utils"
)

const accountViewKeyPrefix = "account:view:"

// PasswordVerifier checks a plaintext password against a stored hash.
type PasswordVerifier interface {
	Verify(hash, password string) bool
}

var _ PasswordVerifier = (*utils.PasswordHasher)(nil)

// AccountReadRepository handles all read operations for accounts.
// Lookups that feed authentication go straight to PostgreSQL; only the public
// view is served from Redis, falling back to PostgreSQL on a miss.
type AccountReadRepository struct {
	db       *sql.DB
	cache    *sharedredis.ViewCache[models.AccountView]
	verifier PasswordVerifier
	log      logrus.FieldLogger
}

func NewAccountReadRepository(db *sql.DB, redisClient *goredis.Client, verifier PasswordVerifier, cfg ReadConfig, log logrus.FieldLogger) *AccountReadRepository {
	return &AccountReadRepository{
		db:       db,
		cache:    sharedredis.NewViewCache[models.AccountView](redisClient, cfg.ViewTTL, log),
		verifier: verifier,
		log:      log,
	}
}

// FindByUserID returns the live account for userID, password hash included.
// Soft-deleted rows are reported as UserNotExists.
func (r *AccountReadRepository) FindByUserID(ctx context.Context, userID string) (*models.Account, models.StatusCode) {
	query := `
		SELECT id, user_id, password_hash, display_name, email, alive, created_at, updated_at
		FROM accounts
		WHERE user_id = $1
	`
	var account models.Account
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&account.ID, &account.UserID, &account.PasswordHash, &account.DisplayName,
		&account.Email, &account.Alive, &account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.UserNotExists
	}
	if err != nil {
		r.log.WithError(err).WithField("userId", userID).Error("failed to load account")
		return nil, models.ServerError
	}
	if !account.Alive {
		return nil, models.UserNotExists
	}
	return &account, models.Success
}

// IsAlive reports whether the account with primary id accountID exists and is not soft-deleted.
func (r *AccountReadRepository) IsAlive(ctx context.Context, accountID int64) (bool, models.StatusCode) {
	var alive bool
	err := r.db.QueryRowContext(ctx, `SELECT alive FROM accounts WHERE id = $1`, accountID).Scan(&alive)
	if errors.Is(err, sql.ErrNoRows) {
		return false, models.Success
	}
	if err != nil {
		r.log.WithError(err).WithField("accountId", accountID).Error("failed to check account liveness")
		return false, models.ServerError
	}
	return alive, models.Success
}

// ValidateCredentials loads the live account for userID and checks password
// against its hash. The returned account is for internal orchestration only.
func (r *AccountReadRepository) ValidateCredentials(ctx context.Context, userID, password string) (models.StatusCode, *models.Account) {
	account, status := r.FindByUserID(ctx, userID)
	if status != models.Success {
		return status, nil
	}
	if !r.verifier.Verify(account.PasswordHash, password) {
		r.log.WithField("userId", userID).Info("password mismatch")
		return models.DifferentPassword, nil
	}
	return models.Success, account
}

// GetView returns the public view of a live account, Redis first. A miss is
// answered from PostgreSQL without caching; only the command side writes the
// cache, so a read racing a delete cannot put the view back.
func (r *AccountReadRepository) GetView(ctx context.Context, userID string) (*models.AccountView, models.StatusCode) {
	if view, ok := r.cache.Get(ctx, accountViewKeyPrefix+userID); ok {
		return view, models.Success
	}

	query := `
		SELECT user_id, display_name, email
		FROM accounts
		WHERE user_id = $1 AND alive
	`
	var view models.AccountView
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&view.UserID, &view.DisplayName, &view.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.UserNotExists
	}
	if err != nil {
		r.log.WithError(err).WithField("userId", userID).Error("failed to load account view")
		return nil, models.ServerError
	}
	return &view, models.Success
}

// CacheAccountView stores or refreshes the Redis read model for an account.
// Called by the command service after every mutation.
func (r *AccountReadRepository) CacheAccountView(ctx context.Context, view *models.AccountView) {
	r.cache.Set(ctx, accountViewKeyPrefix+view.UserID, view)
}

// InvalidateAccountView removes the Redis read model entry for a deleted account.
func (r *AccountReadRepository) InvalidateAccountView(ctx context.Context, userID string) {
	r.cache.Delete(ctx, accountViewKeyPrefix+userID)
}
