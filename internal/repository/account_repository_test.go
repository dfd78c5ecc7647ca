package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hstar0124/cpp-boost-chat/shared/models"
)

func newWriteRepo(t *testing.T) (*AccountWriteRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	logger, _ := logtest.NewNullLogger()
	return NewAccountWriteRepository(db, logger), mock
}

func TestAccountWriteRepository_Create(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		setup    func(mock sqlmock.Sqlmock)
		expected models.StatusCode
	}{
		{
			name: "inserts new account",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT EXISTS").WithArgs("alice").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
				mock.ExpectQuery("INSERT INTO accounts").
					WithArgs("alice", "hash", "Alice", "alice@example.com").
					WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), now, now))
			},
			expected: models.Success,
		},
		{
			name: "existing row, even a dead one, blocks the user id",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT EXISTS").WithArgs("alice").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
			expected: models.UserIdAlreadyExists,
		},
		{
			name: "unique constraint from a concurrent create",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT EXISTS").WithArgs("alice").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
				mock.ExpectQuery("INSERT INTO accounts").
					WillReturnError(&pq.Error{Code: "23505"})
			},
			expected: models.UserIdAlreadyExists,
		},
		{
			name: "uniqueness check fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT EXISTS").WillReturnError(errors.New("connection reset"))
			},
			expected: models.ServerError,
		},
		{
			name: "insert fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT EXISTS").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
				mock.ExpectQuery("INSERT INTO accounts").WillReturnError(errors.New("disk full"))
			},
			expected: models.ServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newWriteRepo(t)
			tt.setup(mock)

			account := &models.Account{UserID: "alice", PasswordHash: "hash", DisplayName: "Alice", Email: "alice@example.com"}
			status := repo.Create(context.Background(), account)

			assert.Equal(t, tt.expected, status)
			if tt.expected == models.Success {
				assert.Equal(t, int64(7), account.ID)
				assert.True(t, account.Alive)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAccountWriteRepository_Update(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(mock sqlmock.Sqlmock)
		expected models.StatusCode
	}{
		{
			name: "updates live row",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE accounts").
					WithArgs(int64(7), "hash", "Alice", "new@example.com", true).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expected: models.Success,
		},
		{
			name: "row no longer live",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE accounts").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			expected: models.Failure,
		},
		{
			name: "database error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE accounts").WillReturnError(sql.ErrConnDone)
			},
			expected: models.ServerError,
		},
		{
			name: "rows affected unavailable",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE accounts").
					WillReturnResult(sqlmock.NewErrorResult(errors.New("driver")))
			},
			expected: models.ServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newWriteRepo(t)
			tt.setup(mock)

			account := &models.Account{ID: 7, UserID: "alice", PasswordHash: "hash", DisplayName: "Alice", Email: "new@example.com", Alive: true}
			assert.Equal(t, tt.expected, repo.Update(context.Background(), account))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
