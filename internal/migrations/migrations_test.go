package migrations

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(Migrations, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	body, err := fs.ReadFile(Migrations, files[0])
	require.NoError(t, err)
	sqlText := string(body)
	assert.True(t, strings.Contains(sqlText, "-- +goose Up"))
	assert.True(t, strings.Contains(sqlText, "user_id       TEXT        NOT NULL UNIQUE"))
	assert.True(t, strings.Contains(sqlText, "alive         BOOLEAN     NOT NULL DEFAULT TRUE"))
	// UNIQUE already indexes user_id
	assert.False(t, strings.Contains(sqlText, "CREATE INDEX"))
}

func TestUp(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUp
	t.Cleanup(func() { gooseUp = orig })

	var gotDir string
	gooseUp = func(ctx context.Context, d *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	require.NoError(t, Up(context.Background(), db))
	assert.Equal(t, ".", gotDir)

	gooseUp = func(ctx context.Context, d *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("locked")
	}
	err = Up(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
}
