package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-data/covenant/pkg/model"
)

func TestPlaceholderRewrite(t *testing.T) {
	pgTx := &sqlTx{store: &SQLStore{dialect: DialectPostgres}}
	liteTx := &sqlTx{store: &SQLStore{dialect: DialectSQLite}}

	query := `INSERT INTO teams (id, name) VALUES ($1, $2) RETURNING $12`

	assert.Equal(t, query, pgTx.q(query))
	assert.Equal(t, `INSERT INTO teams (id, name) VALUES (?, ?) RETURNING ?`, liteTx.q(query))

	// A bare dollar sign is not a placeholder.
	assert.Equal(t, `SELECT '$' FROM t`, liteTx.q(`SELECT '$' FROM t`))
}

func TestTableNamespacing(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	lite := &SQLStore{dialect: DialectSQLite}

	assert.Equal(t, "core.teams", pg.table("core", "teams"))
	assert.Equal(t, "teams", lite.table("core", "teams"))
}

func TestMapWriteErr(t *testing.T) {
	assert.NoError(t, mapWriteErr(nil))

	pqDup := &pq.Error{Code: "23505", Message: "duplicate key value"}
	assert.ErrorIs(t, mapWriteErr(pqDup), ErrDuplicate)

	liteDup := errors.New("constraint failed: UNIQUE constraint failed: teams.slug")
	assert.ErrorIs(t, mapWriteErr(liteDup), ErrDuplicate)

	other := errors.New("disk I/O error")
	assert.Equal(t, other, mapWriteErr(other))
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db, DialectSQLite), mock
}

func TestSQLStore_Init(t *testing.T) {
	st, mock := newMockStore(t)
	for range st.ddl() {
		mock.ExpectExec(`CREATE (TABLE|UNIQUE INDEX|INDEX)`).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, st.Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CreateAndGetTeam(t *testing.T) {
	st, mock := newMockStore(t)
	team := &model.Team{
		ID: uuid.New(), Name: "Producers", Slug: "producers",
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM teams WHERE slug = \?`).
		WithArgs(team.Slug).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO teams`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, name, slug, metadata, created_at, deleted_at FROM teams WHERE id = \?`).
		WithArgs(team.ID.String()).
		WillReturnRows(sqlmock.
			NewRows([]string{"id", "name", "slug", "metadata", "created_at", "deleted_at"}).
			AddRow(team.ID.String(), team.Name, team.Slug, nil, team.CreatedAt, nil))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateTeam(ctx, team))

	got, err := tx.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, team.ID, got.ID)
	assert.Equal(t, "producers", got.Slug)
	assert.Nil(t, got.DeletedAt)

	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CreateTeam_DuplicateSlug(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM teams WHERE slug = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)

	team := &model.Team{ID: uuid.New(), Name: "Dup", Slug: "producers", CreatedAt: time.Now()}
	assert.ErrorIs(t, tx.CreateTeam(ctx, team), ErrDuplicate)

	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetTeam_NotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, name, slug, metadata, created_at, deleted_at FROM teams`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug", "metadata", "created_at", "deleted_at"}))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.GetTeam(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_LockAsset_Missing(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM assets WHERE id = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, tx.LockAsset(ctx, uuid.New()), ErrNotFound)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}
