package main

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresStore(db), mock
}

func TestPostgresStore_Set(t *testing.T) {
	store, mock := newSQLMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(upsertRecordSQL)).
		WithArgs("gift:1", `{"name":"Scarf"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Set(context.Background(), "gift:1", record{Name: "Scarf"}))
}

func TestPostgresStore_SetError(t *testing.T) {
	store, mock := newSQLMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(upsertRecordSQL)).
		WillReturnError(errors.New("connection reset"))

	err := store.Set(context.Background(), "gift:1", record{Name: "Scarf"})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newSQLMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectRecordSQL)).
		WithArgs("gift:1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"name":"Scarf"}`)))

	raw, err := store.Get(context.Background(), "gift:1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Scarf"}`, string(raw))
}

func TestPostgresStore_GetMissing(t *testing.T) {
	store, mock := newSQLMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectRecordSQL)).
		WithArgs("gift:missing").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, err := store.Get(context.Background(), "gift:missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_GetError(t *testing.T) {
	store, mock := newSQLMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectRecordSQL)).
		WithArgs("gift:1").
		WillReturnError(sql.ErrConnDone)

	_, err := store.Get(context.Background(), "gift:1")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Delete(t *testing.T) {
	store, mock := newSQLMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(deleteRecordSQL)).
		WithArgs("gift:1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Delete(context.Background(), "gift:1"))
}

func TestPostgresStore_ListByPrefix(t *testing.T) {
	store, mock := newSQLMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectByPrefixSQL)).
		WithArgs("gift:%").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).
			AddRow([]byte(`{"name":"Scarf"}`)).
			AddRow([]byte(`{"name":"Book"}`)))

	values, err := store.ListByPrefix(context.Background(), "gift:")
	require.NoError(t, err)
	assert.Equal(t, []string{"Scarf", "Book"}, names(t, values))
}

func TestPostgresStore_ListByPrefixEmpty(t *testing.T) {
	store, mock := newSQLMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectByPrefixSQL)).
		WithArgs(`my\_kind:%`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	values, err := store.ListByPrefix(context.Background(), "my_kind:")
	require.NoError(t, err)
	assert.NotNil(t, values)
	assert.Empty(t, values)
}

func TestPostgresStore_ListByPrefixRowError(t *testing.T) {
	store, mock := newSQLMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectByPrefixSQL)).
		WithArgs("place:%").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).
			AddRow([]byte(`{}`)).
			RowError(0, errors.New("broken row")))

	_, err := store.ListByPrefix(context.Background(), "place:")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, "gift:", escapeLike("gift:"))
	assert.Equal(t, `50\%\_off\\`, escapeLike(`50%_off\`))
}

func TestRunMigrations_Success(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		return nil
	}
	defer func() { gooseUpContext = orig }()

	require.NoError(t, runMigrations(context.Background(), db))
}

func TestRunMigrations_Error(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	assert.EqualError(t, runMigrations(context.Background(), db), "boom")
}
