package repo

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompose_AllocatesUlid(t *testing.T) {
	compose := NewCompose("foo-tag", []Ref{{ID: "pkg1", Name: "foo"}})
	if len(compose.ID) != 26 {
		t.Errorf("expected a 26-character ulid, got %d chars: %s", len(compose.ID), compose.ID)
	}
	if compose.Tag != "foo-tag" {
		t.Errorf("expected tag foo-tag, got %s", compose.Tag)
	}
}

func TestComposeStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	compose := NewCompose("foo-tag", []Ref{{ID: "pkg1", Name: "foo"}})

	mock.ExpectExec("INSERT INTO repo_assemble").
		WithArgs(compose.ID, compose.Tag, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewComposeStore(db)
	err = store.Save(context.Background(), compose)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComposeStore_GetForTag(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "tag", "packages"}).
		AddRow("01ARZ3NDEKTSV4RRFFQ69G5FAV", "foo-tag", []byte(`[{"id":"pkg1","name":"foo"}]`))

	mock.ExpectQuery("SELECT id, tag, packages FROM repo_assemble WHERE tag = \\$1").
		WithArgs("foo-tag").
		WillReturnRows(rows)

	store := NewComposeStore(db)
	composes, err := store.GetForTag(context.Background(), "foo-tag")
	require.NoError(t, err)
	require.Len(t, composes, 1)
	assert.Equal(t, "foo-tag", composes[0].Tag)
	require.Len(t, composes[0].Packages, 1)
	assert.Equal(t, "pkg1", composes[0].Packages[0].ID)
}

func TestComposeStore_GetForTag_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, tag, packages FROM repo_assemble WHERE tag = \\$1").
		WithArgs("unknown-tag").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tag", "packages"}))

	store := NewComposeStore(db)
	composes, err := store.GetForTag(context.Background(), "unknown-tag")
	require.NoError(t, err)
	assert.Empty(t, composes)
}
