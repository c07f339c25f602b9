package repo

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTag_ExportDir(t *testing.T) {
	tag := NewTag("foo")
	if got := tag.ExportDir("/srv/export"); got != "/srv/export/foo" {
		t.Errorf("expected /srv/export/foo, got %s", got)
	}
}

func TestTagStore_Create_ConflictOnDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO repo_tag").
		WithArgs("foo", nil, nil).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	store := NewTagStore(db)
	err = store.Create(context.Background(), NewTag("foo"))
	require.Error(t, err)

	var repoErr *Error
	require.ErrorAs(t, err, &repoErr)
	assert.Equal(t, KindConflict, repoErr.Kind)
}

func TestTagStore_Create_Succeeds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO repo_tag").
		WithArgs("foo", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewTagStore(db)
	err = store.Create(context.Background(), NewTag("foo"))
	require.NoError(t, err)
}

func TestTagStore_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM repo_tag WHERE name = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"name", "comps_xml", "signing_key"}))

	store := NewTagStore(db)
	_, err = store.Get(context.Background(), "missing")
	require.Error(t, err)

	var repoErr *Error
	require.ErrorAs(t, err, &repoErr)
	assert.Equal(t, KindNotFound, repoErr.Kind)
}

func TestTagStore_GetAvailableRpms(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows(packageColumns()).AddRow(
		"01ARZ3NDEKTSV4RRFFQ69G5FAV", 0, "foo", "1.0", "1", "x86_64",
		"rpm/0/1/01ARZ3NDEKTSV4RRFFQ69G5FAV/foo-0:1.0-1.x86_64.rpm", nil,
		[]byte("[]"), []byte("[]"), "foo-tag", time.Now().UTC(), true,
	)
	mock.ExpectQuery("SELECT (.+) FROM rpm_package WHERE tag = \\$1 AND available = true").
		WithArgs("foo-tag").
		WillReturnRows(rows)

	store := NewTagStore(db)
	pkgs, err := store.GetAvailableRpms(context.Background(), "foo-tag")
	require.NoError(t, err)
	assert.Len(t, pkgs, 1)
	assert.True(t, pkgs[0].Available)
}
