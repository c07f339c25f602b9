package keyring

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO gpg_key").
		WithArgs("k1", "tester", nil, "secret-armor", "public-armor", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewStore(db)
	key := &GpgKey{
		ID:        "k1",
		UserID:    "tester",
		SecretKey: "secret-armor",
		PublicKey: "public-armor",
		CreatedAt: time.Now().UTC(),
	}

	err = store.Save(context.Background(), key)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		rows := sqlmock.NewRows([]string{"id", "user_id", "description", "secret_key", "public_key", "created_at"}).
			AddRow("k1", "tester", nil, "sec", "pub", time.Now().UTC())
		mock.ExpectQuery("SELECT (.+) FROM gpg_key WHERE id = \\$1").
			WithArgs("k1").
			WillReturnRows(rows)

		store := NewStore(db)
		key, err := store.Get(context.Background(), "k1")
		require.NoError(t, err)
		assert.Equal(t, "k1", key.ID)
		assert.Nil(t, key.Description)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM gpg_key WHERE id = \\$1").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "description", "secret_key", "public_key", "created_at"}))

		store := NewStore(db)
		_, err = store.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_GetAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "user_id", "description", "secret_key", "public_key", "created_at"}).
		AddRow("k1", "tester", nil, "sec1", "pub1", time.Now().UTC()).
		AddRow("k2", "tester2", nil, "sec2", "pub2", time.Now().UTC())
	mock.ExpectQuery("SELECT (.+) FROM gpg_key ORDER BY created_at").WillReturnRows(rows)

	store := NewStore(db)
	keys, err := store.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestStore_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM gpg_key WHERE id = \\$1").
		WithArgs("k1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewStore(db)
	err = store.Delete(context.Background(), "k1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
