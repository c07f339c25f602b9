package repo

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) (*RedisCache, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := NewRedisCache(NewStore(db), NewTagStore(db), client, time.Minute)
	return cache, mock, mr
}

func TestRedisCache_GetPackage_MissThenHit(t *testing.T) {
	cache, mock, _ := newTestRedisCache(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "epoch", "name", "version", "release", "arch", "object_key", "signed_object_key",
		"provides", "requires", "tag", "timestamp", "available",
	}).AddRow("01ARZ3NDEKTSV4RRFFQ69G5FAV", 0, "foo", "1.0", "1", "x86_64", "rpm/0/1/x/foo.rpm", nil,
		nil, nil, "stable", time.Now(), true)

	mock.ExpectQuery("SELECT id, epoch, name, version, release, arch, object_key, signed_object_key").
		WillReturnRows(rows)

	pkg, err := cache.GetPackage(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	require.NoError(t, err)
	require.Equal(t, "foo", pkg.Name)

	// Second read must be served from Redis; no further query is expected.
	pkg2, err := cache.GetPackage(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	require.NoError(t, err)
	require.Equal(t, pkg.Name, pkg2.Name)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_InvalidatePackage_ForcesReload(t *testing.T) {
	cache, mock, _ := newTestRedisCache(t)
	ctx := context.Background()

	row := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"id", "epoch", "name", "version", "release", "arch", "object_key", "signed_object_key",
			"provides", "requires", "tag", "timestamp", "available",
		}).AddRow("01ARZ3NDEKTSV4RRFFQ69G5FAV", 0, "foo", "1.0", "1", "x86_64", "rpm/0/1/x/foo.rpm", nil,
			nil, nil, "stable", time.Now(), true)
	}

	mock.ExpectQuery("SELECT id, epoch, name, version, release, arch, object_key, signed_object_key").
		WillReturnRows(row())
	_, err := cache.GetPackage(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	require.NoError(t, err)

	cache.InvalidatePackage(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV")

	mock.ExpectQuery("SELECT id, epoch, name, version, release, arch, object_key, signed_object_key").
		WillReturnRows(row())
	_, err = cache.GetPackage(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_GetTag_MissThenHit(t *testing.T) {
	cache, mock, _ := newTestRedisCache(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"name", "comps_xml", "signing_key"}).
		AddRow("stable", nil, nil)
	mock.ExpectQuery("SELECT name, comps_xml, signing_key FROM repo_tag").WillReturnRows(rows)

	tag, err := cache.GetTag(ctx, "stable")
	require.NoError(t, err)
	require.Equal(t, "stable", tag.Name)

	tag2, err := cache.GetTag(ctx, "stable")
	require.NoError(t, err)
	require.Equal(t, tag.Name, tag2.Name)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_InvalidateTag_ForcesReload(t *testing.T) {
	cache, mock, _ := newTestRedisCache(t)
	ctx := context.Background()

	row := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"name", "comps_xml", "signing_key"}).AddRow("stable", nil, nil)
	}

	mock.ExpectQuery("SELECT name, comps_xml, signing_key FROM repo_tag").WillReturnRows(row())
	_, err := cache.GetTag(ctx, "stable")
	require.NoError(t, err)

	cache.InvalidateTag(ctx, "stable")

	mock.ExpectQuery("SELECT name, comps_xml, signing_key FROM repo_tag").WillReturnRows(row())
	_, err = cache.GetTag(ctx, "stable")
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_Close(t *testing.T) {
	cache, _, _ := newTestRedisCache(t)
	require.NoError(t, cache.Close())
}
