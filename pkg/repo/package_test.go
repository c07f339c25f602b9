package repo

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FyraLabs/subatomic-ng/pkg/rpmmeta"
)

func TestNew_DerivesShardedObjectKey(t *testing.T) {
	meta := &rpmmeta.Metadata{
		Name:    "anda-srpm-macros",
		Epoch:   0,
		Version: "0.2.6",
		Release: "1.fc41",
		Arch:    "noarch",
	}

	pkg := New(meta, "foo")

	if pkg.Tag != "foo" {
		t.Errorf("expected tag foo, got %s", pkg.Tag)
	}
	if len(pkg.ID) != 26 {
		t.Errorf("expected a 26-character ulid, got %d chars: %s", len(pkg.ID), pkg.ID)
	}

	want := regexp.MustCompile(`^rpm/.{1}/.{1}/` + regexp.QuoteMeta(pkg.ID) + `/anda-srpm-macros-0:0\.2\.6-1\.fc41\.noarch\.rpm$`)
	if !want.MatchString(pkg.ObjectKey) {
		t.Errorf("object key %q does not match expected shape", pkg.ObjectKey)
	}
	if pkg.Available {
		t.Error("expected available=false on a freshly created package")
	}
}

func TestNew_MapsDependencyFlags(t *testing.T) {
	meta := &rpmmeta.Metadata{
		Name: "foo", Version: "1.0", Release: "1", Arch: "x86_64",
		Requires: []rpmmeta.RawDependency{
			{Name: "bar", Version: "2.0", Flags: uint32(DepFlagScriptPre)},
		},
	}
	pkg := New(meta, "tag")

	if len(pkg.Requires) != 1 {
		t.Fatalf("expected 1 requires entry, got %d", len(pkg.Requires))
	}
	req := pkg.Requires[0]
	if req.Name != "bar" || req.Version == nil || *req.Version != "2.0" {
		t.Errorf("unexpected dependency shape: %+v", req)
	}
	if req.Flag == nil || *req.Flag != "scriptpre" {
		t.Errorf("expected scriptpre flag, got %v", req.Flag)
	}
}

func TestNew_MapsRawRPMSenseBits(t *testing.T) {
	meta := &rpmmeta.Metadata{
		Name: "foo", Version: "1.0", Release: "1", Arch: "x86_64",
		Requires: []rpmmeta.RawDependency{
			// RPMSENSE_SCRIPT_PRE as go-rpmutils actually reports it off a
			// parsed header, not the package's own constant.
			{Name: "scripted", Version: "", Flags: 1 << 9},
			// RPMSENSE_EQUAL: an ordinary "Requires: foo = 1.0" dependency
			// carries only a version-comparison bit and must not surface
			// as any script/trigger flag.
			{Name: "versioned", Version: "1.0", Flags: 1 << 3},
		},
	}
	pkg := New(meta, "tag")

	if len(pkg.Requires) != 2 {
		t.Fatalf("expected 2 requires entries, got %d", len(pkg.Requires))
	}

	scripted := pkg.Requires[0]
	if scripted.Flag == nil || *scripted.Flag != "scriptpre" {
		t.Errorf("expected scriptpre flag for raw bit 1<<9, got %v", scripted.Flag)
	}

	versioned := pkg.Requires[1]
	if versioned.Flag != nil {
		t.Errorf("expected no flag for a plain RPMSENSE_EQUAL dependency, got %v", *versioned.Flag)
	}
}

func packageColumns() []string {
	return []string{
		"id", "epoch", "name", "version", "release", "arch", "object_key",
		"signed_object_key", "provides", "requires", "tag", "timestamp", "available",
	}
}

func TestStore_MarkAvailable_RunsThreeStatementTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pkg := New(&rpmmeta.Metadata{Name: "foo", Version: "1.0", Release: "1", Arch: "x86_64"}, "foo-tag")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE rpm_package SET available = false WHERE name = \\$1 AND arch = \\$2 AND tag = \\$3").
		WithArgs(pkg.Name, pkg.Arch, pkg.Tag).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE rpm_package SET available = true WHERE id = \\$1").
		WithArgs(pkg.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE rpm_package SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewStore(db)
	err = store.MarkAvailable(context.Background(), pkg)
	require.NoError(t, err)
	assert.True(t, pkg.Available)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MarkAvailable_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pkg := New(&rpmmeta.Metadata{Name: "foo", Version: "1.0", Release: "1", Arch: "x86_64"}, "foo-tag")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE rpm_package SET available = false").
		WillReturnError(assertErr)
	mock.ExpectRollback()

	store := NewStore(db)
	err = store.MarkAvailable(context.Background(), pkg)
	require.Error(t, err)
	assert.False(t, pkg.Available)
}

var assertErr = errorString("boom")

type errorString string

func (e errorString) Error() string { return string(e) }

func TestStore_MarkUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pkg := &Package{ID: "abc", Available: true}
	mock.ExpectExec("UPDATE rpm_package SET available = false WHERE id = \\$1").
		WithArgs(pkg.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewStore(db)
	err = store.MarkUnavailable(context.Background(), pkg)
	require.NoError(t, err)
	assert.False(t, pkg.Available)
}

func TestStore_MarkUnavailablePruned(t *testing.T) {
	t.Run("prune=false leaves object in place", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		pkg := &Package{ID: "abc", Available: true, ObjectKey: "rpm/a/b/abc/foo.rpm"}
		mock.ExpectExec("UPDATE rpm_package SET available = false WHERE id = \\$1").
			WithArgs(pkg.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		store := NewStore(db)
		err = store.MarkUnavailablePruned(context.Background(), nil, pkg, false)
		require.NoError(t, err)
		assert.False(t, pkg.Available)
	})
}

func TestStore_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		rows := sqlmock.NewRows(packageColumns()).AddRow(
			"01ARZ3NDEKTSV4RRFFQ69G5FAV", 0, "foo", "1.0", "1", "x86_64",
			"rpm/0/1/01ARZ3NDEKTSV4RRFFQ69G5FAV/foo-0:1.0-1.x86_64.rpm", nil,
			[]byte("[]"), []byte("[]"), "foo-tag", time.Now().UTC(), false,
		)
		mock.ExpectQuery("SELECT (.+) FROM rpm_package WHERE id = \\$1").
			WithArgs("01ARZ3NDEKTSV4RRFFQ69G5FAV").
			WillReturnRows(rows)

		store := NewStore(db)
		pkg, err := store.Get(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV")
		require.NoError(t, err)
		assert.Equal(t, "foo", pkg.Name)
	})

	t.Run("not found maps to KindNotFound", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM rpm_package WHERE id = \\$1").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(packageColumns()))

		store := NewStore(db)
		_, err = store.Get(context.Background(), "missing")
		require.Error(t, err)
		var repoErr *Error
		require.ErrorAs(t, err, &repoErr)
		assert.Equal(t, KindNotFound, repoErr.Kind)
	})
}
