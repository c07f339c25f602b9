package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FyraLabs/subatomic-ng/pkg/keyring"
	"github.com/FyraLabs/subatomic-ng/pkg/objstore"
	"github.com/FyraLabs/subatomic-ng/pkg/rpmmeta"
)

var tracer = otel.Tracer("subatomic-ng/repo")

const rpmPrefix = "rpm"

// Package is the canonical record of one stored RPM.
type Package struct {
	ID              string       `json:"id"`
	Epoch           uint32       `json:"epoch"`
	Name            string       `json:"name"`
	Version         string       `json:"version"`
	Release         string       `json:"release"`
	Arch            string       `json:"arch"`
	ObjectKey       string       `json:"object_key"`
	SignedObjectKey *string      `json:"signed_object_key,omitempty"`
	Provides        []Dependency `json:"provides"`
	Requires        []Dependency `json:"requires"`
	Tag             string       `json:"tag"`
	Timestamp       time.Time    `json:"timestamp"`
	Available       bool         `json:"available"`
}

// Ref is the lightweight projection of a Package embedded in a Compose
// snapshot and used for tag-listing responses.
type Ref struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	ObjectKey       string  `json:"object_key"`
	SignedObjectKey *string `json:"signed_object_key,omitempty"`
	Tag             string  `json:"tag"`
}

// Ref projects a Package down to its Compose-snapshot form.
func (p *Package) Ref() Ref {
	return Ref{
		ID:              p.ID,
		Name:            p.Name,
		ObjectKey:       p.ObjectKey,
		SignedObjectKey: p.SignedObjectKey,
		Tag:             p.Tag,
	}
}

// splitShard returns the two-character directory prefix used to avoid
// directory fan-out: the id's first two characters, each as its own path
// segment, followed by the full id.
func splitShard(id string) string {
	return fmt.Sprintf("%s/%s/%s", id[0:1], id[1:2], id)
}

func rpmFileName(name string, epoch uint32, version, release, arch string) string {
	return fmt.Sprintf("%s-%d:%s-%s.%s.rpm", name, epoch, version, release, arch)
}

// objectKeys derives the (object_key, signed_object_key) pair for id and
// the given package coordinates, per the sharded layout in §3.
func objectKeys(id, name string, epoch uint32, version, release, arch string) (string, string) {
	shard := splitShard(id)
	fileName := rpmFileName(name, epoch, version, release, arch)
	objectKey := fmt.Sprintf("%s/%s/%s", rpmPrefix, shard, fileName)
	signedKey := fmt.Sprintf("%s/%s/signed/%s", rpmPrefix, shard, fileName)
	return objectKey, signedKey
}

// New builds a Package from parsed RPM metadata. available starts false;
// callers invoke MarkAvailable or CommitToDB(markAvailable=true) to flip it.
func New(meta *rpmmeta.Metadata, tag string) *Package {
	id := ulid.Make().String()
	objectKey, _ := objectKeys(id, meta.Name, meta.Epoch, meta.Version, meta.Release, meta.Arch)

	provides := make([]Dependency, 0, len(meta.Provides))
	for _, dep := range meta.Provides {
		provides = append(provides, NewDependency(dep.Name, dep.Version, DependencyFlags(dep.Flags)))
	}
	requires := make([]Dependency, 0, len(meta.Requires))
	for _, dep := range meta.Requires {
		requires = append(requires, NewDependency(dep.Name, dep.Version, DependencyFlags(dep.Flags)))
	}

	return &Package{
		ID:        id,
		Epoch:     meta.Epoch,
		Name:      meta.Name,
		Version:   meta.Version,
		Release:   meta.Release,
		Arch:      meta.Arch,
		ObjectKey: objectKey,
		Provides:  provides,
		Requires:  requires,
		Tag:       tag,
		Timestamp: time.Now().UTC(),
		Available: false,
	}
}

// FromPath opens the RPM at path, parses its metadata, and builds a
// Package for tag.
func FromPath(path, tag string) (*Package, error) {
	meta, err := rpmmeta.Parse(path)
	if err != nil {
		return nil, WrapError(KindParse, fmt.Sprintf("parse rpm at %s", path), err)
	}
	return New(meta, tag), nil
}

// Store is the database-backed CRUD and invariant-maintaining surface for
// Package rows.
type Store struct {
	db *sql.DB
}

// NewStore wraps db for Package persistence.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CommitToDB inserts pkg, then marks it available if markAvailable is set.
func (s *Store) CommitToDB(ctx context.Context, pkg *Package, markAvailable bool) error {
	ctx, span := tracer.Start(ctx, "Package.CommitToDB", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "rpm_package"),
		attribute.String("rpm.id", pkg.ID),
		attribute.Bool("rpm.mark_available", markAvailable),
	))
	defer span.End()

	if err := s.insert(ctx, pkg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}

	if markAvailable {
		if err := s.MarkAvailable(ctx, pkg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "mark available failed")
			return err
		}
	}
	return nil
}

func (s *Store) insert(ctx context.Context, pkg *Package) error {
	provides, err := json.Marshal(pkg.Provides)
	if err != nil {
		return WrapError(KindDB, "marshal provides", err)
	}
	requires, err := json.Marshal(pkg.Requires)
	if err != nil {
		return WrapError(KindDB, "marshal requires", err)
	}

	const query = `
		INSERT INTO rpm_package
			(id, epoch, name, version, release, arch, object_key, signed_object_key,
			 provides, requires, tag, timestamp, available)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.ExecContext(ctx, query,
		pkg.ID, pkg.Epoch, pkg.Name, pkg.Version, pkg.Release, pkg.Arch,
		pkg.ObjectKey, pkg.SignedObjectKey, provides, requires, pkg.Tag,
		pkg.Timestamp, pkg.Available,
	)
	if err != nil {
		return WrapError(KindDB, fmt.Sprintf("insert package %s", pkg.ID), err)
	}
	return nil
}

// MarkAvailable establishes invariant A-1 — at most one package per
// (tag, name, arch) has available=true — via a single transaction issuing
// three statements in order: demote every existing match, promote this
// package, commit. It then upserts the full in-memory record with
// available=true.
func (s *Store) MarkAvailable(ctx context.Context, pkg *Package) error {
	ctx, span := tracer.Start(ctx, "Package.MarkAvailable", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "rpm_package"),
		attribute.String("rpm.id", pkg.ID),
		attribute.String("rpm.tag", pkg.Tag),
	))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin transaction failed")
		return WrapError(KindDB, "begin mark-available transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE rpm_package SET available = false WHERE name = $1 AND arch = $2 AND tag = $3`,
		pkg.Name, pkg.Arch, pkg.Tag,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "demote existing packages failed")
		return WrapError(KindDB, "demote existing available packages", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE rpm_package SET available = true WHERE id = $1`,
		pkg.ID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "promote package failed")
		return WrapError(KindDB, "promote package", err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return WrapError(KindDB, "commit mark-available transaction", err)
	}

	pkg.Available = true
	return s.upsert(ctx, pkg)
}

// MarkUnavailable flips available to false with a single update statement.
func (s *Store) MarkUnavailable(ctx context.Context, pkg *Package) error {
	ctx, span := tracer.Start(ctx, "Package.MarkUnavailable", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "rpm_package"),
		attribute.String("rpm.id", pkg.ID),
	))
	defer span.End()

	_, err := s.db.ExecContext(ctx, `UPDATE rpm_package SET available = false WHERE id = $1`, pkg.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark unavailable failed")
		return WrapError(KindDB, fmt.Sprintf("mark unavailable %s", pkg.ID), err)
	}
	pkg.Available = false
	return nil
}

// MarkUnavailablePruned marks pkg unavailable and, when prune is true, also
// removes its backing object from store — the delete_when_prune behavior:
// an unavailable package normally keeps its object around (it may be
// re-promoted later), but an operator can opt into immediate reclamation.
func (s *Store) MarkUnavailablePruned(ctx context.Context, store *objstore.Store, pkg *Package, prune bool) error {
	if err := s.MarkUnavailable(ctx, pkg); err != nil {
		return err
	}
	if !prune {
		return nil
	}
	if err := store.Remove(ctx, pkg.ObjectKey); err != nil {
		return WrapError(KindBackend, fmt.Sprintf("prune object for unavailable package %s", pkg.ID), err)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, pkg *Package) error {
	provides, err := json.Marshal(pkg.Provides)
	if err != nil {
		return WrapError(KindDB, "marshal provides", err)
	}
	requires, err := json.Marshal(pkg.Requires)
	if err != nil {
		return WrapError(KindDB, "marshal requires", err)
	}

	const query = `
		UPDATE rpm_package SET
			epoch = $2, name = $3, version = $4, release = $5, arch = $6,
			object_key = $7, signed_object_key = $8, provides = $9, requires = $10,
			tag = $11, timestamp = $12, available = $13
		WHERE id = $1
	`
	_, err = s.db.ExecContext(ctx, query,
		pkg.ID, pkg.Epoch, pkg.Name, pkg.Version, pkg.Release, pkg.Arch,
		pkg.ObjectKey, pkg.SignedObjectKey, provides, requires, pkg.Tag,
		pkg.Timestamp, pkg.Available,
	)
	if err != nil {
		return WrapError(KindDB, fmt.Sprintf("upsert package %s", pkg.ID), err)
	}
	return nil
}

// Get fetches a single package by id.
func (s *Store) Get(ctx context.Context, id string) (*Package, error) {
	ctx, span := tracer.Start(ctx, "Package.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "rpm_package"),
		attribute.String("rpm.id", id),
	))
	defer span.End()

	const query = `
		SELECT id, epoch, name, version, release, arch, object_key, signed_object_key,
		       provides, requires, tag, timestamp, available
		FROM rpm_package WHERE id = $1
	`
	pkg, err := scanPackage(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, NewError(KindNotFound, fmt.Sprintf("package %s not found", id))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get failed")
		return nil, WrapError(KindDB, fmt.Sprintf("get package %s", id), err)
	}
	return pkg, nil
}

// GetAll returns every stored package.
func (s *Store) GetAll(ctx context.Context) ([]*Package, error) {
	ctx, span := tracer.Start(ctx, "Package.GetAll", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "rpm_package"),
	))
	defer span.End()

	const query = `
		SELECT id, epoch, name, version, release, arch, object_key, signed_object_key,
		       provides, requires, tag, timestamp, available
		FROM rpm_package ORDER BY timestamp
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, WrapError(KindDB, "list packages", err)
	}
	defer rows.Close()

	var pkgs []*Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, WrapError(KindDB, "scan package row", err)
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, rows.Err()
}

// Delete removes the database row, then the backend object. If the backend
// remove fails, the row is already gone; this is an accepted
// orphan-in-storage condition, logged by the caller for operator attention.
func (s *Store) Delete(ctx context.Context, store *objstore.Store, pkg *Package) error {
	ctx, span := tracer.Start(ctx, "Package.Delete", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.table", "rpm_package"),
		attribute.String("rpm.id", pkg.ID),
	))
	defer span.End()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM rpm_package WHERE id = $1`, pkg.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete row failed")
		return WrapError(KindDB, fmt.Sprintf("delete package %s", pkg.ID), err)
	}

	if err := store.Remove(ctx, pkg.ObjectKey); err != nil {
		return WrapError(KindBackend, fmt.Sprintf("orphaned object for deleted package %s", pkg.ID), err)
	}
	return nil
}

// Sign fetches the stored object, signs it with key, and writes the
// signed bytes back under the package's signed_object_key.
func (s *Store) Sign(ctx context.Context, store *objstore.Store, pkg *Package, key *keyring.GpgKey) error {
	ctx, span := tracer.Start(ctx, "Package.Sign", trace.WithAttributes(
		attribute.String("rpm.id", pkg.ID),
		attribute.String("gpg_key.id", key.ID),
	))
	defer span.End()

	localPath, err := store.Get(ctx, pkg.ObjectKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch object failed")
		return WrapError(KindBackend, fmt.Sprintf("fetch object for %s", pkg.ID), err)
	}

	entity, err := key.SecretEntity()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load signer failed")
		return WrapError(KindParse, "load signing key", err)
	}

	signed, err := rpmmeta.Sign(localPath, entity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sign rpm failed")
		return WrapError(KindParse, fmt.Sprintf("sign package %s", pkg.ID), err)
	}

	signedKey := pkg.ObjectKey
	if pkg.SignedObjectKey != nil {
		signedKey = *pkg.SignedObjectKey
	} else {
		_, signedKey = objectKeys(pkg.ID, pkg.Name, pkg.Epoch, pkg.Version, pkg.Release, pkg.Arch)
	}

	if err := store.PutBytes(ctx, signedKey, signed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "put signed bytes failed")
		return WrapError(KindBackend, fmt.Sprintf("store signed package %s", pkg.ID), err)
	}

	pkg.SignedObjectKey = &signedKey
	if err := s.upsert(ctx, pkg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist signed key failed")
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (*Package, error) {
	var pkg Package
	var signedObjectKey sql.NullString
	var provides, requires []byte

	if err := row.Scan(
		&pkg.ID, &pkg.Epoch, &pkg.Name, &pkg.Version, &pkg.Release, &pkg.Arch,
		&pkg.ObjectKey, &signedObjectKey, &provides, &requires, &pkg.Tag,
		&pkg.Timestamp, &pkg.Available,
	); err != nil {
		return nil, err
	}

	if signedObjectKey.Valid {
		pkg.SignedObjectKey = &signedObjectKey.String
	}
	if len(provides) > 0 {
		if err := json.Unmarshal(provides, &pkg.Provides); err != nil {
			return nil, fmt.Errorf("unmarshal provides: %w", err)
		}
	}
	if len(requires) > 0 {
		if err := json.Unmarshal(requires, &pkg.Requires); err != nil {
			return nil, fmt.Errorf("unmarshal requires: %w", err)
		}
	}
	return &pkg, nil
}
