package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tag is a named repository bucket owning zero or more packages and an
// optional signing-key reference.
type Tag struct {
	Name       string  `json:"name"`
	CompsXML   *string `json:"comps_xml,omitempty"`
	SigningKey *string `json:"signing_key,omitempty"`
}

// NewTag constructs an empty Tag named name.
func NewTag(name string) *Tag {
	return &Tag{Name: name}
}

// SetGpgKey attaches a signing key by id.
func (t *Tag) SetGpgKey(keyID string) {
	t.SigningKey = &keyID
}

// ExportDir is the configured export-root joined with the tag's name.
func (t *Tag) ExportDir(exportRoot string) string {
	return filepath.Join(exportRoot, t.Name)
}

// TagStore is the database-backed CRUD surface for Tag rows.
type TagStore struct {
	db *sql.DB
}

// NewTagStore wraps db for Tag persistence.
func NewTagStore(db *sql.DB) *TagStore {
	return &TagStore{db: db}
}

// Save upserts tag, keyed by name.
func (s *TagStore) Save(ctx context.Context, tag *Tag) error {
	ctx, span := tracer.Start(ctx, "Tag.Save", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.table", "repo_tag"),
		attribute.String("tag.name", tag.Name),
	))
	defer span.End()

	const query = `
		INSERT INTO repo_tag (name, comps_xml, signing_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			comps_xml = EXCLUDED.comps_xml,
			signing_key = EXCLUDED.signing_key
	`
	_, err := s.db.ExecContext(ctx, query, tag.Name, tag.CompsXML, tag.SigningKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save tag failed")
		return WrapError(KindDB, fmt.Sprintf("save tag %s", tag.Name), err)
	}
	return nil
}

// Create inserts tag, failing with KindConflict if a tag with the same
// name already exists.
func (s *TagStore) Create(ctx context.Context, tag *Tag) error {
	ctx, span := tracer.Start(ctx, "Tag.Create", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "repo_tag"),
		attribute.String("tag.name", tag.Name),
	))
	defer span.End()

	const query = `INSERT INTO repo_tag (name, comps_xml, signing_key) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, query, tag.Name, tag.CompsXML, tag.SigningKey)
	if isUniqueViolation(err) {
		return NewError(KindConflict, fmt.Sprintf("tag %s already exists", tag.Name))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create tag failed")
		return WrapError(KindDB, fmt.Sprintf("create tag %s", tag.Name), err)
	}
	return nil
}

// Get fetches a tag by name.
func (s *TagStore) Get(ctx context.Context, name string) (*Tag, error) {
	ctx, span := tracer.Start(ctx, "Tag.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "repo_tag"),
		attribute.String("tag.name", name),
	))
	defer span.End()

	const query = `SELECT name, comps_xml, signing_key FROM repo_tag WHERE name = $1`
	var tag Tag
	err := s.db.QueryRowContext(ctx, query, name).Scan(&tag.Name, &tag.CompsXML, &tag.SigningKey)
	if err == sql.ErrNoRows {
		return nil, NewError(KindNotFound, fmt.Sprintf("tag %s not found", name))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get tag failed")
		return nil, WrapError(KindDB, fmt.Sprintf("get tag %s", name), err)
	}
	return &tag, nil
}

// GetAll returns every stored tag.
func (s *TagStore) GetAll(ctx context.Context) ([]*Tag, error) {
	ctx, span := tracer.Start(ctx, "Tag.GetAll", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "repo_tag"),
	))
	defer span.End()

	const query = `SELECT name, comps_xml, signing_key FROM repo_tag ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list tags failed")
		return nil, WrapError(KindDB, "list tags", err)
	}
	defer rows.Close()

	var tags []*Tag
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.Name, &tag.CompsXML, &tag.SigningKey); err != nil {
			return nil, WrapError(KindDB, "scan tag row", err)
		}
		tags = append(tags, &tag)
	}
	return tags, rows.Err()
}

// Delete removes a tag by name. Cascade is deliberately not performed —
// orphan packages referencing a deleted tag are permitted.
func (s *TagStore) Delete(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "Tag.Delete", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.table", "repo_tag"),
		attribute.String("tag.name", name),
	))
	defer span.End()

	_, err := s.db.ExecContext(ctx, `DELETE FROM repo_tag WHERE name = $1`, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete tag failed")
		return WrapError(KindDB, fmt.Sprintf("delete tag %s", name), err)
	}
	return nil
}

// GetAvailableRpms returns every package in tag with available=true.
func (s *TagStore) GetAvailableRpms(ctx context.Context, name string) ([]*Package, error) {
	ctx, span := tracer.Start(ctx, "Tag.GetAvailableRpms", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "rpm_package"),
		attribute.String("tag.name", name),
	))
	defer span.End()

	const query = `
		SELECT id, epoch, name, version, release, arch, object_key, signed_object_key,
		       provides, requires, tag, timestamp, available
		FROM rpm_package WHERE tag = $1 AND available = true
	`
	rows, err := s.db.QueryContext(ctx, query, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get available rpms failed")
		return nil, WrapError(KindDB, fmt.Sprintf("get available rpms for tag %s", name), err)
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

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), per the lib/pq error code rather than a message
// substring match, which would break under a localized server or a driver
// that phrases the message differently.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505"
}
