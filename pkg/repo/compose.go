package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Compose is one row per successful (or attempted) assembly, recording the
// snapshot of packages captured at assembly start.
type Compose struct {
	ID       string `json:"id"`
	Tag      string `json:"tag"`
	Packages []Ref  `json:"packages"`
}

// NewCompose allocates a fresh ULID-identified Compose snapshot for tag.
func NewCompose(tag string, packages []Ref) *Compose {
	return &Compose{ID: ulid.Make().String(), Tag: tag, Packages: packages}
}

// ComposeStore is the append-only persistence surface for Compose rows.
type ComposeStore struct {
	db *sql.DB
}

// NewComposeStore wraps db for Compose persistence.
func NewComposeStore(db *sql.DB) *ComposeStore {
	return &ComposeStore{db: db}
}

// Save inserts compose. Composes are append-only; there is no update path.
func (s *ComposeStore) Save(ctx context.Context, compose *Compose) error {
	ctx, span := tracer.Start(ctx, "Compose.Save", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "repo_assemble"),
		attribute.String("compose.id", compose.ID),
		attribute.String("compose.tag", compose.Tag),
	))
	defer span.End()

	packages, err := json.Marshal(compose.Packages)
	if err != nil {
		return WrapError(KindDB, "marshal compose packages", err)
	}

	const query = `INSERT INTO repo_assemble (id, tag, packages) VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, compose.ID, compose.Tag, packages); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save compose failed")
		return WrapError(KindDB, fmt.Sprintf("save compose %s", compose.ID), err)
	}
	return nil
}

// GetForTag returns every compose recorded for tag, oldest first.
func (s *ComposeStore) GetForTag(ctx context.Context, tag string) ([]*Compose, error) {
	ctx, span := tracer.Start(ctx, "Compose.GetForTag", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "repo_assemble"),
		attribute.String("compose.tag", tag),
	))
	defer span.End()

	const query = `SELECT id, tag, packages FROM repo_assemble WHERE tag = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, tag)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list composes failed")
		return nil, WrapError(KindDB, fmt.Sprintf("list composes for tag %s", tag), err)
	}
	defer rows.Close()

	var composes []*Compose
	for rows.Next() {
		var compose Compose
		var packages []byte
		if err := rows.Scan(&compose.ID, &compose.Tag, &packages); err != nil {
			return nil, WrapError(KindDB, "scan compose row", err)
		}
		if len(packages) > 0 {
			if err := json.Unmarshal(packages, &compose.Packages); err != nil {
				return nil, WrapError(KindDB, "unmarshal compose packages", err)
			}
		}
		composes = append(composes, &compose)
	}
	return composes, rows.Err()
}
