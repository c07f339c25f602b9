package keyring

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("subatomic-ng/keyring")

// ErrNotFound is returned when a requested key id has no row.
var ErrNotFound = errors.New("keyring: key not found")

// Store is the database-backed CRUD surface for GpgKey rows.
type Store struct {
	db *sql.DB
}

// NewStore wraps db for GpgKey persistence.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save upserts key, keyed by id.
func (s *Store) Save(ctx context.Context, key *GpgKey) error {
	ctx, span := tracer.Start(ctx, "GpgKey.Save", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.table", "gpg_key"),
		attribute.String("gpg_key.id", key.ID),
	))
	defer span.End()

	const query = `
		INSERT INTO gpg_key (id, user_id, description, secret_key, public_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			description = EXCLUDED.description,
			secret_key = EXCLUDED.secret_key,
			public_key = EXCLUDED.public_key
	`
	_, err := s.db.ExecContext(ctx, query, key.ID, key.UserID, key.Description, key.SecretKey, key.PublicKey, key.CreatedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save gpg key failed")
		return fmt.Errorf("keyring: save key %s: %w", key.ID, err)
	}
	return nil
}

// Get fetches a single key by id.
func (s *Store) Get(ctx context.Context, id string) (*GpgKey, error) {
	ctx, span := tracer.Start(ctx, "GpgKey.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "gpg_key"),
		attribute.String("gpg_key.id", id),
	))
	defer span.End()

	const query = `
		SELECT id, user_id, description, secret_key, public_key, created_at
		FROM gpg_key WHERE id = $1
	`
	row := s.db.QueryRowContext(ctx, query, id)
	key, err := scanGpgKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get gpg key failed")
		return nil, fmt.Errorf("keyring: get key %s: %w", id, err)
	}
	return key, nil
}

// GetAll returns every stored key.
func (s *Store) GetAll(ctx context.Context) ([]*GpgKey, error) {
	ctx, span := tracer.Start(ctx, "GpgKey.GetAll", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "gpg_key"),
	))
	defer span.End()

	const query = `
		SELECT id, user_id, description, secret_key, public_key, created_at
		FROM gpg_key ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list gpg keys failed")
		return nil, fmt.Errorf("keyring: list keys: %w", err)
	}
	defer rows.Close()

	var keys []*GpgKey
	for rows.Next() {
		key, err := scanGpgKey(rows)
		if err != nil {
			return nil, fmt.Errorf("keyring: scan key row: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Delete removes a key by id. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "GpgKey.Delete", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.table", "gpg_key"),
		attribute.String("gpg_key.id", id),
	))
	defer span.End()

	_, err := s.db.ExecContext(ctx, `DELETE FROM gpg_key WHERE id = $1`, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete gpg key failed")
		return fmt.Errorf("keyring: delete key %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGpgKey(row rowScanner) (*GpgKey, error) {
	var key GpgKey
	var description sql.NullString
	if err := row.Scan(&key.ID, &key.UserID, &description, &key.SecretKey, &key.PublicKey, &key.CreatedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		key.Description = &description.String
	}
	return &key, nil
}
