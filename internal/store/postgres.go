package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meshworks/backoffice/internal/platform/db"
	"github.com/meshworks/backoffice/internal/shared"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	body JSONB NOT NULL DEFAULT '{}'::jsonb,
	version BIGINT NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
)`

// Containment matches on body use this index.
const documentsIndex = `CREATE INDEX IF NOT EXISTS documents_body_gin ON documents USING GIN (body jsonb_path_ops)`

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresStore keeps each document as one JSONB row.
type PostgresStore struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool, pool: pool}
}

// Migrate creates the documents table and its index when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, stmt := range []string{documentsSchema, documentsIndex} {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return shared.Persistence("postgres migrate", err)
	}
	return nil
}

// Get loads one document.
func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var (
		body      []byte
		version   int64
		updatedAt time.Time
	)
	err := s.db.QueryRow(ctx, `SELECT body, version, updated_at FROM documents WHERE collection = $1 AND id = $2`, collection, id).
		Scan(&body, &version, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("store: %s/%s: %w", collection, id, shared.ErrNotFound)
		}
		return Document{}, shared.Persistence("postgres get", err)
	}
	return decodeRow(id, body, version, updatedAt)
}

// Put writes the document. A versioned write only succeeds when the row still
// carries expectedVersion.
func (s *PostgresStore) Put(ctx context.Context, collection string, doc Document, expectedVersion int64) (int64, error) {
	if doc.ID == "" {
		return 0, shared.Invalid("id", "is required")
	}
	body, err := json.Marshal(doc.Fields)
	if err != nil {
		return 0, fmt.Errorf("store: encode %s/%s: %w", collection, doc.ID, err)
	}
	var version int64
	if expectedVersion <= 0 {
		err = s.db.QueryRow(ctx, `
			INSERT INTO documents (collection, id, body, version, updated_at)
			VALUES ($1, $2, $3::jsonb, 1, NOW())
			ON CONFLICT (collection, id) DO UPDATE
			SET body = EXCLUDED.body, version = documents.version + 1, updated_at = NOW()
			RETURNING version`, collection, doc.ID, string(body)).Scan(&version)
		if err != nil {
			return 0, shared.Persistence("postgres put", err)
		}
		return version, nil
	}
	err = s.db.QueryRow(ctx, `
		UPDATE documents SET body = $3::jsonb, version = version + 1, updated_at = NOW()
		WHERE collection = $1 AND id = $2 AND version = $4
		RETURNING version`, collection, doc.ID, string(body), expectedVersion).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.Persistence("postgres put", err)
	}
	var current int64
	err = s.db.QueryRow(ctx, `SELECT version FROM documents WHERE collection = $1 AND id = $2`, collection, doc.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("store: %s/%s: %w", collection, doc.ID, shared.ErrNotFound)
	}
	if err != nil {
		return 0, shared.Persistence("postgres put", err)
	}
	return 0, fmt.Errorf("store: %s/%s at version %d: %w", collection, doc.ID, current, shared.ErrVersionConflict)
}

// Query pushes Match down as JSONB containment and finishes in process.
func (s *PostgresStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	sql := `SELECT id, body, version, updated_at FROM documents WHERE collection = $1`
	args := []interface{}{collection}
	if len(q.Match) > 0 {
		match, err := json.Marshal(q.Match)
		if err != nil {
			return nil, fmt.Errorf("store: encode match: %w", err)
		}
		sql += ` AND body @> $2::jsonb`
		args = append(args, string(match))
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.Persistence("postgres query", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id        string
			body      []byte
			version   int64
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &body, &version, &updatedAt); err != nil {
			return nil, shared.Persistence("postgres query", err)
		}
		doc, err := decodeRow(id, body, version, updatedAt)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("postgres query", err)
	}
	return finish(docs, q)
}

// Delete removes a document.
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return shared.Persistence("postgres delete", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: %s/%s: %w", collection, id, shared.ErrNotFound)
	}
	return nil
}

// AppendToArrayField appends in a single upsert statement.
func (s *PostgresStore) AppendToArrayField(ctx context.Context, collection, id, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode append value: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO documents (collection, id, body, version, updated_at)
		VALUES ($1, $2, jsonb_build_object($3::text, jsonb_build_array($4::jsonb)), 1, NOW())
		ON CONFLICT (collection, id) DO UPDATE
		SET body = jsonb_set(
				documents.body,
				ARRAY[$3::text],
				COALESCE(documents.body -> $3::text, '[]'::jsonb) || jsonb_build_array($4::jsonb)
			),
			version = documents.version + 1,
			updated_at = NOW()`, collection, id, field, string(raw))
	if err != nil {
		return shared.Persistence("postgres append", err)
	}
	return nil
}

func decodeRow(id string, body []byte, version int64, updatedAt time.Time) (Document, error) {
	doc := NewDocument(id)
	doc.Version = version
	doc.UpdatedAt = updatedAt
	if len(body) > 0 {
		if err := json.Unmarshal(body, &doc.Fields); err != nil {
			return Document{}, fmt.Errorf("store: decode %s: %w", id, err)
		}
	}
	return doc, nil
}
