package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/backoffice/internal/platform/db"
	"github.com/meshworks/backoffice/internal/shared"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("BACKOFFICE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("BACKOFFICE_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.New(ctx, dsn, db.Options{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresStoreVersionsAndAppend(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	coll := "test_" + uuid.NewString()[:8]

	doc := NewDocument("c1")
	require.NoError(t, doc.SetField("name", "Anita"))
	v1, err := s.Put(ctx, coll, doc, 0)
	require.NoError(t, err)

	_, err = s.Put(ctx, coll, doc, v1+5)
	require.ErrorIs(t, err, shared.ErrVersionConflict)

	require.NoError(t, s.AppendToArrayField(ctx, coll, "c1", "entries", map[string]any{"id": "a1"}))
	require.NoError(t, s.AppendToArrayField(ctx, coll, "c1", "entries", map[string]any{"id": "a2"}))

	got, err := s.Get(ctx, coll, "c1")
	require.NoError(t, err)
	assert.Greater(t, got.Version, v1)
	var entries []map[string]any
	ok, err := got.Field("entries", &entries)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, entries, 2)

	docs, err := s.Query(ctx, coll, Query{Match: map[string]any{"name": "Anita"}})
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, s.Delete(ctx, coll, "c1"))
	_, err = s.Get(ctx, coll, "c1")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
