package store

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/backoffice/internal/shared"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test")
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	doc := NewDocument("e1")
	require.NoError(t, doc.SetField("name", "Kumar"))
	v1, err := s.Put(ctx, "employees", doc, AnyVersion)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	got, err := s.Get(ctx, "employees", "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	_, err = s.Put(ctx, "employees", got, 1)
	require.NoError(t, err)
	_, err = s.Put(ctx, "employees", got, 1)
	require.ErrorIs(t, err, shared.ErrVersionConflict)

	_, err = s.Put(ctx, "employees", NewDocument("ghost"), 3)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRedisStoreQueryAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)
	seedLeads(t, s)

	docs, err := s.Query(ctx, "leads", Query{OrderBy: "score"})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"l1", "l3", "l2"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})

	require.NoError(t, s.Delete(ctx, "leads", "l2"))
	docs, err = s.Query(ctx, "leads", Query{})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	require.ErrorIs(t, s.Delete(ctx, "leads", "l2"), shared.ErrNotFound)
}

func TestRedisStoreAppendCreatesDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	require.NoError(t, s.AppendToArrayField(ctx, "activities", "leads/l1", "entries", map[string]string{"id": "a1"}))
	require.NoError(t, s.AppendToArrayField(ctx, "activities", "leads/l1", "entries", map[string]string{"id": "a2"}))

	doc, err := s.Get(ctx, "activities", "leads/l1")
	require.NoError(t, err)
	var entries []map[string]string
	_, err = doc.Field("entries", &entries)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a2", entries[1]["id"])
	assert.Equal(t, int64(2), doc.Version)
}
