package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meshworks/backoffice/internal/shared"
)

const redisWatchAttempts = 5

// RedisStore keeps one JSON blob per document, the server-side counterpart of
// the browser-local storage the front office used to write to.
type RedisStore struct {
	client *redis.Client
	prefix string
	clock  func() time.Time
}

type redisBlob struct {
	Version   int64                      `json:"version"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Fields    map[string]json.RawMessage `json:"fields"`
}

// NewRedisStore wraps a client. prefix namespaces every key.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "backoffice"
	}
	return &RedisStore{client: client, prefix: prefix, clock: func() time.Time { return time.Now().UTC() }}
}

func (s *RedisStore) docKey(collection, id string) string {
	return fmt.Sprintf("%s:doc:%s:%s", s.prefix, collection, id)
}

func (s *RedisStore) indexKey(collection string) string {
	return fmt.Sprintf("%s:index:%s", s.prefix, collection)
}

// Get loads one document.
func (s *RedisStore) Get(ctx context.Context, collection, id string) (Document, error) {
	payload, err := s.client.Get(ctx, s.docKey(collection, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Document{}, fmt.Errorf("store: %s/%s: %w", collection, id, shared.ErrNotFound)
		}
		return Document{}, shared.Persistence("redis get", err)
	}
	return decodeBlob(id, payload)
}

// Put writes the document inside a WATCH/MULTI transaction.
func (s *RedisStore) Put(ctx context.Context, collection string, doc Document, expectedVersion int64) (int64, error) {
	if doc.ID == "" {
		return 0, shared.Invalid("id", "is required")
	}
	key := s.docKey(collection, doc.ID)
	var version int64
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, exists, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if expectedVersion > 0 {
			if !exists {
				return fmt.Errorf("store: %s/%s: %w", collection, doc.ID, shared.ErrNotFound)
			}
			if current.Version != expectedVersion {
				return fmt.Errorf("store: %s/%s at version %d: %w", collection, doc.ID, current.Version, shared.ErrVersionConflict)
			}
		}
		blob := redisBlob{Version: current.Version + 1, UpdatedAt: s.clock(), Fields: doc.Fields}
		payload, err := json.Marshal(blob)
		if err != nil {
			return fmt.Errorf("store: encode %s/%s: %w", collection, doc.ID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, s.indexKey(collection), doc.ID)
			return nil
		})
		version = blob.Version
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, fmt.Errorf("store: %s/%s: %w", collection, doc.ID, shared.ErrVersionConflict)
	}
	if err != nil {
		return 0, shared.Persistence("redis put", err)
	}
	return version, nil
}

// Query loads the collection index and finishes in process.
func (s *RedisStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey(collection)).Result()
	if err != nil {
		return nil, shared.Persistence("redis query", err)
	}
	if len(ids) == 0 {
		return []Document{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(collection, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, shared.Persistence("redis query", err)
	}
	docs := make([]Document, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		doc, err := decodeBlob(ids[i], []byte(str))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return finish(docs, q)
}

// Delete removes a document and its index entry.
func (s *RedisStore) Delete(ctx context.Context, collection, id string) error {
	removed, err := s.client.Del(ctx, s.docKey(collection, id)).Result()
	if err != nil {
		return shared.Persistence("redis delete", err)
	}
	if err := s.client.SRem(ctx, s.indexKey(collection), id).Err(); err != nil {
		return shared.Persistence("redis delete", err)
	}
	if removed == 0 {
		return fmt.Errorf("store: %s/%s: %w", collection, id, shared.ErrNotFound)
	}
	return nil
}

// AppendToArrayField retries the WATCH transaction until it wins the key.
func (s *RedisStore) AppendToArrayField(ctx context.Context, collection, id, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode append value: %w", err)
	}
	key := s.docKey(collection, id)
	for attempt := 0; attempt < redisWatchAttempts; attempt++ {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, _, err := s.load(ctx, tx, key)
			if err != nil {
				return err
			}
			doc := Document{ID: id, Fields: current.Fields}
			var items []json.RawMessage
			if _, err := doc.Field(field, &items); err != nil {
				return err
			}
			items = append(items, raw)
			if err := doc.SetField(field, items); err != nil {
				return err
			}
			blob := redisBlob{Version: current.Version + 1, UpdatedAt: s.clock(), Fields: doc.Fields}
			payload, err := json.Marshal(blob)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				pipe.SAdd(ctx, s.indexKey(collection), id)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return shared.Persistence("redis append", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, tx *redis.Tx, key string) (redisBlob, bool, error) {
	payload, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return redisBlob{Fields: make(map[string]json.RawMessage)}, false, nil
	}
	if err != nil {
		return redisBlob{}, false, err
	}
	var blob redisBlob
	if err := json.Unmarshal(payload, &blob); err != nil {
		return redisBlob{}, false, err
	}
	if blob.Fields == nil {
		blob.Fields = make(map[string]json.RawMessage)
	}
	return blob, true, nil
}

func decodeBlob(id string, payload []byte) (Document, error) {
	var blob redisBlob
	if err := json.Unmarshal(payload, &blob); err != nil {
		return Document{}, fmt.Errorf("store: decode %s: %w", id, err)
	}
	doc := NewDocument(id)
	doc.Version = blob.Version
	doc.UpdatedAt = blob.UpdatedAt
	for k, v := range blob.Fields {
		doc.Fields[k] = v
	}
	return doc, nil
}
