// Package store provides the document persistence layer shared by every
// collection and ledger. A document is a flat set of JSON fields addressed by
// (collection, id) and carries a version used for optimistic concurrency.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// AnyVersion disables the optimistic concurrency check on Put.
const AnyVersion int64 = 0

// Document is a stored record. Fields hold raw JSON values keyed by field name.
type Document struct {
	ID        string
	Version   int64
	Fields    map[string]json.RawMessage
	UpdatedAt time.Time
}

// NewDocument returns an empty document with the given id.
func NewDocument(id string) Document {
	return Document{ID: id, Fields: make(map[string]json.RawMessage)}
}

// Field decodes a single field into dest. It reports false when the field is absent.
func (d Document) Field(name string, dest any) (bool, error) {
	raw, ok := d.Fields[name]
	if !ok || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return true, fmt.Errorf("store: decode field %s: %w", name, err)
	}
	return true, nil
}

// SetField encodes value into the named field.
func (d *Document) SetField(name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode field %s: %w", name, err)
	}
	if d.Fields == nil {
		d.Fields = make(map[string]json.RawMessage)
	}
	d.Fields[name] = raw
	return nil
}

// Decode unmarshals every field into dest as if the document were one JSON object.
func (d Document) Decode(dest any) error {
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("store: decode document %s: %w", d.ID, err)
	}
	return json.Unmarshal(raw, dest)
}

// Encode merges the top-level JSON fields of value into the document. Fields
// the value does not carry are left untouched.
func (d *Document) Encode(value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode document %s: %w", d.ID, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("store: encode document %s: %w", d.ID, err)
	}
	if d.Fields == nil {
		d.Fields = make(map[string]json.RawMessage, len(fields))
	}
	for k, v := range fields {
		d.Fields[k] = v
	}
	return nil
}

// Clone returns a deep copy so callers never share field buffers.
func (d Document) Clone() Document {
	out := Document{ID: d.ID, Version: d.Version, UpdatedAt: d.UpdatedAt, Fields: make(map[string]json.RawMessage, len(d.Fields))}
	for k, v := range d.Fields {
		out.Fields[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Query filters and orders documents of one collection.
type Query struct {
	// Match keeps documents whose fields equal the given values. Backends may
	// push it down to the database.
	Match map[string]any
	// Where is evaluated in process after Match.
	Where   func(Document) bool
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Store is the record-store contract consumed by collections and ledgers.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// Put writes the whole document. With expectedVersion > 0 the write fails
	// with shared.ErrVersionConflict when the stored version differs.
	Put(ctx context.Context, collection string, doc Document, expectedVersion int64) (int64, error)
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Delete(ctx context.Context, collection, id string) error
	// AppendToArrayField atomically appends value to an array field, creating
	// the document and field when missing.
	AppendToArrayField(ctx context.Context, collection, id, field string, value any) error
}

// finish applies Match, Where, ordering and paging in process.
func finish(docs []Document, q Query) ([]Document, error) {
	matchRaw := make(map[string]json.RawMessage, len(q.Match))
	for k, v := range q.Match {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("store: encode match %s: %w", k, err)
		}
		matchRaw[k] = raw
	}
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if !matches(doc, matchRaw) {
			continue
		}
		if q.Where != nil && !q.Where(doc) {
			continue
		}
		out = append(out, doc)
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compareRaw(out[i].Fields[q.OrderBy], out[j].Fields[q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []Document{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matches(doc Document, want map[string]json.RawMessage) bool {
	for k, v := range want {
		got, ok := doc.Fields[k]
		if !ok {
			return false
		}
		if compareRaw(got, v) != 0 {
			return false
		}
	}
	return true
}

// compareRaw orders JSON scalars: null < bool < number < string. Composite
// values compare by their encoded bytes.
func compareRaw(a, b json.RawMessage) int {
	va, vb := decodeScalar(a), decodeScalar(b)
	ra, rb := rank(va), rank(vb)
	if ra != rb {
		return ra - rb
	}
	switch x := va.(type) {
	case nil:
		return 0
	case bool:
		y := vb.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case float64:
		y := vb.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case string:
		y := vb.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	default:
		return bytes.Compare(a, b)
	}
}

func decodeScalar(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}
