package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/meshworks/backoffice/internal/shared"
)

// ErrSkipWrite may be returned by an Update func to end without writing.
var ErrSkipWrite = errors.New("store: skip write")

// Update reads a document, applies fn and writes the result guarded by the
// version that was read. On a version conflict fn runs again on a fresh copy,
// up to attempts times, so fn must depend only on the document it is given.
func Update(ctx context.Context, s Store, collection, id string, attempts int, fn func(doc *Document) error) (Document, error) {
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		doc, err := s.Get(ctx, collection, id)
		if err != nil {
			return Document{}, err
		}
		if err := fn(&doc); err != nil {
			if errors.Is(err, ErrSkipWrite) {
				return doc, nil
			}
			return Document{}, err
		}
		version, err := s.Put(ctx, collection, doc, doc.Version)
		if errors.Is(err, shared.ErrVersionConflict) && attempt < attempts {
			continue
		}
		if err != nil {
			return Document{}, fmt.Errorf("store: update %s/%s: %w", collection, id, err)
		}
		doc.Version = version
		return doc, nil
	}
}
