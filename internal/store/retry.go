package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/meshworks/backoffice/internal/shared"
)

// RetryPolicy bounds retries of transient store failures.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Retrying retries transient persistence failures with exponential backoff.
// Version conflicts, not-found and validation errors are returned at once.
// Appends are only retried when the value carries an "id" that can be
// checked for a previous successful write.
type Retrying struct {
	next   Store
	policy RetryPolicy
	sleep  func(context.Context, time.Duration) error
}

// NewRetrying decorates next.
func NewRetrying(next Store, policy RetryPolicy) *Retrying {
	if policy.Attempts <= 0 {
		policy.Attempts = 3
	}
	if policy.Backoff <= 0 {
		policy.Backoff = 50 * time.Millisecond
	}
	return &Retrying{next: next, policy: policy, sleep: sleepContext}
}

// Get retries transient failures.
func (r *Retrying) Get(ctx context.Context, collection, id string) (Document, error) {
	var doc Document
	err := r.do(ctx, func() error {
		var err error
		doc, err = r.next.Get(ctx, collection, id)
		return err
	})
	return doc, err
}

// Put retries transient failures. A versioned put that committed before the
// failure surfaces as a conflict on retry, which the caller resolves by re-reading.
func (r *Retrying) Put(ctx context.Context, collection string, doc Document, expectedVersion int64) (int64, error) {
	var version int64
	err := r.do(ctx, func() error {
		var err error
		version, err = r.next.Put(ctx, collection, doc, expectedVersion)
		return err
	})
	return version, err
}

// Query retries transient failures.
func (r *Retrying) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	var docs []Document
	err := r.do(ctx, func() error {
		var err error
		docs, err = r.next.Query(ctx, collection, q)
		return err
	})
	return docs, err
}

// Delete retries transient failures; a not-found after a lost ack counts as done.
func (r *Retrying) Delete(ctx context.Context, collection, id string) error {
	attempted := false
	return r.do(ctx, func() error {
		err := r.next.Delete(ctx, collection, id)
		if attempted && errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		attempted = true
		return err
	})
}

// AppendToArrayField dedupes by the value's id before every retry.
func (r *Retrying) AppendToArrayField(ctx context.Context, collection, id, field string, value any) error {
	valueID := elementID(value)
	err := r.next.AppendToArrayField(ctx, collection, id, field, value)
	if err == nil || !transient(err) || valueID == "" {
		return err
	}
	backoff := r.policy.Backoff
	for attempt := 1; attempt < r.policy.Attempts; attempt++ {
		if serr := r.sleep(ctx, backoff); serr != nil {
			return err
		}
		backoff *= 2
		present, lookupErr := r.containsElement(ctx, collection, id, field, valueID)
		if lookupErr == nil && present {
			return nil
		}
		if lookupErr != nil && transient(lookupErr) {
			err = lookupErr
			continue
		}
		err = r.next.AppendToArrayField(ctx, collection, id, field, value)
		if err == nil || !transient(err) {
			return err
		}
	}
	return err
}

func (r *Retrying) containsElement(ctx context.Context, collection, id, field, elemID string) (bool, error) {
	doc, err := r.next.Get(ctx, collection, id)
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var items []struct {
		ID string `json:"id"`
	}
	if _, err := doc.Field(field, &items); err != nil {
		return false, err
	}
	for _, item := range items {
		if item.ID == elemID {
			return true, nil
		}
	}
	return false, nil
}

func (r *Retrying) do(ctx context.Context, fn func() error) error {
	backoff := r.policy.Backoff
	var err error
	for attempt := 0; attempt < r.policy.Attempts; attempt++ {
		if attempt > 0 {
			if serr := r.sleep(ctx, backoff); serr != nil {
				return err
			}
			backoff *= 2
		}
		err = fn()
		if err == nil || !transient(err) {
			return err
		}
	}
	return err
}

func transient(err error) bool {
	return errors.Is(err, shared.ErrPersistence) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func elementID(value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ID
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
