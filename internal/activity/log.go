// Package activity keeps the append-only audit trail shown on customer and
// lead screens.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meshworks/backoffice/internal/rbac"
	"github.com/meshworks/backoffice/internal/store"
)

const (
	// Collection stores one document per subject.
	Collection   = "activities"
	entriesField = "entries"
)

// Activity is one audit entry. Date and Time are display copies of Timestamp.
type Activity struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	UserName  string    `json:"userName"`
	Timestamp time.Time `json:"timestamp"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
}

// Subject builds the key of the trail an entry belongs to, e.g. customers/42.
func Subject(kind, id string) string {
	return kind + "/" + id
}

// Log appends and lists activity entries.
type Log struct {
	store  store.Store
	logger *slog.Logger
	clock  func() time.Time
}

// NewLog wires the log to the record store.
func NewLog(s store.Store, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: s, logger: logger, clock: func() time.Time { return time.Now().UTC() }}
}

// Append writes one entry with an atomic array append.
func (l *Log) Append(ctx context.Context, subject, action, details string) (Activity, error) {
	now := l.clock()
	entry := Activity{
		ID:        uuid.NewString(),
		Action:    action,
		Details:   details,
		UserName:  actorName(ctx),
		Timestamp: now,
		Date:      now.Format("02 Jan 2006"),
		Time:      now.Format("03:04 PM"),
	}
	if err := l.store.AppendToArrayField(ctx, Collection, subject, entriesField, entry); err != nil {
		return Activity{}, fmt.Errorf("activity: append %s: %w", subject, err)
	}
	return entry, nil
}

// Record appends an entry after a successful mutation. The mutation is already
// persisted, so a failure here is logged rather than returned.
func (l *Log) Record(ctx context.Context, subject, action, details string) {
	if l == nil {
		return
	}
	if _, err := l.Append(ctx, subject, action, details); err != nil {
		l.logger.Warn("activity append failed",
			slog.String("subject", subject),
			slog.String("action", action),
			slog.Any("error", err))
	}
}

// List returns the trail newest first, ordered by timestamp rather than by
// insertion order.
func (l *Log) List(ctx context.Context, subject string) ([]Activity, error) {
	doc, err := l.store.Get(ctx, Collection, subject)
	if err != nil {
		return nil, fmt.Errorf("activity: list %s: %w", subject, err)
	}
	var entries []Activity
	if _, err := doc.Field(entriesField, &entries); err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, nil
}

func actorName(ctx context.Context) string {
	if p, ok := rbac.PrincipalFromContext(ctx); ok && p.Name != "" {
		return p.Name
	}
	return "system"
}
