// Package history records finished correction runs: the text a user
// submitted, the text they ended up with, and how they reviewed the
// suggestions in between.
//
// [MemStore] keeps entries in process memory and is used when no database
// is configured. [PostgresStore] persists them with pgx.
package history

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/correctnow/correctnow/pkg/suggest"
)

// DefaultLimit caps [Store.Recent] when the caller passes a non-positive limit.
const DefaultLimit = 20

// MaxLimit is the largest page [Store.Recent] returns.
const MaxLimit = 200

// ErrInvalidEntry is returned by [Store.Record] for entries missing required
// fields.
var ErrInvalidEntry = errors.New("history: invalid entry")

// Entry is one recorded correction run.
type Entry struct {
	ID        int64            `json:"id"`
	UserID    string           `json:"user_id"`
	Language  string           `json:"language,omitempty"`
	Original  string           `json:"original"`
	Final     string           `json:"final"`
	Changes   []suggest.Change `json:"changes"`
	Accepted  int              `json:"accepted"`
	Ignored   int              `json:"ignored"`
	CreatedAt time.Time        `json:"created_at"`
}

// Validate reports whether e can be recorded.
func (e Entry) Validate() error {
	var errs []error
	if strings.TrimSpace(e.UserID) == "" {
		errs = append(errs, errors.New("user_id is required"))
	}
	if e.Original == "" {
		errs = append(errs, errors.New("original is required"))
	}
	if e.Accepted < 0 || e.Ignored < 0 {
		errs = append(errs, errors.New("accepted and ignored must be non-negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return errors.Join(ErrInvalidEntry, err)
	}
	return nil
}

// Store persists history entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record stores e and returns it with ID and CreatedAt filled in.
	Record(ctx context.Context, e Entry) (Entry, error)

	// Recent returns up to limit entries of userID, newest first. A
	// non-positive limit means [DefaultLimit]; limits above [MaxLimit] are
	// clamped.
	Recent(ctx context.Context, userID string, limit int) ([]Entry, error)
}

// ClampLimit normalises a caller-supplied page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// ── In-memory ───────────────────────────────────────────────────────────────

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store].
type MemStore struct {
	mu      sync.Mutex
	entries []Entry
	nextID  int64
	now     func() time.Time
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{now: time.Now}
}

// Record implements [Store].
func (m *MemStore) Record(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now().UTC()
	}
	e.Changes = slices.Clone(e.Changes)
	m.entries = append(m.entries, e)
	return e, nil
}

// Recent implements [Store].
func (m *MemStore) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = ClampLimit(limit)

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

// Len returns the number of stored entries.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
