package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Directions of journal entries.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Page size limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ErrInvalidDirection is returned by Record for directions other than up and down.
var ErrInvalidDirection = errors.New("journal: direction must be up or down")

// Entry is one journalled frame.
type Entry struct {
	ID          int64     `json:"id"`
	Direction   string    `json:"direction"`
	Kind        string    `json:"kind"`
	Source      string    `json:"source"`
	Gateway     string    `json:"gateway,omitempty"`
	Size        int       `json:"size"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Direction string
	Kind      string
	Limit     int
	Offset    int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Journal is an append-only SQLite record of relayed traffic. It is an
// audit trail for operators; nothing reads it back to restore relay state.
//
// All public methods are thread-safe.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// New returns a journal over db. The traffic table must exist (see
// migrations.FS).
func New(db *sql.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

// Record appends e. CreatedAt defaults to now.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.Direction != DirectionUp && e.Direction != DirectionDown {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, e.Direction)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO traffic (direction, kind, source, gateway, size, fingerprint, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Direction, e.Kind, e.Source, e.Gateway, e.Size, e.Fingerprint, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting traffic entry: %w", err)
	}
	return nil
}

// List returns entries matching filter, newest first.
func (j *Journal) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Direction != "" {
		conditions = append(conditions, "direction = ?")
		args = append(args, filter.Direction)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	//nolint:gosec // WHERE holds only placeholders
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM traffic "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting traffic entries: %w", err)
	}

	//nolint:gosec // WHERE holds only placeholders
	query := "SELECT id, direction, kind, source, gateway, size, fingerprint, created_at FROM traffic " +
		where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := j.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying traffic entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Direction, &e.Kind, &e.Source, &e.Gateway, &e.Size, &e.Fingerprint, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning traffic entry: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating traffic entries: %w", err)
	}

	return &ListResult{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Recent returns the newest limit entries.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	res, err := j.List(ctx, Filter{Limit: limit})
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// Prune deletes entries created before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, "DELETE FROM traffic WHERE created_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning traffic entries: %w", err)
	}
	return res.RowsAffected()
}
