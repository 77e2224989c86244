// SPDX-License-Identifier: MIT

// Package audit records operator actions on the verification surface.
// It follows the WHO/WHAT/WHEN pattern twice over: a structured log line
// for forensics, and a persisted entry carrying enough state to undo the
// action within the retention window.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave/internal/log"
)

// Action identifies the operator action recorded.
type Action string

const (
	ActionLink         Action = "verify.link"
	ActionPromote      Action = "verify.promote"
	ActionSkip         Action = "verify.skip"
	ActionAlias        Action = "verify.alias"
	ActionBulkLink     Action = "verify.bulk_link"
	ActionUndo         Action = "verify.undo"
	ActionRevoke       Action = "verify.revoke"
	ActionSplit        Action = "library.split"
	ActionMergeArtists Action = "library.merge_artists"
	ActionMergeWorks   Action = "library.merge_works"
	ActionThresholds   Action = "config.thresholds"
)

// ErrNotUndoable marks entries outside the retention window, already
// undone, or of a kind that has no reverse operation.
var ErrNotUndoable = errors.New("audit entry not undoable")

// Entry is one persisted audit record. Payload is an action-specific JSON
// document with the state needed to reverse the action.
type Entry struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	Action    Action    `json:"action"`
	Subject   string    `json:"subject"`
	Payload   []byte    `json:"payload,omitempty"`
	Undone    bool      `json:"undone"`
	CreatedAt time.Time `json:"created_at"`
}

// DecodePayload unmarshals the entry payload into out.
func (e Entry) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("audit entry %d has no payload", e.ID)
	}
	return json.Unmarshal(e.Payload, out)
}

// Recorder persists audit entries next to the knowledge base and mirrors
// them to the structured log.
type Recorder struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewRecorder wraps the shared database handle.
func NewRecorder(db *sql.DB) *Recorder {
	logger := log.WithComponent("audit").With().
		Str("log_type", "audit").
		Logger()
	return &Recorder{db: db, logger: logger}
}

// RecordTx persists an entry inside an open transaction and returns its id.
// The log line is emitted immediately; if the transaction rolls back, the
// line records an attempt.
func (r *Recorder) RecordTx(ctx context.Context, tx *sql.Tx, e Entry) (int64, error) {
	return r.insert(ctx, tx, e)
}

// Record persists an entry outside any transaction.
func (r *Recorder) Record(ctx context.Context, e Entry) (int64, error) {
	return r.insert(ctx, nil, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *Recorder) insert(ctx context.Context, tx *sql.Tx, e Entry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Actor == "" {
		e.Actor = "system"
	}

	var ex execer = r.db
	if tx != nil {
		ex = tx
	}
	res, err := ex.ExecContext(ctx, `
		INSERT INTO audit_entries (actor, action, subject, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.Actor, string(e.Action), e.Subject, string(e.Payload), e.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("record audit entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	r.logger.Info().
		Str("event", "audit.recorded").
		Int64("audit_id", id).
		Str("actor", e.Actor).
		Str("action", string(e.Action)).
		Str("subject", e.Subject).
		Time("timestamp", e.CreatedAt).
		Msg("operator action recorded")
	return id, nil
}

// Get retrieves one entry.
func (r *Recorder) Get(ctx context.Context, id int64) (Entry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, actor, action, subject, payload, undone, created_at
		FROM audit_entries WHERE id = ?`, id)
	var e Entry
	var action, payload, created string
	var undone int
	err := row.Scan(&e.ID, &e.Actor, &action, &e.Subject, &payload, &undone, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("audit entry %d: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return Entry{}, err
	}
	fill(&e, action, payload, undone, created)
	return e, nil
}

func fill(e *Entry, action, payload string, undone int, created string) {
	e.Action = Action(action)
	if payload != "" {
		e.Payload = []byte(payload)
	}
	e.Undone = undone != 0
	t, _ := time.Parse(time.RFC3339, created)
	e.CreatedAt = t
}

// MarkUndoneTx flags an entry as undone inside the undo transaction.
// Already-undone entries are rejected so undo cannot run twice.
func (r *Recorder) MarkUndoneTx(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE audit_entries SET undone = 1 WHERE id = ? AND undone = 0`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: entry %d", ErrNotUndoable, id)
	}
	return nil
}

// ListRecent returns the newest entries first.
func (r *Recorder) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, actor, action, subject, payload, undone, created_at
		FROM audit_entries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var action, payload, created string
		var undone int
		if err := rows.Scan(&e.ID, &e.Actor, &action, &e.Subject, &payload, &undone, &created); err != nil {
			return nil, err
		}
		fill(&e, action, payload, undone, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the retention window; their actions are
// no longer undoable afterwards.
func (r *Recorder) Prune(ctx context.Context, retainDays int) (int64, error) {
	if retainDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retainDays).UTC().Format(time.RFC3339)
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.logger.Info().Str("event", "audit.pruned").Int64("entries", n).Int("retain_days", retainDays).Msg("expired audit entries removed")
	}
	return n, nil
}

// Retainable reports whether the entry is still inside the undo window.
func Retainable(e Entry, retainDays int, now time.Time) bool {
	if retainDays <= 0 {
		return true
	}
	return now.Sub(e.CreatedAt) <= time.Duration(retainDays)*24*time.Hour
}
