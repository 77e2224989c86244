// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BridgeBySignature retrieves a bridge row, revoked or not.
func (s *Store) BridgeBySignature(ctx context.Context, signature string) (IdentityBridge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT signature, reference_artist, reference_title, work_id, confidence, is_revoked, created_at, updated_at
		FROM identity_bridge WHERE signature = ?`, signature)

	var b IdentityBridge
	var revoked int
	var created, updated string
	err := row.Scan(&b.Signature, &b.ReferenceArtist, &b.ReferenceTitle, &b.WorkID, &b.Confidence, &revoked, &created, &updated)
	if err == sql.ErrNoRows {
		return IdentityBridge{}, fmt.Errorf("%w: bridge %s", ErrNotFound, signature)
	}
	if err != nil {
		return IdentityBridge{}, err
	}
	b.IsRevoked = revoked != 0
	b.CreatedAt = parseTime(created)
	b.UpdatedAt = parseTime(updated)
	return b, nil
}

// BridgesBySignatures fetches non-revoked bridges for a signature set in one
// batched query. Absent or revoked signatures are missing from the result.
func (s *Store) BridgesBySignatures(ctx context.Context, signatures []string) (map[string]IdentityBridge, error) {
	out := make(map[string]IdentityBridge, len(signatures))
	if len(signatures) == 0 {
		return out, nil
	}
	query, args := inClause(`
		SELECT signature, reference_artist, reference_title, work_id, confidence, is_revoked, created_at, updated_at
		FROM identity_bridge WHERE is_revoked = 0 AND signature IN`, signatures)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var b IdentityBridge
		var revoked int
		var created, updated string
		if err := rows.Scan(&b.Signature, &b.ReferenceArtist, &b.ReferenceTitle, &b.WorkID, &b.Confidence, &revoked, &created, &updated); err != nil {
			return nil, err
		}
		b.IsRevoked = revoked != 0
		b.CreatedAt = parseTime(created)
		b.UpdatedAt = parseTime(updated)
		out[b.Signature] = b
	}
	return out, rows.Err()
}

// UpsertBridgeTx writes a bridge row inside an open transaction, idempotent
// on signature. A revoked row is reactivated with the new target.
func (s *Store) UpsertBridgeTx(ctx context.Context, tx *sql.Tx, b IdentityBridge) error {
	if b.Signature == "" {
		return fmt.Errorf("%w: empty signature", ErrValidation)
	}
	now := fmtTime(time.Now())
	_, err := tx.ExecContext(ctx, `
		INSERT INTO identity_bridge
			(signature, reference_artist, reference_title, work_id, confidence, is_revoked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET
			reference_artist = excluded.reference_artist,
			reference_title = excluded.reference_title,
			work_id = excluded.work_id,
			confidence = excluded.confidence,
			is_revoked = 0,
			updated_at = excluded.updated_at`,
		b.Signature, b.ReferenceArtist, b.ReferenceTitle, b.WorkID, b.Confidence, now, now)
	return err
}

// BackfillSignatureTx links every unlinked log sharing the signature to
// workID and returns the affected log ids (needed for undo).
func (s *Store) BackfillSignatureTx(ctx context.Context, tx *sql.Tx, signature string, workID int64, reason string) ([]int64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM broadcast_logs WHERE signature = ? AND work_id IS NULL`, signature)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE broadcast_logs SET work_id = ?, match_reason = ? WHERE signature = ? AND work_id IS NULL`,
		workID, reason, signature)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ClearLogWorksTx reverses a backfill: the listed logs drop their work link
// provided they still point at workID.
func (s *Store) ClearLogWorksTx(ctx context.Context, tx *sql.Tx, logIDs []int64, workID int64) error {
	if len(logIDs) == 0 {
		return nil
	}
	query, args := inClause(`UPDATE broadcast_logs SET work_id = NULL, match_reason = '' WHERE work_id = `+
		fmt.Sprintf("%d", workID)+` AND id IN`, logIDs)
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// DeleteQueueItemTx retires a queue item inside an open transaction and
// returns the deleted row for the undo payload.
func (s *Store) DeleteQueueItemTx(ctx context.Context, tx *sql.Tx, signature string) (*DiscoveryQueueItem, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT signature, raw_artist, raw_title, count, suggested_work_id,
		       best_artist_sim, best_title_sim, skip_until, first_seen, last_seen
		FROM discovery_queue WHERE signature = ?`, signature)

	var q DiscoveryQueueItem
	var suggested sql.NullInt64
	var skipUntil sql.NullString
	var first, last string
	err := row.Scan(&q.Signature, &q.RawArtist, &q.RawTitle, &q.Count, &suggested,
		&q.BestArtistSim, &q.BestTitleSim, &skipUntil, &first, &last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if suggested.Valid {
		id := suggested.Int64
		q.SuggestedWorkID = &id
	}
	q.SkipUntil = parseNullTime(skipUntil)
	q.FirstSeen = parseTime(first)
	q.LastSeen = parseTime(last)

	if _, err := tx.ExecContext(ctx, `DELETE FROM discovery_queue WHERE signature = ?`, signature); err != nil {
		return nil, err
	}
	return &q, nil
}

// RestoreQueueItemTx reinserts a previously deleted queue item; used by
// undo.
func (s *Store) RestoreQueueItemTx(ctx context.Context, tx *sql.Tx, q DiscoveryQueueItem) error {
	var suggested any
	if q.SuggestedWorkID != nil {
		suggested = *q.SuggestedWorkID
	}
	var skipUntil any
	if q.SkipUntil != nil {
		skipUntil = fmtTime(*q.SkipUntil)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO discovery_queue
			(signature, raw_artist, raw_title, count, suggested_work_id, best_artist_sim, best_title_sim, skip_until, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO NOTHING`,
		q.Signature, q.RawArtist, q.RawTitle, q.Count, suggested,
		q.BestArtistSim, q.BestTitleSim, skipUntil, fmtTime(q.FirstSeen), fmtTime(q.LastSeen))
	return err
}

// DeleteBridgeTx removes a bridge row entirely; used by undo. Revocation is
// the operator-facing soft variant.
func (s *Store) DeleteBridgeTx(ctx context.Context, tx *sql.Tx, signature string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM identity_bridge WHERE signature = ?`, signature)
	return err
}

// RevokeBridge soft-disables a bridge. Back-filled logs keep their
// decisions.
func (s *Store) RevokeBridge(ctx context.Context, signature string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identity_bridge SET is_revoked = 1, updated_at = ? WHERE signature = ?`,
		fmtTime(time.Now()), signature)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: bridge %s", ErrNotFound, signature)
	}
	return nil
}
