package repository

import (
	"context"
	"time"

	"github.com/mkarlsson/sharesync/internal/models"
)

// Changelog repository methods.
//
// Entries are append-only: nothing here updates an existing row, and
// the only deletions are the retention sweep and the group-deletion
// cascade.

func (r *PostgresRepository) InsertChangeEntry(ctx context.Context, entry *models.ChangeEntry) (bool, error) {
	// Insert-if-absent: the deterministic entry ID absorbs redelivery.
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO change_entries (id, group_id, kind, record_id, actor_id,
			ts, data, summary, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.GroupID, entry.Kind, entry.RecordID, entry.ActorID,
		entry.Timestamp, entry.Data, entry.Summary, entry.ExpiresAt)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListChanges pages the feed with a keyset cursor over (ts, id), the
// same order it is served in. The id tiebreaker matters: the leave
// cascade stamps every entry it emits with one timestamp, and a page
// boundary falling inside such a run must not skip the rest of it.
// An empty sinceID re-includes entries at the boundary timestamp;
// entry IDs are stable, so re-applying them is harmless.
func (r *PostgresRepository) ListChanges(ctx context.Context, groupID string, since time.Time, sinceID string, limit int) ([]models.ChangeEntry, error) {
	var entries []models.ChangeEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM change_entries
		WHERE group_id = $1 AND (ts, id) > ($2, $3)
		ORDER BY ts ASC, id ASC
		LIMIT $4
	`, groupID, since, sinceID, limit)
	if err != nil {
		return nil, err
	}

	// A NULL data column scans into an allocated zero payload through
	// the pointer field; fold it back to nil so REMOVED entries carry
	// no data by construction.
	for i := range entries {
		if entries[i].Data != nil && entries[i].Data.OwnerID == "" {
			entries[i].Data = nil
		}
	}

	return entries, nil
}

func (r *PostgresRepository) DeleteGroupChanges(ctx context.Context, groupID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM change_entries WHERE group_id = $1`, groupID)
	return err
}

func (r *PostgresRepository) DeleteExpiredEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM change_entries WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
