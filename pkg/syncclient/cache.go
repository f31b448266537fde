package syncclient

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mkarlsson/sharesync/internal/models"
)

// Cache is the device-local record cache, one SQLite file per
// authenticated user. Processes of the same user share the file, so a
// write from one tab is observable by its siblings; a different user
// gets a different file and never sees this one.
type Cache struct {
	db *sql.DB
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS cached_records (
	group_id TEXT NOT NULL,
	record_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	applied_ts INTEGER NOT NULL,
	removed INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (group_id, record_id)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	group_id TEXT PRIMARY KEY,
	last_sync INTEGER NOT NULL,
	last_entry_id TEXT NOT NULL DEFAULT ''
);
`

// NewCache opens (or creates) the cache file for userID under dir.
func NewCache(dir, userID string) (*Cache, error) {
	if userID == "" {
		return nil, errors.New("syncclient: user id is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	path := filepath.Join(dir, "cache-"+userID+".db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache schema: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the cache file.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Checkpoint returns the group's last sync cursor, or nil if the
// group has never synced on this device.
func (c *Cache) Checkpoint(ctx context.Context, groupID string) (*Checkpoint, error) {
	var (
		nanos   int64
		entryID string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT last_sync, last_entry_id FROM checkpoints WHERE group_id = ?`,
		groupID).Scan(&nanos, &entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &Checkpoint{SyncedAt: time.Unix(0, nanos).UTC(), EntryID: entryID}, nil
}

// SetCheckpoint advances the group's sync cursor.
func (c *Cache) SetCheckpoint(ctx context.Context, groupID string, cp Checkpoint) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO checkpoints (group_id, last_sync, last_entry_id) VALUES (?, ?, ?)
		ON CONFLICT (group_id) DO UPDATE SET
			last_sync = excluded.last_sync,
			last_entry_id = excluded.last_entry_id
	`, groupID, cp.SyncedAt.UnixNano(), cp.EntryID)
	return err
}

// ApplyUpsert stores a record payload from an ADDED or MODIFIED
// entry, unless a later entry already claimed the record. A REMOVED
// entry at the same timestamp also blocks it: REMOVED wins ties.
func (c *Cache) ApplyUpsert(ctx context.Context, groupID string, payload models.RecordPayload, ts time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cached_records (group_id, record_id, owner_id, payload, applied_ts, removed)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT (group_id, record_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			payload = excluded.payload,
			applied_ts = excluded.applied_ts,
			removed = 0
		WHERE (cached_records.removed = 0 AND excluded.applied_ts >= cached_records.applied_ts)
		   OR (cached_records.removed = 1 AND excluded.applied_ts > cached_records.applied_ts)
	`, groupID, payload.RecordID, payload.OwnerID, string(raw), ts.UnixNano())
	return err
}

// ApplyRemove tombstones a record. It applies whenever the REMOVED
// entry's timestamp is at or after the currently applied one.
func (c *Cache) ApplyRemove(ctx context.Context, groupID, recordID string, ts time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cached_records (group_id, record_id, owner_id, payload, applied_ts, removed)
		VALUES (?, ?, '', '{}', ?, 1)
		ON CONFLICT (group_id, record_id) DO UPDATE SET
			applied_ts = excluded.applied_ts,
			removed = 1
		WHERE excluded.applied_ts >= cached_records.applied_ts
	`, groupID, recordID, ts.UnixNano())
	return err
}

// Records returns the group's cached, non-removed records. A cold
// start renders from this before any network round trip.
func (c *Cache) Records(ctx context.Context, groupID string) ([]models.RecordPayload, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT payload FROM cached_records
		WHERE group_id = ? AND removed = 0
		ORDER BY record_id
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.RecordPayload
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}

		var payload models.RecordPayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, err
		}
		records = append(records, payload)
	}

	return records, rows.Err()
}

// ReplaceGroup swaps the group's cached records wholesale, used by
// the recovery path. Tombstones are dropped: the authoritative record
// set supersedes any changelog-derived state.
func (c *Cache) ReplaceGroup(ctx context.Context, groupID string, records []models.RecordPayload, now time.Time) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cached_records WHERE group_id = ?`, groupID); err != nil {
		return err
	}

	for _, payload := range records {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cached_records (group_id, record_id, owner_id, payload, applied_ts, removed)
			VALUES (?, ?, ?, ?, ?, 0)
		`, groupID, payload.RecordID, payload.OwnerID, string(raw), now.UnixNano()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Clear wipes everything, called on sign-out so the next user of the
// device cannot read this user's data through a stale cache.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cached_records`); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx, `DELETE FROM checkpoints`)
	return err
}
