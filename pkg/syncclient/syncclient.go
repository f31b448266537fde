// Package syncclient brings a device's local cache up to date with a
// group's changelog, incrementally when the history is still within
// its retention window and by full recomputation when it is not.
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mkarlsson/sharesync/internal/changelog"
	"github.com/mkarlsson/sharesync/internal/models"
)

// RecoveryThreshold is how stale a checkpoint may be before
// incremental sync can no longer be trusted: entries older than this
// have been pruned. It must never exceed the server's retention.
const RecoveryThreshold = changelog.Retention

// DefaultPageSize bounds one changelog read.
const DefaultPageSize = 1000

// ErrSyncInProgress is returned when a sync for the same group is
// already running on this device.
var ErrSyncInProgress = errors.New("syncclient: sync already in progress for this group")

// ChangeSource is the server surface the client consumes: the paged
// change feed and, for recovery, the current record set. Both are
// already visibility-filtered for this viewer by the server. Changes
// returns entries strictly after the (since, sinceID) cursor in
// (timestamp, id) order.
type ChangeSource interface {
	Changes(ctx context.Context, groupID string, since time.Time, sinceID string, limit int) ([]models.ChangeEntry, bool, error)
	GroupRecords(ctx context.Context, groupID string) ([]models.RecordPayload, error)
}

// Checkpoint marks how far a group's feed has been applied: the
// timestamp and id of the last applied entry. The id breaks timestamp
// ties, so a page boundary inside a run of same-timestamp entries
// (the leave cascade emits those) cannot skip the rest of the run.
type Checkpoint struct {
	SyncedAt time.Time
	EntryID  string
}

// Syncer drives cache updates for one device. Safe for concurrent use
// across groups; concurrent syncs of the same group are rejected.
type Syncer struct {
	source   ChangeSource
	cache    *Cache
	pageSize int
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a Syncer reading from source into cache.
func New(source ChangeSource, cache *Cache) *Syncer {
	return &Syncer{
		source:   source,
		cache:    cache,
		pageSize: DefaultPageSize,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// Sync brings the group's cache up to date. A fresh group (no
// checkpoint) and a checkpoint up to exactly the recovery threshold
// old both sync incrementally; only a strictly older checkpoint forces
// recovery. A cancelled sync leaves the checkpoint unadvanced beyond
// the last completed page and is safe to retry.
func (s *Syncer) Sync(ctx context.Context, groupID string) error {
	if !s.acquire(groupID) {
		return ErrSyncInProgress
	}
	defer s.release(groupID)

	checkpoint, err := s.cache.Checkpoint(ctx, groupID)
	if err != nil {
		return fmt.Errorf("reading checkpoint: %w", err)
	}

	now := s.now().UTC()
	if checkpoint != nil && now.Sub(checkpoint.SyncedAt) > RecoveryThreshold {
		return s.recover(ctx, groupID, now)
	}

	return s.incremental(ctx, groupID, checkpoint)
}

func (s *Syncer) incremental(ctx context.Context, groupID string, checkpoint *Checkpoint) error {
	var cursor Checkpoint
	if checkpoint != nil {
		cursor = *checkpoint
	}

	for {
		entries, hasMore, err := s.source.Changes(ctx, groupID, cursor.SyncedAt, cursor.EntryID, s.pageSize)
		if err != nil {
			return fmt.Errorf("reading change feed: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		for i := range entries {
			if err := s.apply(ctx, groupID, &entries[i]); err != nil {
				return fmt.Errorf("applying entry %s: %w", entries[i].ID, err)
			}
		}

		// The checkpoint advances only after a fully applied page.
		last := entries[len(entries)-1]
		cursor = Checkpoint{SyncedAt: last.Timestamp, EntryID: last.ID}
		if err := s.cache.SetCheckpoint(ctx, groupID, cursor); err != nil {
			return fmt.Errorf("advancing checkpoint: %w", err)
		}

		if !hasMore {
			return nil
		}
	}
}

// apply folds one changelog entry into the cache. An ADDED or MODIFIED
// entry whose data the server withheld behaves like a removal: details
// the viewer may not see do not belong in the cache.
func (s *Syncer) apply(ctx context.Context, groupID string, entry *models.ChangeEntry) error {
	if entry.Kind == models.ChangeRemoved || entry.Data == nil {
		return s.cache.ApplyRemove(ctx, groupID, entry.RecordID, entry.Timestamp)
	}
	return s.cache.ApplyUpsert(ctx, groupID, *entry.Data, entry.Timestamp)
}

// recover rebuilds the cache from the current record set, bypassing
// the (pruned) changelog, then restarts incremental sync from now.
func (s *Syncer) recover(ctx context.Context, groupID string, now time.Time) error {
	records, err := s.source.GroupRecords(ctx, groupID)
	if err != nil {
		return fmt.Errorf("reading group records for recovery: %w", err)
	}

	if err := s.cache.ReplaceGroup(ctx, groupID, records, now); err != nil {
		return fmt.Errorf("replacing cached records: %w", err)
	}

	if err := s.cache.SetCheckpoint(ctx, groupID, Checkpoint{SyncedAt: now}); err != nil {
		return fmt.Errorf("resetting checkpoint: %w", err)
	}

	return nil
}

func (s *Syncer) acquire(groupID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inflight[groupID]; busy {
		return false
	}
	s.inflight[groupID] = struct{}{}
	return true
}

func (s *Syncer) release(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, groupID)
}
