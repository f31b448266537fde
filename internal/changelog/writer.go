// Package changelog turns record writes into idempotent, append-only
// changelog entries consumed by other members' devices.
package changelog

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mkarlsson/sharesync/internal/errs"
	"github.com/mkarlsson/sharesync/internal/metrics"
	"github.com/mkarlsson/sharesync/internal/models"
)

// Retention is how long changelog entries stay readable before the
// sweeper removes them. The sync client's recovery threshold must
// never exceed it.
const Retention = 30 * 24 * time.Hour

// Event is one delivered record write. ID is the delivery's unique
// event identifier; redeliveries reuse it, which is what makes entry
// writes idempotent.
type Event struct {
	ID      string
	ActorID string
	Before  *models.ExpenseRecord
	After   *models.ExpenseRecord
}

// Store is the slice of the repository the writer needs.
type Store interface {
	// GroupExists reports whether the group is still present.
	GroupExists(ctx context.Context, groupID string) (bool, error)

	// InsertChangeEntry performs an insert-if-absent write and reports
	// whether a row was actually inserted.
	InsertChangeEntry(ctx context.Context, entry *models.ChangeEntry) (bool, error)

	// ActiveGroupRecordsByOwner lists a user's non-deleted records
	// still tagged to the group, for the member-removal cascade.
	ActiveGroupRecordsByOwner(ctx context.Context, groupID, ownerID string) ([]models.ExpenseRecord, error)
}

// Writer appends changelog entries for record writes. It is safe to
// invoke concurrently and to re-invoke with the same event.
type Writer struct {
	store    Store
	sanitize *bluemonday.Policy
	now      func() time.Time
}

// NewWriter creates a Writer backed by store.
func NewWriter(store Store) *Writer {
	return &Writer{
		store:    store,
		sanitize: bluemonday.StrictPolicy(),
		now:      time.Now,
	}
}

// Process handles one delivered record write. It returns an error only
// for transient store failures, so the platform retries the delivery;
// every other problem (group already gone, actor mismatch) is logged
// and swallowed because retrying cannot fix it.
func (w *Writer) Process(ctx context.Context, ev Event) error {
	actions := Detect(ev.Before, ev.After)
	if len(actions) == 0 {
		return nil
	}

	record := ev.After
	if record == nil {
		record = ev.Before
	}
	if record.OwnerID != ev.ActorID {
		slog.Warn("changelog event actor is not the record owner, skipping",
			"event", ev.ID, "record", record.ID, "actor", ev.ActorID)
		return nil
	}

	now := w.now().UTC()
	for _, action := range actions {
		exists, err := w.store.GroupExists(ctx, action.GroupID)
		if err != nil {
			return errs.Wrap(errs.KindTransient, err, "checking group %s", action.GroupID)
		}
		if !exists {
			slog.Info("changelog target group no longer exists, skipping entry",
				"event", ev.ID, "group", action.GroupID, "kind", action.Kind)
			continue
		}

		entry := w.buildEntry(ev, action, record, now)
		inserted, err := w.store.InsertChangeEntry(ctx, entry)
		if err != nil {
			return errs.Wrap(errs.KindTransient, err, "inserting change entry %s", entry.ID)
		}
		if inserted {
			metrics.ChangeEntriesWritten.WithLabelValues(string(action.Kind)).Inc()
		} else {
			metrics.ChangeEntriesDeduped.Inc()
		}
	}

	return nil
}

// ProcessMemberRemoval emits a REMOVED entry for every record the
// departing user still has tagged to the group, so other members'
// caches evict them. Keyed per (group, user, record) it is idempotent
// under retries and races with leave itself.
func (w *Writer) ProcessMemberRemoval(ctx context.Context, groupID, userID string) error {
	records, err := w.store.ActiveGroupRecordsByOwner(ctx, groupID, userID)
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "listing records for departing member")
	}

	now := w.now().UTC()
	for i := range records {
		r := &records[i]
		entry := &models.ChangeEntry{
			ID:        fmt.Sprintf("leave:%s:%s:%s", groupID, userID, r.ID),
			GroupID:   groupID,
			Kind:      models.ChangeRemoved,
			RecordID:  r.ID,
			ActorID:   userID,
			Timestamp: now,
			Summary:   w.summaryOf(r),
			ExpiresAt: now.Add(Retention),
		}

		inserted, err := w.store.InsertChangeEntry(ctx, entry)
		if err != nil {
			return errs.Wrap(errs.KindTransient, err, "inserting leave entry %s", entry.ID)
		}
		if inserted {
			metrics.ChangeEntriesWritten.WithLabelValues(string(models.ChangeRemoved)).Inc()
		} else {
			metrics.ChangeEntriesDeduped.Inc()
		}
	}

	return nil
}

func (w *Writer) buildEntry(ev Event, action Action, record *models.ExpenseRecord, now time.Time) *models.ChangeEntry {
	entry := &models.ChangeEntry{
		ID:        EntryID(ev.ID, action.Kind),
		GroupID:   action.GroupID,
		Kind:      action.Kind,
		RecordID:  record.ID,
		ActorID:   ev.ActorID,
		Timestamp: now,
		Summary:   w.summaryOf(record),
		ExpiresAt: now.Add(Retention),
	}

	if action.Kind != models.ChangeRemoved {
		entry.Data = &models.RecordPayload{
			RecordID:    record.ID,
			OwnerID:     record.OwnerID,
			Amount:      record.Amount,
			Currency:    record.Currency,
			Description: w.clean(record.Description),
			Category:    w.clean(record.Category),
			OccurredOn:  record.OccurredOn,
			Version:     record.Version,
			UpdatedAt:   record.UpdatedAt,
			Periods:     record.Periods,
		}
	}

	return entry
}

func (w *Writer) summaryOf(r *models.ExpenseRecord) models.ChangeSummary {
	return models.ChangeSummary{
		Amount:      r.Amount,
		Currency:    r.Currency,
		Description: w.clean(r.Description),
		Category:    w.clean(r.Category),
	}
}

// clean strips markup from text destined for notifications and undoes
// the entity escaping the sanitizer applies, leaving plain text.
func (w *Writer) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(w.sanitize.Sanitize(s)))
}

// EntryID derives the deterministic entry identifier for a delivery
// and action kind. Redelivery of the same event reproduces the same
// ID, so the insert-if-absent write collapses duplicates.
func EntryID(eventID string, kind models.ChangeKind) string {
	return eventID + ":" + string(kind)
}
