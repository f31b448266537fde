package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mkarlsson/sharesync/internal/errs"
	"github.com/mkarlsson/sharesync/internal/metrics"
	"github.com/mkarlsson/sharesync/internal/models"
	"github.com/mkarlsson/sharesync/internal/visibility"
)

const (
	// DefaultChangeLimit is the page size when the caller does not ask
	// for one.
	DefaultChangeLimit = 1000

	// MaxChangeLimit is the hard per-call cap; callers paginate beyond
	// it.
	MaxChangeLimit = 10000
)

// GetChanges serves a device's incremental sync: entries strictly
// after the (since, sinceID) cursor in (ts, id) order, with each
// entry's embedded record filtered through the visibility gate for
// the requesting viewer. Paginating by timestamp alone would drop the
// tail of a same-timestamp run when a page ends inside one, so the
// cursor carries the last entry's id as a tiebreaker.
func (s *DefaultService) GetChanges(ctx context.Context, userID, groupID string, since time.Time, sinceID string, limit int) (*models.ChangesResponse, error) {
	group, _, err := s.requireMembership(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultChangeLimit
	}
	if limit > MaxChangeLimit {
		limit = MaxChangeLimit
	}

	// Fetch one extra entry to learn whether another page exists.
	entries, err := s.repo.ListChanges(ctx, groupID, since, sinceID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("error listing changes: %w", err)
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}

	if err := s.gateEntries(ctx, userID, group, entries); err != nil {
		return nil, err
	}

	metrics.ChangeFeedReads.Inc()

	return &models.ChangesResponse{
		Status:  "success",
		GroupID: groupID,
		Changes: entries,
		HasMore: hasMore,
	}, nil
}

// GetGroupRecords serves a device's recovery sync: the current set of
// group-tagged records, independent of changelog history. Records
// whose owner has not opened both gates are omitted for other viewers;
// a viewer always receives their own records. Aggregate statistics are
// served separately and are never filtered.
func (s *DefaultService) GetGroupRecords(ctx context.Context, userID, groupID string) (*models.RecordListResponse, error) {
	group, _, err := s.requireMembership(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}

	records, err := s.repo.ListActiveGroupRecords(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("error listing group records: %w", err)
	}

	visible := make([]models.ExpenseRecord, 0, len(records))
	shareDetails := map[string]bool{userID: true} // own records always visible
	for _, record := range records {
		allowed, ok := shareDetails[record.OwnerID]
		if !ok {
			allowed, err = s.ownerShares(ctx, group, record.OwnerID)
			if err != nil {
				return nil, err
			}
			shareDetails[record.OwnerID] = allowed
		}
		if allowed {
			visible = append(visible, record)
		}
	}

	return &models.RecordListResponse{Status: "success", Records: visible}, nil
}

// gateEntries strips the embedded record data from entries whose owner
// has not opened both gates for this viewer. The notification-safe
// summary always stays. REMOVED entries carry no data to begin with.
func (s *DefaultService) gateEntries(ctx context.Context, viewerID string, group *models.Group, entries []models.ChangeEntry) error {
	shareDetails := map[string]bool{viewerID: true}

	for i := range entries {
		entry := &entries[i]
		if entry.Data == nil {
			continue
		}

		ownerID := entry.Data.OwnerID
		allowed, ok := shareDetails[ownerID]
		if !ok {
			var err error
			allowed, err = s.ownerShares(ctx, group, ownerID)
			if err != nil {
				return err
			}
			shareDetails[ownerID] = allowed
		}

		if !allowed {
			entry.Data = nil
		}
	}

	return nil
}

// ownerShares evaluates the double gate for a record owner's details.
func (s *DefaultService) ownerShares(ctx context.Context, group *models.Group, ownerID string) (bool, error) {
	if !group.SharingEnabled {
		return false, nil
	}

	pref, err := s.repo.GetPreference(ctx, ownerID, group.ID)
	if err != nil {
		return false, errs.Wrap(errs.KindTransient, err, "loading owner preference")
	}

	prefShare := pref != nil && pref.ShareDetails
	return visibility.DetailsVisible(group.SharingEnabled, prefShare), nil
}
