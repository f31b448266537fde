package changelog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarlsson/sharesync/internal/models"
	"github.com/mkarlsson/sharesync/internal/periods"
)

// fakeStore is an in-memory Store with insert-if-absent semantics.
type fakeStore struct {
	groups  map[string]bool
	entries map[string]*models.ChangeEntry
	records []models.ExpenseRecord
	failing bool
}

func newFakeStore(groupIDs ...string) *fakeStore {
	groups := make(map[string]bool)
	for _, id := range groupIDs {
		groups[id] = true
	}
	return &fakeStore{groups: groups, entries: make(map[string]*models.ChangeEntry)}
}

func (f *fakeStore) GroupExists(_ context.Context, groupID string) (bool, error) {
	if f.failing {
		return false, errors.New("store unavailable")
	}
	return f.groups[groupID], nil
}

func (f *fakeStore) InsertChangeEntry(_ context.Context, entry *models.ChangeEntry) (bool, error) {
	if f.failing {
		return false, errors.New("store unavailable")
	}
	if _, ok := f.entries[entry.ID]; ok {
		return false, nil
	}
	f.entries[entry.ID] = entry
	return true, nil
}

func (f *fakeStore) ActiveGroupRecordsByOwner(_ context.Context, groupID, ownerID string) ([]models.ExpenseRecord, error) {
	var out []models.ExpenseRecord
	for _, r := range f.records {
		if r.GroupID != nil && *r.GroupID == groupID && r.OwnerID == ownerID && !r.Deleted() {
			out = append(out, r)
		}
	}
	return out, nil
}

func testRecord(id, owner string, group *string) *models.ExpenseRecord {
	on := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	return &models.ExpenseRecord{
		ID:          id,
		OwnerID:     owner,
		GroupID:     group,
		Amount:      decimal.NewFromFloat(42.50),
		Currency:    "EUR",
		Description: "groceries",
		Category:    "food",
		OccurredOn:  on,
		Version:     1,
		UpdatedAt:   on,
		Periods:     periods.Compute(on),
	}
}

func strPtr(s string) *string { return &s }

func TestDetect(t *testing.T) {
	groupA := strPtr("group-a")
	groupB := strPtr("group-b")

	t.Run("no group to no group is ignored", func(t *testing.T) {
		before := testRecord("r1", "u1", nil)
		after := testRecord("r1", "u1", nil)
		after.Description = "changed"
		assert.Empty(t, Detect(before, after))
	})

	t.Run("tagging produces ADDED", func(t *testing.T) {
		actions := Detect(testRecord("r1", "u1", nil), testRecord("r1", "u1", groupA))
		require.Len(t, actions, 1)
		assert.Equal(t, models.ChangeAdded, actions[0].Kind)
		assert.Equal(t, "group-a", actions[0].GroupID)
	})

	t.Run("creation directly into a group produces ADDED", func(t *testing.T) {
		actions := Detect(nil, testRecord("r1", "u1", groupA))
		require.Len(t, actions, 1)
		assert.Equal(t, models.ChangeAdded, actions[0].Kind)
	})

	t.Run("untagging produces REMOVED", func(t *testing.T) {
		actions := Detect(testRecord("r1", "u1", groupA), testRecord("r1", "u1", nil))
		require.Len(t, actions, 1)
		assert.Equal(t, models.ChangeRemoved, actions[0].Kind)
	})

	t.Run("identical payload is a no-op", func(t *testing.T) {
		before := testRecord("r1", "u1", groupA)
		after := testRecord("r1", "u1", groupA)
		after.Version = 2
		after.UpdatedAt = after.UpdatedAt.Add(time.Hour)
		assert.Empty(t, Detect(before, after))
	})

	t.Run("payload change produces MODIFIED", func(t *testing.T) {
		before := testRecord("r1", "u1", groupA)
		after := testRecord("r1", "u1", groupA)
		after.Amount = decimal.NewFromFloat(99.99)
		actions := Detect(before, after)
		require.Len(t, actions, 1)
		assert.Equal(t, models.ChangeModified, actions[0].Kind)
	})

	t.Run("group move produces REMOVED then ADDED", func(t *testing.T) {
		actions := Detect(testRecord("r1", "u1", groupA), testRecord("r1", "u1", groupB))
		require.Len(t, actions, 2)
		assert.Equal(t, models.ChangeRemoved, actions[0].Kind)
		assert.Equal(t, "group-a", actions[0].GroupID)
		assert.Equal(t, models.ChangeAdded, actions[1].Kind)
		assert.Equal(t, "group-b", actions[1].GroupID)
	})

	t.Run("soft delete produces REMOVED", func(t *testing.T) {
		before := testRecord("r1", "u1", groupA)
		after := testRecord("r1", "u1", groupA)
		deletedAt := time.Now()
		after.DeletedAt = &deletedAt
		after.DeletedBy = strPtr("u1")
		actions := Detect(before, after)
		require.Len(t, actions, 1)
		assert.Equal(t, models.ChangeRemoved, actions[0].Kind)
	})

	t.Run("hard delete produces REMOVED", func(t *testing.T) {
		actions := Detect(testRecord("r1", "u1", groupA), nil)
		require.Len(t, actions, 1)
		assert.Equal(t, models.ChangeRemoved, actions[0].Kind)
	})
}

func TestWriterIdempotency(t *testing.T) {
	store := newFakeStore("group-a")
	w := NewWriter(store)
	ctx := context.Background()

	ev := Event{
		ID:      "evt-1",
		ActorID: "u1",
		Before:  nil,
		After:   testRecord("r1", "u1", strPtr("group-a")),
	}

	require.NoError(t, w.Process(ctx, ev))
	require.NoError(t, w.Process(ctx, ev)) // redelivery

	assert.Len(t, store.entries, 1, "redelivery must not produce a second entry")
}

func TestWriterGroupMove(t *testing.T) {
	store := newFakeStore("group-a", "group-b")
	w := NewWriter(store)

	ev := Event{
		ID:      "evt-2",
		ActorID: "u1",
		Before:  testRecord("r1", "u1", strPtr("group-a")),
		After:   testRecord("r1", "u1", strPtr("group-b")),
	}

	require.NoError(t, w.Process(context.Background(), ev))
	require.Len(t, store.entries, 2)

	removed := store.entries[EntryID("evt-2", models.ChangeRemoved)]
	added := store.entries[EntryID("evt-2", models.ChangeAdded)]
	require.NotNil(t, removed)
	require.NotNil(t, added)

	assert.Equal(t, "group-a", removed.GroupID)
	assert.Nil(t, removed.Data, "REMOVED entries carry a summary only")
	assert.Equal(t, "group-b", added.GroupID)
	require.NotNil(t, added.Data)
	assert.Equal(t, removed.ActorID, added.ActorID)
	assert.Equal(t, removed.Timestamp, added.Timestamp)
}

func TestWriterMissingGroupIsSkipped(t *testing.T) {
	store := newFakeStore() // no groups exist
	w := NewWriter(store)

	ev := Event{
		ID:      "evt-3",
		ActorID: "u1",
		After:   testRecord("r1", "u1", strPtr("gone")),
	}

	assert.NoError(t, w.Process(context.Background(), ev), "missing group must not error")
	assert.Empty(t, store.entries)
}

func TestWriterActorMismatchIsSkipped(t *testing.T) {
	store := newFakeStore("group-a")
	w := NewWriter(store)

	ev := Event{
		ID:      "evt-4",
		ActorID: "intruder",
		After:   testRecord("r1", "u1", strPtr("group-a")),
	}

	assert.NoError(t, w.Process(context.Background(), ev))
	assert.Empty(t, store.entries)
}

func TestWriterTransientErrorPropagates(t *testing.T) {
	store := newFakeStore("group-a")
	store.failing = true
	w := NewWriter(store)

	ev := Event{
		ID:      "evt-5",
		ActorID: "u1",
		After:   testRecord("r1", "u1", strPtr("group-a")),
	}

	assert.Error(t, w.Process(context.Background(), ev), "store failures must surface for retry")
}

func TestWriterSanitizesSummary(t *testing.T) {
	store := newFakeStore("group-a")
	w := NewWriter(store)

	record := testRecord("r1", "u1", strPtr("group-a"))
	record.Description = `<script>alert("x")</script>dinner & drinks`

	ev := Event{ID: "evt-6", ActorID: "u1", After: record}
	require.NoError(t, w.Process(context.Background(), ev))

	entry := store.entries[EntryID("evt-6", models.ChangeAdded)]
	require.NotNil(t, entry)
	assert.Equal(t, "dinner & drinks", entry.Summary.Description)
	assert.Equal(t, "dinner & drinks", entry.Data.Description)
}

func TestWriterExpiry(t *testing.T) {
	store := newFakeStore("group-a")
	w := NewWriter(store)
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	ev := Event{ID: "evt-7", ActorID: "u1", After: testRecord("r1", "u1", strPtr("group-a"))}
	require.NoError(t, w.Process(context.Background(), ev))

	entry := store.entries[EntryID("evt-7", models.ChangeAdded)]
	require.NotNil(t, entry)
	assert.Equal(t, fixed.Add(Retention), entry.ExpiresAt)
}

func TestProcessMemberRemoval(t *testing.T) {
	store := newFakeStore("group-a")
	store.records = []models.ExpenseRecord{
		*testRecord("r1", "u1", strPtr("group-a")),
		*testRecord("r2", "u1", strPtr("group-a")),
		*testRecord("r3", "u2", strPtr("group-a")), // someone else's
	}
	w := NewWriter(store)
	ctx := context.Background()

	require.NoError(t, w.ProcessMemberRemoval(ctx, "group-a", "u1"))
	assert.Len(t, store.entries, 2)
	for _, e := range store.entries {
		assert.Equal(t, models.ChangeRemoved, e.Kind)
		assert.Nil(t, e.Data)
	}

	// Retried removal is a no-op.
	require.NoError(t, w.ProcessMemberRemoval(ctx, "group-a", "u1"))
	assert.Len(t, store.entries, 2)
}
