package changelog

import (
	"github.com/mkarlsson/sharesync/internal/models"
)

// Action is one changelog entry to be produced for a record write.
// A move between groups produces two actions.
type Action struct {
	Kind    models.ChangeKind
	GroupID string
}

// Detect maps a record's before/after images to the changelog actions
// they imply. Either image may be nil (creation, hard deletion).
// Writes that never touch a group produce no actions.
func Detect(before, after *models.ExpenseRecord) []Action {
	beforeGroup := activeGroup(before)
	afterGroup := activeGroup(after)

	switch {
	case beforeGroup == "" && afterGroup == "":
		return nil

	case beforeGroup == "":
		return []Action{{Kind: models.ChangeAdded, GroupID: afterGroup}}

	case afterGroup == "":
		return []Action{{Kind: models.ChangeRemoved, GroupID: beforeGroup}}

	case beforeGroup != afterGroup:
		return []Action{
			{Kind: models.ChangeRemoved, GroupID: beforeGroup},
			{Kind: models.ChangeAdded, GroupID: afterGroup},
		}

	case samePayload(before, after):
		return nil

	default:
		return []Action{{Kind: models.ChangeModified, GroupID: beforeGroup}}
	}
}

// activeGroup returns the group a record image is visible in:
// empty for a nil image, an untagged record, or a soft-deleted one.
func activeGroup(r *models.ExpenseRecord) string {
	if r == nil || r.GroupID == nil || r.Deleted() {
		return ""
	}
	return *r.GroupID
}

// samePayload compares the user-visible payload of two images.
// Version, updatedAt and the derived period labels are excluded so a
// bookkeeping-only write does not fan out as MODIFIED.
func samePayload(a, b *models.ExpenseRecord) bool {
	return a.Amount.Equal(b.Amount) &&
		a.Currency == b.Currency &&
		a.Description == b.Description &&
		a.Category == b.Category &&
		a.OccurredOn.Equal(b.OccurredOn)
}
