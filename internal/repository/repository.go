package repository

import (
	"context"
	"time"

	"github.com/mkarlsson/sharesync/internal/models"
)

// Repository interface defines the methods that any repository implementation must satisfy
type Repository interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// Group operations
	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	GetUserGroups(ctx context.Context, userID string) ([]models.Group, error)
	GroupExists(ctx context.Context, groupID string) (bool, error)
	// UpdateGroupSharing flips the gate and writes the cooldown state
	// in one statement, conditional on the last toggle time the caller
	// observed so two concurrent toggles cannot both land. It reports
	// whether the write applied.
	UpdateGroupSharing(ctx context.Context, groupID string, enabled bool, prev *time.Time, state models.Group) (bool, error)
	// TransferOwnership conditionally reassigns the owner, keyed on the
	// current owner so two concurrent transfers cannot both win. It
	// reports whether the row was updated. Cooldown fields are left
	// untouched.
	TransferOwnership(ctx context.Context, groupID, currentOwnerID, newOwnerID string) (bool, error)
	// DeleteGroupRow removes the group document itself, re-validating
	// existence atomically. It reports whether a row was deleted.
	DeleteGroupRow(ctx context.Context, groupID string) (bool, error)

	// Membership operations
	AddMember(ctx context.Context, member *models.GroupMember) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	GetMembers(ctx context.Context, groupID string) ([]models.GroupMember, error)
	GetMember(ctx context.Context, groupID, userID string) (*models.GroupMember, error)

	// Record operations
	CreateRecord(ctx context.Context, record *models.ExpenseRecord) error
	UpdateRecord(ctx context.Context, record *models.ExpenseRecord) error
	SoftDeleteRecord(ctx context.Context, recordID, deletedBy string, at time.Time) error
	// GetRecord returns the record regardless of soft-delete state.
	GetRecord(ctx context.Context, recordID string) (*models.ExpenseRecord, error)
	ListActiveGroupRecords(ctx context.Context, groupID string) ([]models.ExpenseRecord, error)
	ActiveGroupRecordsByOwner(ctx context.Context, groupID, ownerID string) ([]models.ExpenseRecord, error)
	// ClearGroupRefs nulls group_id on every record still tagged to the
	// group (deletion cascade step, idempotent).
	ClearGroupRefs(ctx context.Context, groupID string) error

	// Changelog operations
	InsertChangeEntry(ctx context.Context, entry *models.ChangeEntry) (bool, error)
	// ListChanges returns entries strictly after the (since, sinceID)
	// cursor in (ts, id) order, at most limit of them. The id breaks
	// timestamp ties across page boundaries.
	ListChanges(ctx context.Context, groupID string, since time.Time, sinceID string, limit int) ([]models.ChangeEntry, error)
	DeleteGroupChanges(ctx context.Context, groupID string) error
	// DeleteExpiredEntries is the retention sweep; it reports how many
	// entries it removed.
	DeleteExpiredEntries(ctx context.Context, now time.Time) (int64, error)

	// Sharing preference operations
	GetPreference(ctx context.Context, userID, groupID string) (*models.SharePreference, error)
	UpsertPreference(ctx context.Context, pref *models.SharePreference) error
	// ApplyPreferenceToggle writes a toggled preference conditional on
	// the last toggle time the caller observed, reporting whether the
	// write applied. Rate-limited toggles go through this; the plain
	// upsert is for initial preference writes.
	ApplyPreferenceToggle(ctx context.Context, pref *models.SharePreference, prev *time.Time) (bool, error)
	DeletePreference(ctx context.Context, userID, groupID string) error
	DeleteGroupPreferences(ctx context.Context, groupID string) error

	// Invitation operations
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	GetInvitationByCode(ctx context.Context, code string) (*models.Invitation, error)
	// UpdateInvitationStatus moves status from -> to and reports
	// whether the transition applied, making transitions one-way.
	UpdateInvitationStatus(ctx context.Context, id, from, to string) (bool, error)
	DeleteGroupInvitations(ctx context.Context, groupID string) error

	// Statistics
	GroupStats(ctx context.Context, groupID, period string) (*models.GroupStats, error)
}
