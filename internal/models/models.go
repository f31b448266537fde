package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mkarlsson/sharesync/internal/periods"
)

// User represents a user in the system
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	Password  string    `db:"password" json:"-"` // Password hash, not returned in JSON
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// ExpenseRecord is a user-owned expense entry. A record tagged with a
// group (GroupID non-nil) is shared with that group; a nil GroupID
// means the record is private and produces no changelog traffic.
type ExpenseRecord struct {
	ID          string          `db:"id" json:"id"`
	OwnerID     string          `db:"owner_id" json:"ownerId"`
	GroupID     *string         `db:"group_id" json:"groupId,omitempty"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Currency    string          `db:"currency" json:"currency"`
	Description string          `db:"description" json:"description"`
	Category    string          `db:"category" json:"category"`
	OccurredOn  time.Time       `db:"occurred_on" json:"occurredOn"`

	// Version starts at 1 and increments on every mutation, including
	// soft deletion. It never decreases.
	Version   int64     `db:"version" json:"version"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	// Soft-delete markers. A soft-deleted record is excluded from
	// active queries but stays addressable for changelog purposes.
	DeletedAt *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	DeletedBy *string    `db:"deleted_by" json:"deletedBy,omitempty"`

	// Embedded period labels, recomputed from OccurredOn on every
	// write. Embedding lets sqlx map the five period_* columns flat.
	periods.Periods `json:"periods"`
}

// Deleted reports whether the record carries a soft-delete marker.
func (r *ExpenseRecord) Deleted() bool {
	return r.DeletedAt != nil
}

// Member roles. Contributors add expenses; viewers only observe.
// The two tiers are capacity-bounded independently.
const (
	RoleContributor = "contributor"
	RoleViewer      = "viewer"

	MaxContributors = 6
	MaxViewers      = 20
)

// Group is a shared expense group.
type Group struct {
	ID      string `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	OwnerID string `db:"owner_id" json:"ownerId"`

	// SharingEnabled is the group-level visibility gate, owner-toggled.
	SharingEnabled     bool       `db:"sharing_enabled" json:"sharingEnabled"`
	LastToggleAt       *time.Time `db:"last_toggle_at" json:"-"`
	ToggleCountToday   int        `db:"toggle_count_today" json:"-"`
	ToggleCountResetAt *time.Time `db:"toggle_count_reset_at" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// GroupMember links a user to a group with a role.
type GroupMember struct {
	GroupID  string    `db:"group_id" json:"groupId"`
	UserID   string    `db:"user_id" json:"userId"`
	Role     string    `db:"role" json:"role"`
	JoinedAt time.Time `db:"joined_at" json:"joinedAt"`
}

// ChangeKind describes the state transition a changelog entry records.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "ADDED"
	ChangeModified ChangeKind = "MODIFIED"
	ChangeRemoved  ChangeKind = "REMOVED"
)

// RecordPayload is the full embedded copy of a record carried by ADDED
// and MODIFIED changelog entries, stored as JSON.
type RecordPayload struct {
	RecordID    string          `json:"recordId"`
	OwnerID     string          `json:"ownerId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	OccurredOn  time.Time       `json:"occurredOn"`
	Version     int64           `json:"version"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Periods     periods.Periods `json:"periods"`
}

// Value implements driver.Valuer for JSON column storage.
func (p RecordPayload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSON column storage.
func (p *RecordPayload) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// ChangeSummary is the notification-safe subset of a record, carried
// by every changelog entry including REMOVED. Text fields are
// sanitized before persisting because they render directly in
// notifications.
type ChangeSummary struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
}

// Value implements driver.Valuer for JSON column storage.
func (s ChangeSummary) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSON column storage.
func (s *ChangeSummary) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// ChangeEntry is one immutable, append-only changelog entry scoped to
// a group. Entries are created only by the changelog writer and the
// membership cascade, and removed only by the retention sweeper.
type ChangeEntry struct {
	// ID is derived deterministically from the triggering event so
	// that redelivery inserts are no-ops.
	ID        string         `db:"id" json:"id"`
	GroupID   string         `db:"group_id" json:"groupId"`
	Kind      ChangeKind     `db:"kind" json:"kind"`
	RecordID  string         `db:"record_id" json:"recordId"`
	ActorID   string         `db:"actor_id" json:"actorId"`
	Timestamp time.Time      `db:"ts" json:"timestamp"`
	Data      *RecordPayload `db:"data" json:"data,omitempty"`
	Summary   ChangeSummary  `db:"summary" json:"summary"`
	ExpiresAt time.Time      `db:"expires_at" json:"expiresAt"`
}

// SharePreference is one (user, group) entry of a user's sharing
// preferences. A missing row means all defaults: ShareDetails false.
type SharePreference struct {
	UserID             string     `db:"user_id" json:"userId"`
	GroupID            string     `db:"group_id" json:"groupId"`
	ShareDetails       bool       `db:"share_details" json:"shareDetails"`
	LastToggleAt       *time.Time `db:"last_toggle_at" json:"-"`
	ToggleCountToday   int        `db:"toggle_count_today" json:"-"`
	ToggleCountResetAt *time.Time `db:"toggle_count_reset_at" json:"-"`
}

// Invitation statuses. Transitions are one-way into a terminal state;
// expiry is applied lazily on access, not by a background job.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
	InvitationExpired  = "expired"
)

// InvitationTTL is how long an invitation code stays redeemable.
const InvitationTTL = 7 * 24 * time.Hour

// Invitation is an ephemeral join offer identified by a URL-safe code.
type Invitation struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	GroupID   string    `db:"group_id" json:"groupId"`
	InviterID string    `db:"inviter_id" json:"inviterId"`
	Role      string    `db:"role" json:"role"`
	Status    string    `db:"status" json:"status"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}
