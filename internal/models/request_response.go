package models

import (
	"github.com/shopspring/decimal"
)

// Request models
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type CreateGroupRequest struct {
	Name string `json:"name" binding:"required"`
}

type CreateRecordRequest struct {
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Currency    string          `json:"currency" binding:"required,len=3"`
	Description string          `json:"description" binding:"required"`
	Category    string          `json:"category"`
	OccurredOn  string          `json:"occurredOn" binding:"required"` // 2006-01-02
	GroupID     *string         `json:"groupId"`
}

type UpdateRecordRequest struct {
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Currency    string          `json:"currency" binding:"required,len=3"`
	Description string          `json:"description" binding:"required"`
	Category    string          `json:"category"`
	OccurredOn  string          `json:"occurredOn" binding:"required"`
	GroupID     *string         `json:"groupId"`
}

type TransferOwnershipRequest struct {
	NewOwnerID string `json:"newOwnerId" binding:"required"`
}

type CreateInvitationRequest struct {
	Role string `json:"role" binding:"omitempty,oneof=contributor viewer"`
}

type AcceptInvitationRequest struct {
	// ShareDetails is the one-time join prompt answer. Nil (prompt
	// dismissed or never answered) resolves to false, never true.
	ShareDetails *bool `json:"shareDetails"`
}

// Response models
type AuthResponse struct {
	Status    string `json:"status"`
	UserID    string `json:"userId,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresIn int    `json:"expiresIn,omitempty"`
}

type GroupResponse struct {
	Status string `json:"status"`
	Group  *Group `json:"group,omitempty"`
}

type GroupListResponse struct {
	Status string  `json:"status"`
	Groups []Group `json:"groups"`
}

type RecordResponse struct {
	Status string         `json:"status"`
	Record *ExpenseRecord `json:"record,omitempty"`
}

type ChangesResponse struct {
	Status  string        `json:"status"`
	GroupID string        `json:"groupId"`
	Changes []ChangeEntry `json:"changes"`
	// HasMore signals the caller hit the page limit and should request
	// the next page from the last entry's timestamp and id.
	HasMore bool `json:"hasMore"`
}

type RecordListResponse struct {
	Status  string          `json:"status"`
	Records []ExpenseRecord `json:"records"`
}

type ToggleResponse struct {
	Status  string `json:"status"`
	Enabled bool   `json:"enabled"`
}

type InvitationResponse struct {
	Status     string      `json:"status"`
	Invitation *Invitation `json:"invitation,omitempty"`
	JoinURL    string      `json:"joinUrl,omitempty"`
}

type JoinPreviewResponse struct {
	Status         string `json:"status"`
	GroupName      string `json:"groupName"`
	InviterName    string `json:"inviterName"`
	SharingEnabled bool   `json:"sharingEnabled"`
}

// GroupStats holds the ungated per-category and per-member totals for
// one period bucket. Totals always include every member's contribution
// regardless of either visibility gate.
type GroupStats struct {
	Period     string                     `json:"period"`
	Total      decimal.Decimal            `json:"total"`
	ByCategory map[string]decimal.Decimal `json:"byCategory"`
	ByMember   map[string]decimal.Decimal `json:"byMember"`
}

type StatsResponse struct {
	Status string      `json:"status"`
	Stats  *GroupStats `json:"stats,omitempty"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	// WaitSeconds is the remaining cooldown for COOLDOWN rejections.
	WaitSeconds int64 `json:"waitSeconds,omitempty"`
}
