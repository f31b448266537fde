package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/google/uuid"

	"github.com/mkarlsson/sharesync/internal/errs"
	"github.com/mkarlsson/sharesync/internal/models"
	"github.com/mkarlsson/sharesync/internal/repository"
)

const (
	// inviteCodeBytes yields a 24-character URL-safe code, above the
	// 16-character minimum enforced on lookup.
	inviteCodeBytes  = 18
	minInviteCodeLen = 16
)

var inviteCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// CreateInvitation issues a join code for the group. Any member may
// invite; the role defaults to contributor.
func (s *DefaultService) CreateInvitation(ctx context.Context, userID, groupID string, req models.CreateInvitationRequest) (*models.InvitationResponse, error) {
	if _, _, err := s.requireMembership(ctx, userID, groupID); err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = models.RoleContributor
	}

	code, err := newInviteCode()
	if err != nil {
		return nil, fmt.Errorf("error generating invite code: %w", err)
	}

	inv := &models.Invitation{
		ID:        uuid.New().String(),
		Code:      code,
		GroupID:   groupID,
		InviterID: userID,
		Role:      role,
		Status:    models.InvitationPending,
		CreatedAt: s.now().UTC(),
	}
	inv.ExpiresAt = inv.CreatedAt.Add(models.InvitationTTL)

	if err := s.repo.CreateInvitation(ctx, inv); err != nil {
		return nil, fmt.Errorf("error creating invitation: %w", err)
	}

	return &models.InvitationResponse{
		Status:     "success",
		Invitation: inv,
		JoinURL:    s.baseURL + "/join/" + inv.Code,
	}, nil
}

// PreviewInvitation resolves a join code to the group preview shown
// before accepting.
func (s *DefaultService) PreviewInvitation(ctx context.Context, code string) (*models.JoinPreviewResponse, error) {
	inv, err := s.resolveInvitation(ctx, code)
	if err != nil {
		return nil, err
	}

	group, err := s.requireGroup(ctx, inv.GroupID)
	if err != nil {
		return nil, err
	}

	inviter, err := s.repo.GetUserByID(ctx, inv.InviterID)
	if err != nil {
		return nil, fmt.Errorf("error getting inviter: %w", err)
	}

	preview := &models.JoinPreviewResponse{
		Status:         "success",
		GroupName:      group.Name,
		SharingEnabled: group.SharingEnabled,
	}
	if inviter != nil {
		preview.InviterName = inviter.Name
	}

	return preview, nil
}

// AcceptInvitation consumes a pending code and joins the caller to the
// group. The join prompt's answer arrives as req.ShareDetails; nil and
// false both resolve to share_details=false, so joining never silently
// opens the user's detail gate.
func (s *DefaultService) AcceptInvitation(ctx context.Context, userID, code string, req models.AcceptInvitationRequest) (*models.GroupResponse, error) {
	inv, err := s.resolveInvitation(ctx, code)
	if err != nil {
		return nil, err
	}

	group, err := s.requireGroup(ctx, inv.GroupID)
	if err != nil {
		return nil, err
	}

	// Consume the code before touching membership. The conditional
	// status transition admits exactly one winner, so two users racing
	// on the same code cannot both get added; the loser never joins.
	applied, err := s.repo.UpdateInvitationStatus(ctx, inv.ID, models.InvitationPending, models.InvitationAccepted)
	if err != nil {
		return nil, fmt.Errorf("error consuming invitation: %w", err)
	}
	if !applied {
		return nil, errs.New(errs.KindAlreadyProcessed, "invitation was already used")
	}

	member := &models.GroupMember{
		GroupID: inv.GroupID,
		UserID:  userID,
		Role:    inv.Role,
	}
	if err := s.repo.AddMember(ctx, member); err != nil {
		// Hand the code back so a failed join does not burn it.
		if _, revertErr := s.repo.UpdateInvitationStatus(ctx, inv.ID,
			models.InvitationAccepted, models.InvitationPending); revertErr != nil {
			slog.Warn("could not release invitation after failed join",
				"invitation", inv.ID, "error", revertErr)
		}
		if errors.Is(err, repository.ErrCapacity) {
			return nil, errs.Wrap(errs.KindCapacity, err, "cannot join group")
		}
		return nil, fmt.Errorf("error adding member: %w", err)
	}

	if group.SharingEnabled && req.ShareDetails != nil && *req.ShareDetails {
		// An explicit opt-in at join time is an initial preference
		// write, not a toggle: no cooldown bookkeeping starts here.
		pref := &models.SharePreference{
			UserID:       userID,
			GroupID:      inv.GroupID,
			ShareDetails: true,
		}
		if err := s.repo.UpsertPreference(ctx, pref); err != nil {
			return nil, fmt.Errorf("error saving join preference: %w", err)
		}
	}

	return &models.GroupResponse{Status: "success", Group: group}, nil
}

func (s *DefaultService) DeclineInvitation(ctx context.Context, userID, code string) error {
	inv, err := s.resolveInvitation(ctx, code)
	if err != nil {
		return err
	}

	applied, err := s.repo.UpdateInvitationStatus(ctx, inv.ID, models.InvitationPending, models.InvitationDeclined)
	if err != nil {
		return fmt.Errorf("error declining invitation: %w", err)
	}
	if !applied {
		return errs.New(errs.KindAlreadyProcessed, "invitation was already used")
	}

	return nil
}

// resolveInvitation validates a code's shape, looks it up and applies
// lazy expiry. Invalid, missing, expired and consumed codes each get
// their own error kind so the user sees an accurate message.
func (s *DefaultService) resolveInvitation(ctx context.Context, code string) (*models.Invitation, error) {
	if len(code) < minInviteCodeLen || !inviteCodePattern.MatchString(code) {
		return nil, errs.New(errs.KindInvalidInput, "malformed invitation code")
	}

	inv, err := s.repo.GetInvitationByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("error getting invitation: %w", err)
	}
	if inv == nil {
		return nil, errs.New(errs.KindNotFound, "invitation not found")
	}

	switch inv.Status {
	case models.InvitationExpired:
		return nil, errs.New(errs.KindExpired, "invitation has expired")
	case models.InvitationAccepted, models.InvitationDeclined:
		return nil, errs.New(errs.KindAlreadyProcessed, "invitation was already used")
	}

	if s.now().UTC().After(inv.ExpiresAt) {
		// Expiry is lazy: the first access past the deadline marks the
		// terminal state instead of a background job.
		if _, err := s.repo.UpdateInvitationStatus(ctx, inv.ID, models.InvitationPending, models.InvitationExpired); err != nil {
			return nil, fmt.Errorf("error expiring invitation: %w", err)
		}
		return nil, errs.New(errs.KindExpired, "invitation has expired")
	}

	return inv, nil
}

func newInviteCode() (string, error) {
	buf := make([]byte, inviteCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
