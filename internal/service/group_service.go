package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlsson/sharesync/internal/errs"
	"github.com/mkarlsson/sharesync/internal/metrics"
	"github.com/mkarlsson/sharesync/internal/models"
	"github.com/mkarlsson/sharesync/internal/visibility"
)

// Group operations
func (s *DefaultService) CreateGroup(ctx context.Context, userID string, req models.CreateGroupRequest) (*models.GroupResponse, error) {
	group := &models.Group{
		ID:      uuid.New().String(),
		Name:    req.Name,
		OwnerID: userID,
		// Sharing defaults closed; the owner opts in explicitly.
		SharingEnabled: false,
	}

	if err := s.repo.CreateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("error creating group: %w", err)
	}

	return &models.GroupResponse{Status: "success", Group: group}, nil
}

func (s *DefaultService) GetUserGroups(ctx context.Context, userID string) (*models.GroupListResponse, error) {
	groups, err := s.repo.GetUserGroups(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting user groups: %w", err)
	}

	return &models.GroupListResponse{Status: "success", Groups: groups}, nil
}

func (s *DefaultService) GetGroup(ctx context.Context, userID, groupID string) (*models.GroupResponse, error) {
	group, _, err := s.requireMembership(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}

	return &models.GroupResponse{Status: "success", Group: group}, nil
}

// ToggleGroupSharing flips the group-level visibility gate. Owner-only,
// rate-limited by the group cooldown and the daily cap.
func (s *DefaultService) ToggleGroupSharing(ctx context.Context, userID, groupID string) (*models.ToggleResponse, error) {
	group, err := s.requireGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if group.OwnerID != userID {
		return nil, errs.New(errs.KindPermissionDenied, "only the group owner can toggle sharing")
	}

	state := visibility.ToggleState{
		LastToggleAt:     group.LastToggleAt,
		ToggleCountToday: group.ToggleCountToday,
		CountResetAt:     group.ToggleCountResetAt,
	}

	now := s.now().UTC()
	if err := s.checkToggle(state, now, visibility.GroupCooldown); err != nil {
		return nil, err
	}

	next := visibility.ApplyToggle(state, now, s.loc)
	enabled := !group.SharingEnabled

	update := *group
	update.LastToggleAt = next.LastToggleAt
	update.ToggleCountToday = next.ToggleCountToday
	update.ToggleCountResetAt = next.CountResetAt

	applied, err := s.repo.UpdateGroupSharing(ctx, groupID, enabled, group.LastToggleAt, update)
	if err != nil {
		return nil, fmt.Errorf("error updating group sharing: %w", err)
	}
	if !applied {
		// Another toggle landed between our read and write; it just
		// started the cooldown.
		metrics.TogglesRejected.WithLabelValues(string(visibility.ReasonCooldown)).Inc()
		return nil, errs.Cooldown(visibility.GroupCooldown)
	}

	return &models.ToggleResponse{Status: "success", Enabled: enabled}, nil
}

// ToggleSharePreference flips the caller's own share_details preference
// for the group. Member-only, rate-limited by the preference cooldown
// and the daily cap.
func (s *DefaultService) ToggleSharePreference(ctx context.Context, userID, groupID string) (*models.ToggleResponse, error) {
	if _, _, err := s.requireMembership(ctx, userID, groupID); err != nil {
		return nil, err
	}

	pref, err := s.repo.GetPreference(ctx, userID, groupID)
	if err != nil {
		return nil, fmt.Errorf("error getting preference: %w", err)
	}
	if pref == nil {
		// No explicit preference yet: defaults, share_details false.
		pref = &models.SharePreference{UserID: userID, GroupID: groupID}
	}

	state := visibility.ToggleState{
		LastToggleAt:     pref.LastToggleAt,
		ToggleCountToday: pref.ToggleCountToday,
		CountResetAt:     pref.ToggleCountResetAt,
	}

	now := s.now().UTC()
	if err := s.checkToggle(state, now, visibility.PreferenceCooldown); err != nil {
		return nil, err
	}

	prev := pref.LastToggleAt

	next := visibility.ApplyToggle(state, now, s.loc)
	pref.ShareDetails = !pref.ShareDetails
	pref.LastToggleAt = next.LastToggleAt
	pref.ToggleCountToday = next.ToggleCountToday
	pref.ToggleCountResetAt = next.CountResetAt

	applied, err := s.repo.ApplyPreferenceToggle(ctx, pref, prev)
	if err != nil {
		return nil, fmt.Errorf("error saving preference: %w", err)
	}
	if !applied {
		metrics.TogglesRejected.WithLabelValues(string(visibility.ReasonCooldown)).Inc()
		return nil, errs.Cooldown(visibility.PreferenceCooldown)
	}

	return &models.ToggleResponse{Status: "success", Enabled: pref.ShareDetails}, nil
}

// GetStats returns the period's totals. Statistics are part of
// membership and are never filtered by either visibility gate.
func (s *DefaultService) GetStats(ctx context.Context, userID, groupID, period string) (*models.StatsResponse, error) {
	if _, _, err := s.requireMembership(ctx, userID, groupID); err != nil {
		return nil, err
	}

	stats, err := s.repo.GroupStats(ctx, groupID, period)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, err, "invalid stats query")
	}

	return &models.StatsResponse{Status: "success", Stats: stats}, nil
}

// checkToggle converts a cooldown decision into a structured error.
func (s *DefaultService) checkToggle(state visibility.ToggleState, now time.Time, cooldown time.Duration) error {
	decision := visibility.CanToggle(state, now, cooldown)
	if decision.Allowed {
		return nil
	}

	metrics.TogglesRejected.WithLabelValues(string(decision.Reason)).Inc()
	if decision.Reason == visibility.ReasonCooldown {
		return errs.Cooldown(decision.Wait)
	}
	return errs.New(errs.KindDailyLimit,
		"daily toggle limit of %d reached, resets at local midnight", visibility.DailyToggleLimit)
}

// requireGroup loads the group or returns NOT_FOUND.
func (s *DefaultService) requireGroup(ctx context.Context, groupID string) (*models.Group, error) {
	if groupID == "" {
		return nil, errs.New(errs.KindInvalidInput, "group id is required")
	}

	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("error getting group: %w", err)
	}
	if group == nil {
		return nil, errs.New(errs.KindNotFound, "group not found")
	}
	return group, nil
}

// requireMembership loads the group and verifies the caller belongs to
// it.
func (s *DefaultService) requireMembership(ctx context.Context, userID, groupID string) (*models.Group, *models.GroupMember, error) {
	group, err := s.requireGroup(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}

	member, err := s.repo.GetMember(ctx, groupID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("error checking membership: %w", err)
	}
	if member == nil {
		return nil, nil, errs.New(errs.KindPermissionDenied, "you are not a member of this group")
	}

	return group, member, nil
}
