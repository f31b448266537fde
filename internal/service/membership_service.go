package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mkarlsson/sharesync/internal/errs"
	"github.com/mkarlsson/sharesync/internal/metrics"
	"github.com/mkarlsson/sharesync/internal/models"
)

// Membership lifecycle operations.
//
// Leave and delete both fan out into cascade steps that are each
// idempotent (delete-if-exists, insert-if-absent), so a retried call
// against a half-cleaned group completes as a no-op. Cascade steps run
// best-effort outside the final atomic step; a failed step is logged
// and skipped, never surfaced.

func (s *DefaultService) LeaveGroup(ctx context.Context, userID, groupID string) error {
	group, _, err := s.requireMembership(ctx, userID, groupID)
	if err != nil {
		return err
	}

	if group.OwnerID == userID {
		members, err := s.repo.GetMembers(ctx, groupID)
		if err != nil {
			return fmt.Errorf("error listing members: %w", err)
		}

		if len(members) > 1 {
			return errs.New(errs.KindPermissionDenied,
				"the owner cannot leave the group: transfer ownership first")
		}

		// Sole remaining member: leaving dissolves the group.
		return s.deleteGroupCascade(ctx, group)
	}

	if err := s.repo.RemoveMember(ctx, groupID, userID); err != nil {
		return fmt.Errorf("error removing member: %w", err)
	}

	// The departing user's records keep their group reference so
	// history stays traceable; the cascade entries below evict them
	// from other members' caches.
	if err := s.writer.ProcessMemberRemoval(ctx, groupID, userID); err != nil {
		slog.Error("leave cascade: changelog entries failed",
			"group", groupID, "user", userID, "error", err)
		metrics.CascadeStepFailures.WithLabelValues("leave_changelog").Inc()
	}

	if err := s.repo.DeletePreference(ctx, userID, groupID); err != nil {
		slog.Error("leave cascade: preference delete failed",
			"group", groupID, "user", userID, "error", err)
		metrics.CascadeStepFailures.WithLabelValues("leave_preference").Inc()
	}

	return nil
}

func (s *DefaultService) TransferOwnership(ctx context.Context, userID, groupID string, req models.TransferOwnershipRequest) error {
	group, err := s.requireGroup(ctx, groupID)
	if err != nil {
		return err
	}

	if group.OwnerID != userID {
		return errs.New(errs.KindPermissionDenied, "only the group owner can transfer ownership")
	}
	if req.NewOwnerID == userID {
		return errs.New(errs.KindInvalidInput, "cannot transfer ownership to yourself")
	}

	newOwner, err := s.repo.GetMember(ctx, groupID, req.NewOwnerID)
	if err != nil {
		return fmt.Errorf("error checking new owner membership: %w", err)
	}
	if newOwner == nil {
		return errs.New(errs.KindInvalidInput, "new owner must be a group member")
	}

	// Conditional on the current owner; a concurrent transfer that
	// committed first makes this one a conflict, not a silent
	// lost update. Cooldown state on the group is preserved.
	applied, err := s.repo.TransferOwnership(ctx, groupID, userID, req.NewOwnerID)
	if err != nil {
		return fmt.Errorf("error transferring ownership: %w", err)
	}
	if !applied {
		return errs.New(errs.KindAlreadyProcessed, "group ownership changed concurrently")
	}

	return nil
}

func (s *DefaultService) DeleteGroup(ctx context.Context, userID, groupID string) error {
	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("error getting group: %w", err)
	}
	if group == nil {
		// Already deleted: a retried delete completes as a no-op.
		return nil
	}

	if group.OwnerID != userID {
		return errs.New(errs.KindPermissionDenied, "only the group owner can delete the group")
	}

	return s.deleteGroupCascade(ctx, group)
}

// deleteGroupCascade runs the best-effort cleanup pass and then the
// final atomic group delete. The cascade may touch more rows than one
// transaction can safely hold, so it runs outside it; every step is
// idempotent, which is what makes a retry after partial failure safe.
func (s *DefaultService) deleteGroupCascade(ctx context.Context, group *models.Group) error {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"clear_record_refs", func(ctx context.Context) error {
			return s.repo.ClearGroupRefs(ctx, group.ID)
		}},
		{"delete_changes", func(ctx context.Context) error {
			return s.repo.DeleteGroupChanges(ctx, group.ID)
		}},
		{"delete_preferences", func(ctx context.Context) error {
			return s.repo.DeleteGroupPreferences(ctx, group.ID)
		}},
		{"delete_invitations", func(ctx context.Context) error {
			return s.repo.DeleteGroupInvitations(ctx, group.ID)
		}},
	}

	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			slog.Error("delete cascade step failed, continuing",
				"group", group.ID, "step", step.name, "error", err)
			metrics.CascadeStepFailures.WithLabelValues(step.name).Inc()
		}
	}

	// Final atomic step: delete only if the group still exists.
	// Membership rows go with it via the FK cascade.
	deleted, err := s.repo.DeleteGroupRow(ctx, group.ID)
	if err != nil {
		return fmt.Errorf("error deleting group: %w", err)
	}
	if !deleted {
		slog.Info("group already deleted by a concurrent call", "group", group.ID)
	}

	return nil
}
