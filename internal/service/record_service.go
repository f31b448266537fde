package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlsson/sharesync/internal/changelog"
	"github.com/mkarlsson/sharesync/internal/errs"
	"github.com/mkarlsson/sharesync/internal/models"
	"github.com/mkarlsson/sharesync/internal/periods"
)

// Record operations. These are the boundary through which the generic
// per-user CRUD hands data to the core: every write builds before and
// after images and dispatches exactly one change event to the
// changelog writer.

func (s *DefaultService) CreateRecord(ctx context.Context, userID string, req models.CreateRecordRequest) (*models.RecordResponse, error) {
	occurredOn, err := parseDate(req.OccurredOn)
	if err != nil {
		return nil, err
	}

	if req.GroupID != nil {
		if err := s.requireContributor(ctx, userID, *req.GroupID); err != nil {
			return nil, err
		}
	}

	record := &models.ExpenseRecord{
		ID:          uuid.New().String(),
		OwnerID:     userID,
		GroupID:     req.GroupID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		Category:    req.Category,
		OccurredOn:  occurredOn,
		Version:     1,
		Periods:     periods.Compute(occurredOn),
	}

	if err := s.repo.CreateRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("error creating record: %w", err)
	}

	s.dispatchChange(ctx, userID, nil, record)

	return &models.RecordResponse{Status: "success", Record: record}, nil
}

func (s *DefaultService) UpdateRecord(ctx context.Context, userID, recordID string, req models.UpdateRecordRequest) (*models.RecordResponse, error) {
	record, err := s.requireOwnedRecord(ctx, userID, recordID)
	if err != nil {
		return nil, err
	}

	occurredOn, err := parseDate(req.OccurredOn)
	if err != nil {
		return nil, err
	}

	if req.GroupID != nil && (record.GroupID == nil || *record.GroupID != *req.GroupID) {
		if err := s.requireContributor(ctx, userID, *req.GroupID); err != nil {
			return nil, err
		}
	}

	before := *record

	record.GroupID = req.GroupID
	record.Amount = req.Amount
	record.Currency = req.Currency
	record.Description = req.Description
	record.Category = req.Category
	record.OccurredOn = occurredOn
	record.Periods = periods.Compute(occurredOn)

	if err := s.repo.UpdateRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("error updating record: %w", err)
	}

	s.dispatchChange(ctx, userID, &before, record)

	return &models.RecordResponse{Status: "success", Record: record}, nil
}

func (s *DefaultService) DeleteRecord(ctx context.Context, userID, recordID string) error {
	record, err := s.requireOwnedRecord(ctx, userID, recordID)
	if err != nil {
		return err
	}

	before := *record
	now := s.now().UTC()

	if err := s.repo.SoftDeleteRecord(ctx, recordID, userID, now); err != nil {
		return fmt.Errorf("error deleting record: %w", err)
	}

	record.DeletedAt = &now
	record.DeletedBy = &userID
	record.Version++

	s.dispatchChange(ctx, userID, &before, record)

	return nil
}

// dispatchChange hands the before/after images to the changelog
// writer with a fresh delivery ID, retrying transient failures a few
// times in place. The writes are idempotent, so retrying is always
// safe; after the attempts are exhausted the failure is logged and the
// record write itself still stands.
func (s *DefaultService) dispatchChange(ctx context.Context, actorID string, before, after *models.ExpenseRecord) {
	ev := changelog.Event{
		ID:      uuid.New().String(),
		ActorID: actorID,
		Before:  before,
		After:   after,
	}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = s.writer.Process(ctx, ev); err == nil {
			return
		}
	}

	slog.Error("changelog dispatch failed after retries", "event", ev.ID, "error", err)
}

// requireOwnedRecord loads a live record and verifies ownership.
func (s *DefaultService) requireOwnedRecord(ctx context.Context, userID, recordID string) (*models.ExpenseRecord, error) {
	if recordID == "" {
		return nil, errs.New(errs.KindInvalidInput, "record id is required")
	}

	record, err := s.repo.GetRecord(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("error getting record: %w", err)
	}
	if record == nil || record.Deleted() {
		return nil, errs.New(errs.KindNotFound, "record not found")
	}
	if record.OwnerID != userID {
		return nil, errs.New(errs.KindPermissionDenied, "you do not own this record")
	}

	return record, nil
}

// requireContributor verifies the user may add expenses to the group.
func (s *DefaultService) requireContributor(ctx context.Context, userID, groupID string) error {
	_, member, err := s.requireMembership(ctx, userID, groupID)
	if err != nil {
		return err
	}
	if member.Role != models.RoleContributor {
		return errs.New(errs.KindPermissionDenied, "viewers cannot add expenses to the group")
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errs.New(errs.KindInvalidInput, "occurredOn must be formatted as YYYY-MM-DD")
	}
	return t, nil
}
