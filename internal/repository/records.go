package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlsson/sharesync/internal/models"
)

// Record repository methods
func (r *PostgresRepository) CreateRecord(ctx context.Context, record *models.ExpenseRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Version == 0 {
		record.Version = 1
	}
	record.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO expense_records (id, owner_id, group_id, amount, currency,
			description, category, occurred_on, version, updated_at,
			deleted_at, deleted_by,
			period_day, period_week, period_month, period_quarter, period_year)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, record.ID, record.OwnerID, record.GroupID, record.Amount, record.Currency,
		record.Description, record.Category, record.OccurredOn, record.Version,
		record.UpdatedAt, record.DeletedAt, record.DeletedBy,
		record.Day, record.Week, record.Month, record.Quarter, record.Year)

	return err
}

func (r *PostgresRepository) UpdateRecord(ctx context.Context, record *models.ExpenseRecord) error {
	record.Version++
	record.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		UPDATE expense_records
		SET group_id = $1, amount = $2, currency = $3, description = $4,
			category = $5, occurred_on = $6, version = $7, updated_at = $8,
			period_day = $9, period_week = $10, period_month = $11,
			period_quarter = $12, period_year = $13
		WHERE id = $14
	`, record.GroupID, record.Amount, record.Currency, record.Description,
		record.Category, record.OccurredOn, record.Version, record.UpdatedAt,
		record.Day, record.Week, record.Month, record.Quarter, record.Year,
		record.ID)

	return err
}

func (r *PostgresRepository) SoftDeleteRecord(ctx context.Context, recordID, deletedBy string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE expense_records
		SET deleted_at = $1, deleted_by = $2, version = version + 1, updated_at = $1
		WHERE id = $3 AND deleted_at IS NULL
	`, at.UTC(), deletedBy, recordID)
	return err
}

func (r *PostgresRepository) GetRecord(ctx context.Context, recordID string) (*models.ExpenseRecord, error) {
	// Soft-deleted records stay addressable here; active queries below
	// exclude them.
	var record models.ExpenseRecord
	err := r.db.GetContext(ctx, &record,
		`SELECT * FROM expense_records WHERE id = $1`, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Record not found
		}
		return nil, err
	}
	return &record, nil
}

func (r *PostgresRepository) ListActiveGroupRecords(ctx context.Context, groupID string) ([]models.ExpenseRecord, error) {
	var records []models.ExpenseRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM expense_records
		WHERE group_id = $1 AND deleted_at IS NULL
		ORDER BY occurred_on, id
	`, groupID)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *PostgresRepository) ActiveGroupRecordsByOwner(ctx context.Context, groupID, ownerID string) ([]models.ExpenseRecord, error) {
	var records []models.ExpenseRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM expense_records
		WHERE group_id = $1 AND owner_id = $2 AND deleted_at IS NULL
		ORDER BY occurred_on, id
	`, groupID, ownerID)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *PostgresRepository) ClearGroupRefs(ctx context.Context, groupID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE expense_records SET group_id = NULL, updated_at = $1
		WHERE group_id = $2
	`, time.Now().UTC(), groupID)
	return err
}
