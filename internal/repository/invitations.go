package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlsson/sharesync/internal/models"
)

// Invitation repository methods
func (r *PostgresRepository) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	if inv.ExpiresAt.IsZero() {
		inv.ExpiresAt = inv.CreatedAt.Add(models.InvitationTTL)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invitations (id, code, group_id, inviter_id, role, status,
			expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, inv.ID, inv.Code, inv.GroupID, inv.InviterID, inv.Role, inv.Status,
		inv.ExpiresAt, inv.CreatedAt)

	return err
}

func (r *PostgresRepository) GetInvitationByCode(ctx context.Context, code string) (*models.Invitation, error) {
	var inv models.Invitation
	err := r.db.GetContext(ctx, &inv,
		`SELECT * FROM invitations WHERE code = $1`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Invitation not found
		}
		return nil, err
	}
	return &inv, nil
}

func (r *PostgresRepository) UpdateInvitationStatus(ctx context.Context, id, from, to string) (bool, error) {
	// Conditional on the current status: transitions are one-way, and
	// two racing accepts resolve to exactly one winner.
	res, err := r.db.ExecContext(ctx, `
		UPDATE invitations SET status = $1 WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepository) DeleteGroupInvitations(ctx context.Context, groupID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE group_id = $1`, groupID)
	return err
}
