package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mkarlsson/sharesync/internal/models"
)

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// GetDB returns the underlying database connection
func (r *PostgresRepository) GetDB() *sqlx.DB {
	return r.db
}

// User repository methods
func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.Password, user.CreatedAt, user.UpdatedAt)

	return err
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT * FROM users WHERE email = $1`

	var user models.User
	err := r.db.GetContext(ctx, &user, query, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, err
	}

	return &user, nil
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT * FROM users WHERE id = $1`

	var user models.User
	err := r.db.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, err
	}

	return &user, nil
}

// Group repository methods
func (r *PostgresRepository) CreateGroup(ctx context.Context, group *models.Group) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if group.ID == "" {
		group.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	group.CreatedAt = now
	group.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO expense_groups (id, name, owner_id, sharing_enabled,
			last_toggle_at, toggle_count_today, toggle_count_reset_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, group.ID, group.Name, group.OwnerID, group.SharingEnabled,
		group.LastToggleAt, group.ToggleCountToday, group.ToggleCountResetAt,
		group.CreatedAt, group.UpdatedAt)
	if err != nil {
		return err
	}

	// The owner is always a member, as a contributor.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`, group.ID, group.OwnerID, models.RoleContributor, now)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PostgresRepository) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	query := `SELECT * FROM expense_groups WHERE id = $1`

	var group models.Group
	err := r.db.GetContext(ctx, &group, query, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Group not found
		}
		return nil, err
	}

	return &group, nil
}

func (r *PostgresRepository) GetUserGroups(ctx context.Context, userID string) ([]models.Group, error) {
	query := `
		SELECT g.* FROM expense_groups g
		JOIN group_members gm ON g.id = gm.group_id
		WHERE gm.user_id = $1
	`

	var groups []models.Group
	err := r.db.SelectContext(ctx, &groups, query, userID)
	if err != nil {
		return nil, err
	}

	return groups, nil
}

func (r *PostgresRepository) GroupExists(ctx context.Context, groupID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM expense_groups WHERE id = $1)`, groupID).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) UpdateGroupSharing(ctx context.Context, groupID string, enabled bool, prev *time.Time, state models.Group) (bool, error) {
	// Keyed on the last toggle time the caller read, so of two toggles
	// racing past the cooldown check only one lands.
	res, err := r.db.ExecContext(ctx, `
		UPDATE expense_groups
		SET sharing_enabled = $1, last_toggle_at = $2, toggle_count_today = $3,
			toggle_count_reset_at = $4, updated_at = $5
		WHERE id = $6 AND last_toggle_at IS NOT DISTINCT FROM $7
	`, enabled, state.LastToggleAt, state.ToggleCountToday,
		state.ToggleCountResetAt, time.Now().UTC(), groupID, prev)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepository) TransferOwnership(ctx context.Context, groupID, currentOwnerID, newOwnerID string) (bool, error) {
	// Conditional on the current owner so concurrent transfers cannot
	// both succeed. Cooldown fields stay untouched: ownership transfer
	// is not a sharing-preference event.
	res, err := r.db.ExecContext(ctx, `
		UPDATE expense_groups SET owner_id = $1, updated_at = $2
		WHERE id = $3 AND owner_id = $4
	`, newOwnerID, time.Now().UTC(), groupID, currentOwnerID)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepository) DeleteGroupRow(ctx context.Context, groupID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expense_groups WHERE id = $1`, groupID)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Membership repository methods
func (r *PostgresRepository) AddMember(ctx context.Context, member *models.GroupMember) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The group row lock serializes concurrent joins; without it two
	// transactions can read the same count and both clear the cap.
	var lockedID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM expense_groups WHERE id = $1 FOR UPDATE`,
		member.GroupID).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("group %s not found", member.GroupID)
		}
		return err
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM group_members WHERE group_id = $1 AND role = $2`,
		member.GroupID, member.Role).Scan(&count)
	if err != nil {
		return err
	}

	limit := models.MaxViewers
	if member.Role == models.RoleContributor {
		limit = models.MaxContributors
	}
	if count >= limit {
		return fmt.Errorf("%w: %s tier is full (%d)", ErrCapacity, member.Role, limit)
	}

	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, member.GroupID, member.UserID, member.Role, member.JoinedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PostgresRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	return err
}

func (r *PostgresRepository) GetMembers(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	var members []models.GroupMember
	err := r.db.SelectContext(ctx, &members,
		`SELECT * FROM group_members WHERE group_id = $1 ORDER BY joined_at`, groupID)
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *PostgresRepository) GetMember(ctx context.Context, groupID, userID string) (*models.GroupMember, error) {
	var member models.GroupMember
	err := r.db.GetContext(ctx, &member,
		`SELECT * FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not a member
		}
		return nil, err
	}
	return &member, nil
}

// ErrCapacity marks a membership tier at its bound.
var ErrCapacity = errors.New("group capacity reached")
