package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mkarlsson/sharesync/internal/models"
)

// Sharing preference repository methods.
//
// A missing row is the default state (share_details false), so reads
// return nil,nil rather than synthesizing one.

func (r *PostgresRepository) GetPreference(ctx context.Context, userID, groupID string) (*models.SharePreference, error) {
	var pref models.SharePreference
	err := r.db.GetContext(ctx, &pref, `
		SELECT * FROM share_preferences WHERE user_id = $1 AND group_id = $2
	`, userID, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Defaults apply
		}
		return nil, err
	}
	return &pref, nil
}

func (r *PostgresRepository) UpsertPreference(ctx context.Context, pref *models.SharePreference) error {
	// The flag flip and the cooldown bookkeeping land in one atomic
	// write, including the daily-counter reset.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO share_preferences (user_id, group_id, share_details,
			last_toggle_at, toggle_count_today, toggle_count_reset_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, group_id) DO UPDATE SET
			share_details = EXCLUDED.share_details,
			last_toggle_at = EXCLUDED.last_toggle_at,
			toggle_count_today = EXCLUDED.toggle_count_today,
			toggle_count_reset_at = EXCLUDED.toggle_count_reset_at
	`, pref.UserID, pref.GroupID, pref.ShareDetails,
		pref.LastToggleAt, pref.ToggleCountToday, pref.ToggleCountResetAt)
	return err
}

func (r *PostgresRepository) ApplyPreferenceToggle(ctx context.Context, pref *models.SharePreference, prev *time.Time) (bool, error) {
	// Same shape as UpsertPreference, keyed on the last toggle time
	// the caller read. Two toggles racing for the insert path collide
	// on the primary key; the loser's conditional update then sees
	// the winner's fresh last_toggle_at and writes nothing.
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO share_preferences (user_id, group_id, share_details,
			last_toggle_at, toggle_count_today, toggle_count_reset_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, group_id) DO UPDATE SET
			share_details = EXCLUDED.share_details,
			last_toggle_at = EXCLUDED.last_toggle_at,
			toggle_count_today = EXCLUDED.toggle_count_today,
			toggle_count_reset_at = EXCLUDED.toggle_count_reset_at
		WHERE share_preferences.last_toggle_at IS NOT DISTINCT FROM $7
	`, pref.UserID, pref.GroupID, pref.ShareDetails,
		pref.LastToggleAt, pref.ToggleCountToday, pref.ToggleCountResetAt, prev)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepository) DeletePreference(ctx context.Context, userID, groupID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM share_preferences WHERE user_id = $1 AND group_id = $2`,
		userID, groupID)
	return err
}

func (r *PostgresRepository) DeleteGroupPreferences(ctx context.Context, groupID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM share_preferences WHERE group_id = $1`, groupID)
	return err
}
