package repository

import (
	"context"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/mkarlsson/sharesync/internal/models"
)

var (
	dayPattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	weekPattern    = regexp.MustCompile(`^\d{4}-W\d{2}$`)
	monthPattern   = regexp.MustCompile(`^\d{4}-\d{2}$`)
	quarterPattern = regexp.MustCompile(`^\d{4}-Q[1-4]$`)
	yearPattern    = regexp.MustCompile(`^\d{4}$`)
)

// periodColumn maps a bucket label to the indexed column holding it.
// The column name is chosen here, never from caller input, so the
// query below stays injection-safe.
func periodColumn(period string) (string, error) {
	switch {
	case dayPattern.MatchString(period):
		return "period_day", nil
	case weekPattern.MatchString(period):
		return "period_week", nil
	case monthPattern.MatchString(period):
		return "period_month", nil
	case quarterPattern.MatchString(period):
		return "period_quarter", nil
	case yearPattern.MatchString(period):
		return "period_year", nil
	default:
		return "", fmt.Errorf("unrecognized period label %q", period)
	}
}

// GroupStats computes the ungated per-category and per-member totals
// for one period bucket. Every member's active records contribute,
// regardless of either visibility gate.
func (r *PostgresRepository) GroupStats(ctx context.Context, groupID, period string) (*models.GroupStats, error) {
	column, err := periodColumn(period)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT owner_id, category, SUM(amount)
		FROM expense_records
		WHERE group_id = $1 AND deleted_at IS NULL AND %s = $2
		GROUP BY owner_id, category
	`, column), groupID, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.GroupStats{
		Period:     period,
		Total:      decimal.Zero,
		ByCategory: make(map[string]decimal.Decimal),
		ByMember:   make(map[string]decimal.Decimal),
	}

	for rows.Next() {
		var ownerID, category string
		var sum decimal.Decimal
		if err := rows.Scan(&ownerID, &category, &sum); err != nil {
			return nil, err
		}

		stats.Total = stats.Total.Add(sum)
		stats.ByCategory[category] = stats.ByCategory[category].Add(sum)
		stats.ByMember[ownerID] = stats.ByMember[ownerID].Add(sum)
	}

	return stats, rows.Err()
}
