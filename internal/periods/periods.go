// Package periods computes the canonical calendar-bucket labels used
// to key statistics aggregates.
package periods

import (
	"fmt"
	"time"
)

// Periods holds the five bucket labels for a record date.
type Periods struct {
	Day     string `db:"period_day" json:"day"`         // 2024-03-09
	Week    string `db:"period_week" json:"week"`       // 2024-W10 (ISO 8601)
	Month   string `db:"period_month" json:"month"`     // 2024-03
	Quarter string `db:"period_quarter" json:"quarter"` // 2024-Q1
	Year    string `db:"period_year" json:"year"`       // 2024
}

// Compute derives all bucket labels from t.
// The week label uses the ISO week-numbering year, which can differ
// from the calendar year around January 1st.
func Compute(t time.Time) Periods {
	isoYear, isoWeek := t.ISOWeek()
	quarter := (int(t.Month())-1)/3 + 1

	return Periods{
		Day:     t.Format("2006-01-02"),
		Week:    fmt.Sprintf("%04d-W%02d", isoYear, isoWeek),
		Month:   t.Format("2006-01"),
		Quarter: fmt.Sprintf("%04d-Q%d", t.Year(), quarter),
		Year:    t.Format("2006"),
	}
}
