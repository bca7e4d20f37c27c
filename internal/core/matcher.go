package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

const (
	ReasonDaysMax     = "days <= max"
	ReasonDaysMin     = "days >= min"
	ReasonTravelStyle = "travel style matches"
	ReasonBudgetTier  = "budget tier matches"
	ReasonHasChildren = "has children"
)

var ErrDaysBoundsInverted = errors.New("trip_days_min must be <= trip_days_max")

// MatchConditions reports whether every condition set in conds holds for
// input. Evaluation stops at the first failing condition; the returned reasons
// are only meaningful on a match.
func MatchConditions(conds Conditions, input TripAttributes) (bool, []string) {
	reasons := make([]string, 0, 5)

	if conds.TripDaysMax > 0 {
		if input.TripDays > conds.TripDaysMax {
			return false, nil
		}
		reasons = append(reasons, ReasonDaysMax)
	}

	if conds.TripDaysMin > 0 {
		if input.TripDays < conds.TripDaysMin {
			return false, nil
		}
		reasons = append(reasons, ReasonDaysMin)
	}

	if style := NormalizeLabel(conds.TravelStyle); style != "" {
		if style != NormalizeLabel(input.TravelStyle) {
			return false, nil
		}
		reasons = append(reasons, ReasonTravelStyle)
	}

	if tier := NormalizeLabel(conds.BudgetTier); tier != "" {
		if tier != NormalizeLabel(input.BudgetTier) {
			return false, nil
		}
		reasons = append(reasons, ReasonBudgetTier)
	}

	if conds.HasChildren {
		if !input.HasChildren {
			return false, nil
		}
		reasons = append(reasons, ReasonHasChildren)
	}

	return true, reasons
}

// NormalizeLabel trims, collapses internal whitespace and case-folds a free
// text label.
func NormalizeLabel(value string) string {
	return cases.Fold().String(strings.Join(strings.Fields(value), " "))
}

// Validate checks the condition set for contradictions that would make the
// rule unmatchable.
func (c Conditions) Validate() error {
	if c.TripDaysMin > 0 && c.TripDaysMax > 0 && c.TripDaysMin > c.TripDaysMax {
		return fmt.Errorf("%w: min %d, max %d", ErrDaysBoundsInverted, c.TripDaysMin, c.TripDaysMax)
	}
	return nil
}

// IsCatchAll reports whether the condition set matches every input.
func (c Conditions) IsCatchAll() bool {
	return c.TripDaysMin <= 0 &&
		c.TripDaysMax <= 0 &&
		strings.TrimSpace(c.TravelStyle) == "" &&
		strings.TrimSpace(c.BudgetTier) == "" &&
		!c.HasChildren
}

// SortRules orders rules for evaluation: priority descending, then oldest
// first, then by id.
func SortRules(rules []Rule) {
	slices.SortStableFunc(rules, compareRules)
}

func compareRules(a, b Rule) int {
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return -1
		}
		return 1
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
