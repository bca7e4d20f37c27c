package core

import (
	"fmt"
	"testing"
)

func BenchmarkMatchConditions_CatchAll(b *testing.B) {
	input := TripAttributes{TripDays: 4, TravelStyle: "adventure", BudgetTier: "medium"}

	b.ResetTimer()
	for b.Loop() {
		MatchConditions(Conditions{}, input)
	}
}

func BenchmarkMatchConditions_AllConditions(b *testing.B) {
	conds := Conditions{
		TripDaysMin: 3,
		TripDaysMax: 7,
		TravelStyle: "Family Fun",
		BudgetTier:  "Medium",
		HasChildren: true,
	}
	input := TripAttributes{TripDays: 5, TravelStyle: "family  fun", BudgetTier: "MEDIUM", HasChildren: true}

	b.ResetTimer()
	for b.Loop() {
		MatchConditions(conds, input)
	}
}

func BenchmarkSortRules(b *testing.B) {
	rules := make([]Rule, 200)
	for i := range rules {
		rules[i] = Rule{ID: fmt.Sprintf("rule-%03d", i), Priority: i % 17}
	}
	work := make([]Rule, len(rules))

	b.ResetTimer()
	for b.Loop() {
		copy(work, rules)
		SortRules(work)
	}
}
