package views

import (
	"fmt"
	"io"
	"strings"
	"time"

	"finance-client/pkg/finance"
)

const progressWidth = 20

// FilterGoals keeps the goals whose title, goal type or period type contain
// term, case-insensitively.
func FilterGoals(goals []finance.Goal, term string) []finance.Goal {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return goals
	}
	out := make([]finance.Goal, 0, len(goals))
	for _, g := range goals {
		if strings.Contains(strings.ToLower(g.Title), term) ||
			strings.Contains(strings.ToLower(string(g.GoalType)), term) ||
			strings.Contains(strings.ToLower(string(g.PeriodType)), term) {
			out = append(out, g)
		}
	}
	return out
}

// Goals renders one block per goal with its progress bar and deadline.
func Goals(w io.Writer, goals []finance.Goal, term string, today time.Time, err error) error {
	banner(w, "goals", err)
	shown := FilterGoals(goals, term)
	if len(shown) == 0 {
		msg := "No goals yet."
		if strings.TrimSpace(term) != "" {
			msg = fmt.Sprintf("No goals match %q.", term)
		}
		_, werr := fmt.Fprintln(w, msg)
		return werr
	}

	for i, g := range shown {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "#%s %s (%s, %s)\n", g.ID, g.Title, g.GoalType, g.PeriodType)
		fmt.Fprintf(w, "  %s %.1f%%  %s of %s\n",
			ProgressBar(g.ProgressBarWidth(), progressWidth), g.ProgressPercentage,
			Money(g.CurrentAmount), Money(g.TargetAmount))

		deadline := DaysLeft(g.EndDate.DaysUntil(today))
		if g.Status == finance.GoalCompleted || g.ProgressPercentage >= 100 {
			deadline = "completed"
		}
		if _, werr := fmt.Fprintf(w, "  %s -> %s, %s\n", g.StartDate, g.EndDate, deadline); werr != nil {
			return werr
		}
	}
	return nil
}

// GoalStats renders the goals summary.
func GoalStats(w io.Writer, s *finance.GoalStats, err error) error {
	banner(w, "goal stats", err)
	if s == nil {
		return nil
	}
	_, werr := fmt.Fprintf(w, "%d goals (%d active, %d completed): %s of %s %s\n",
		s.TotalGoals, s.ActiveGoals, s.CompletedGoals,
		Money(s.TotalCurrentAmount), Money(s.TotalTargetAmount),
		ProgressBar(s.OverallProgressPercentage, progressWidth))
	return werr
}
