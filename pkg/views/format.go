// Package views renders the data layer as plain text tables for the
// terminal. Every view writes to an io.Writer and never fetches on its own;
// callers pass the result of a store read, error included.
package views

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"finance-client/pkg/httpclient"
)

// Money formats v in Brazilian reais: R$ 1.234,56.
func Money(v float64) string {
	if v < 0 {
		return "-R$ " + humanize.FormatFloat("#.###,##", -v)
	}
	return "R$ " + humanize.FormatFloat("#.###,##", v)
}

// SignedMoney is Money with an explicit sign for non-negative values.
func SignedMoney(v float64) string {
	if v >= 0 {
		return "+" + Money(v)
	}
	return Money(v)
}

// SignedPercent formats a percentage with two decimals and a sign.
func SignedPercent(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+%.2f%%", v)
	}
	return fmt.Sprintf("%.2f%%", v)
}

// ProgressBar draws pct, clamped to [0, 100], as a bar of width cells.
func ProgressBar(pct float64, width int) string {
	pct = math.Min(math.Max(pct, 0), 100)
	filled := int(math.Round(pct / 100 * float64(width)))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

// DaysLeft describes a deadline relative to today.
func DaysLeft(days int) string {
	switch {
	case days < 0:
		return fmt.Sprintf("overdue by %d days", -days)
	case days == 0:
		return "due today"
	case days == 1:
		return "1 day left"
	default:
		return fmt.Sprintf("%d days left", days)
	}
}

// Since describes t relative to now, e.g. "3 minutes ago".
func Since(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// Loading is shown while the first fetch of a view is in flight.
func Loading(w io.Writer, what string) error {
	_, err := fmt.Fprintf(w, "Loading %s...\n", what)
	return err
}

// banner reports a failed load. The view still renders whatever it has
// below it, the empty state included.
func banner(w io.Writer, what string, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "! failed to load %s: %s\n", what, httpclient.Message(err))
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
