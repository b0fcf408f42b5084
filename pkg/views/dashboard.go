package views

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"finance-client/pkg/finance"
)

// recentLimit caps the recent transactions shown on the dashboard.
const recentLimit = 5

// DashboardSource is what the dashboard reads.
type DashboardSource interface {
	DashboardStats(ctx context.Context) (*finance.DashboardStats, error)
	ChartData(ctx context.Context, period string) (*finance.ChartData, error)
	UserProfile(ctx context.Context) (*finance.UserProfile, error)
}

// Dashboard holds the three dashboard reads. Each part keeps its own error
// so one failure does not blank the others.
type Dashboard struct {
	Period string

	Stats    *finance.DashboardStats
	StatsErr error

	Chart    *finance.ChartData
	ChartErr error

	Profile    *finance.UserProfile
	ProfileErr error
}

// LoadDashboard reads stats, chart data and profile concurrently. The
// returned error is the first failure; the Dashboard is always usable.
func LoadDashboard(ctx context.Context, src DashboardSource, period string) (*Dashboard, error) {
	d := &Dashboard{Period: period}

	var g errgroup.Group
	g.Go(func() error {
		d.Stats, d.StatsErr = src.DashboardStats(ctx)
		return d.StatsErr
	})
	g.Go(func() error {
		d.Chart, d.ChartErr = src.ChartData(ctx, period)
		return d.ChartErr
	})
	g.Go(func() error {
		d.Profile, d.ProfileErr = src.UserProfile(ctx)
		return d.ProfileErr
	})
	return d, g.Wait()
}

func (d *Dashboard) Render(w io.Writer) error {
	if d.Profile != nil && d.Profile.Name != "" {
		fmt.Fprintf(w, "Hello, %s\n\n", d.Profile.Name)
	}

	banner(w, "dashboard stats", d.StatsErr)
	if s := d.Stats; s != nil {
		tw := table(w)
		fmt.Fprintf(tw, "Income\t%s\n", Money(s.TotalIncome))
		fmt.Fprintf(tw, "Expenses\t%s\n", Money(s.TotalExpense))
		fmt.Fprintf(tw, "Balance\t%s\n", SignedMoney(s.Balance))
		fmt.Fprintf(tw, "Transactions\t%s\n", humanize.Comma(int64(s.TransactionCount)))
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\nIncome vs expenses (%s)\n", d.Period)
	banner(w, "chart data", d.ChartErr)
	if c := d.Chart; c != nil && len(c.Labels) > 0 {
		tw := table(w)
		fmt.Fprintln(tw, "PERIOD\tINCOME\tEXPENSES")
		for i, label := range c.Labels {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", label, Money(at(c.Income, i)), Money(at(c.Expense, i)))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, "No data for this period.")
	}

	fmt.Fprintln(w, "\nRecent transactions")
	var recent []finance.Transaction
	if d.Stats != nil {
		recent = d.Stats.RecentTransactions
	}
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}
	return Transactions(w, recent, nil)
}

// at tolerates series shorter than the labels.
func at(series []float64, i int) float64 {
	if i < len(series) {
		return series[i]
	}
	return 0
}
