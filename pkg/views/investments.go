package views

import (
	"fmt"
	"io"
	"strings"

	"finance-client/pkg/finance"
)

// InvestmentFilter narrows the investments list. Term matches name, type
// and description case-insensitively; an empty Type matches every type.
type InvestmentFilter struct {
	Term string
	Type finance.InvestmentType
}

func (f InvestmentFilter) active() bool {
	return strings.TrimSpace(f.Term) != "" || f.Type != ""
}

func (f InvestmentFilter) Apply(invs []finance.Investment) []finance.Investment {
	term := strings.ToLower(strings.TrimSpace(f.Term))
	out := make([]finance.Investment, 0, len(invs))
	for _, inv := range invs {
		if f.Type != "" && inv.Type != f.Type {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(inv.Name), term) &&
			!strings.Contains(strings.ToLower(string(inv.Type)), term) &&
			!strings.Contains(strings.ToLower(inv.Description), term) {
			continue
		}
		out = append(out, inv)
	}
	return out
}

// Investments renders the investments table with profit or loss per row
// and totals at the bottom.
func Investments(w io.Writer, invs []finance.Investment, filter InvestmentFilter, err error) error {
	banner(w, "investments", err)
	shown := filter.Apply(invs)
	if len(shown) == 0 {
		msg := "No investments yet."
		if filter.active() {
			msg = fmt.Sprintf("No investments match %q.", filter.Term)
			if filter.Type != "" {
				msg = fmt.Sprintf("No investments match %q (type %s).", filter.Term, filter.Type)
			}
		}
		_, werr := fmt.Fprintln(w, msg)
		return werr
	}

	var invested, current float64
	tw := table(w)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tINVESTED\tCURRENT\tP/L\t%")
	for _, inv := range shown {
		invested += inv.AmountInvested
		current += inv.CurrentValue
		pct := "-"
		if p, ok := inv.ProfitLossPercentage(); ok {
			pct = SignedPercent(p)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inv.ID, inv.Name, inv.Type, Money(inv.AmountInvested), Money(inv.CurrentValue),
			SignedMoney(inv.ProfitLoss()), pct)
	}
	total := finance.Investment{AmountInvested: invested, CurrentValue: current}
	pct := "-"
	if p, ok := total.ProfitLossPercentage(); ok {
		pct = SignedPercent(p)
	}
	fmt.Fprintf(tw, "\tTOTAL\t\t%s\t%s\t%s\t%s\n", Money(invested), Money(current), SignedMoney(total.ProfitLoss()), pct)
	return tw.Flush()
}

// InvestmentStats renders the portfolio summary reported by the backend.
func InvestmentStats(w io.Writer, s *finance.InvestmentStats, err error) error {
	banner(w, "investment stats", err)
	if s == nil {
		return nil
	}
	_, werr := fmt.Fprintf(w, "%d investments: %s invested, %s now (%s, %s)\n",
		s.Count, Money(s.TotalInvested), Money(s.TotalCurrentValue),
		SignedMoney(s.TotalProfitLoss), SignedPercent(s.ProfitLossPercentage))
	return werr
}
