package views

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"finance-client/pkg/finance"
	"finance-client/pkg/httpclient"
	"finance-client/pkg/query"
)

func TestMoney(t *testing.T) {
	tests := []struct {
		in     float64
		money  string
		signed string
	}{
		{0, "R$ 0,00", "+R$ 0,00"},
		{3500, "R$ 3.500,00", "+R$ 3.500,00"},
		{1234567.891, "R$ 1.234.567,89", "+R$ 1.234.567,89"},
		{-42.5, "-R$ 42,50", "-R$ 42,50"},
	}
	for _, tt := range tests {
		if got := Money(tt.in); got != tt.money {
			t.Errorf("Money(%v) = %q, want %q", tt.in, got, tt.money)
		}
		if got := SignedMoney(tt.in); got != tt.signed {
			t.Errorf("SignedMoney(%v) = %q, want %q", tt.in, got, tt.signed)
		}
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{0, "[----------]"},
		{50, "[#####-----]"},
		{100, "[##########]"},
		{150, "[##########]"},
		{-20, "[----------]"},
	}
	for _, tt := range tests {
		if got := ProgressBar(tt.pct, 10); got != tt.want {
			t.Errorf("ProgressBar(%v) = %q, want %q", tt.pct, got, tt.want)
		}
	}
}

func TestDaysLeft(t *testing.T) {
	tests := map[int]string{
		-3: "overdue by 3 days",
		0:  "due today",
		1:  "1 day left",
		30: "30 days left",
	}
	for days, want := range tests {
		if got := DaysLeft(days); got != want {
			t.Errorf("DaysLeft(%d) = %q, want %q", days, got, want)
		}
	}
}

func unreachable() error {
	return fmt.Errorf("%w: investments: %w", finance.ErrListUnavailable, httpclient.ErrTransport)
}

func TestInvestments_FailedShowsBannerAndEmptyState(t *testing.T) {
	var buf bytes.Buffer
	if err := Investments(&buf, []finance.Investment{}, InvestmentFilter{}, unreachable()); err != nil {
		t.Fatalf("Investments failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "! failed to load investments: could not reach the server") {
		t.Errorf("Expected a failure banner, got:\n%s", out)
	}
	if !strings.Contains(out, "No investments yet.") {
		t.Errorf("Expected the empty state too, got:\n%s", out)
	}
}

func TestInvestments_Table(t *testing.T) {
	invs := []finance.Investment{
		{ID: "1", Name: "PETR4", Type: finance.InvestmentStock, AmountInvested: 1000, CurrentValue: 1200},
		{ID: "2", Name: "Bitcoin", Type: finance.InvestmentCrypto, AmountInvested: 500, CurrentValue: 400},
		{ID: "3", Name: "Bonus", Type: finance.InvestmentOther, AmountInvested: 0, CurrentValue: 50},
	}

	var buf bytes.Buffer
	if err := Investments(&buf, invs, InvestmentFilter{}, nil); err != nil {
		t.Fatalf("Investments failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"+R$ 200,00", "+20.00%", "-R$ 100,00", "-20.00%", "TOTAL", "+R$ 150,00"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "failed to load") {
		t.Error("No banner expected without an error")
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	bonus := lines[3]
	if !strings.HasSuffix(strings.TrimSpace(bonus), "-") {
		t.Errorf("Percentage must be omitted when nothing was invested: %q", bonus)
	}
}

func TestInvestmentFilter(t *testing.T) {
	invs := []finance.Investment{
		{ID: "1", Name: "Tesouro Selic", Type: finance.InvestmentTreasury},
		{ID: "2", Name: "CDB Banco", Type: finance.InvestmentCDI, Description: "liquidez diária"},
		{ID: "3", Name: "Bitcoin", Type: finance.InvestmentCrypto},
	}

	tests := []struct {
		name   string
		filter InvestmentFilter
		want   []finance.ID
	}{
		{"empty filter", InvestmentFilter{}, []finance.ID{"1", "2", "3"}},
		{"by name", InvestmentFilter{Term: "selic"}, []finance.ID{"1"}},
		{"by type text", InvestmentFilter{Term: "CRIPTO"}, []finance.ID{"3"}},
		{"by description", InvestmentFilter{Term: "liquidez"}, []finance.ID{"2"}},
		{"by type", InvestmentFilter{Type: finance.InvestmentCDI}, []finance.ID{"2"}},
		{"term and type", InvestmentFilter{Term: "bit", Type: finance.InvestmentCDI}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter.Apply(invs)
			if len(got) != len(tt.want) {
				t.Fatalf("Got %d investments, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("Item %d: got %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}

	var buf bytes.Buffer
	Investments(&buf, invs, InvestmentFilter{Term: "ações"}, nil)
	if !strings.Contains(buf.String(), `No investments match "ações".`) {
		t.Errorf("Expected the search empty state, got %q", buf.String())
	}
}

func TestGoals(t *testing.T) {
	today := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	goals := []finance.Goal{
		{
			ID: "1", Title: "Viagem Japão", GoalType: finance.GoalTravel, PeriodType: finance.PeriodYearly,
			TargetAmount: 20000, CurrentAmount: 5000, ProgressPercentage: 25,
			StartDate: finance.NewDate(2024, 1, 1), EndDate: finance.NewDate(2024, 3, 11),
			Status: finance.GoalActive,
		},
		{
			ID: "2", Title: "Notebook", GoalType: finance.GoalPurchase, PeriodType: finance.PeriodMonthly,
			TargetAmount: 1000, CurrentAmount: 1300, ProgressPercentage: 130,
			StartDate: finance.NewDate(2024, 1, 1), EndDate: finance.NewDate(2024, 2, 1),
			Status: finance.GoalCompleted,
		},
		{
			ID: "3", Title: "Reserva", GoalType: finance.GoalSavings, PeriodType: finance.PeriodFree,
			TargetAmount: 1000, CurrentAmount: 100, ProgressPercentage: 10,
			StartDate: finance.NewDate(2023, 6, 1), EndDate: finance.NewDate(2024, 2, 28),
			Status: finance.GoalActive,
		},
	}

	var buf bytes.Buffer
	if err := Goals(&buf, goals, "", today, nil); err != nil {
		t.Fatalf("Goals failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"[#####---------------] 25.0%",
		"10 days left",
		"[####################] 130.0%",
		"completed",
		"overdue by 2 days",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in:\n%s", want, out)
		}
	}

	if got := FilterGoals(goals, "viagem"); len(got) != 1 || got[0].ID != "1" {
		t.Errorf("FilterGoals(viagem) = %v", got)
	}
	if got := FilterGoals(goals, "mensal"); len(got) != 1 || got[0].ID != "2" {
		t.Errorf("FilterGoals(mensal) = %v", got)
	}

	buf.Reset()
	Goals(&buf, nil, "", today, errors.New("boom"))
	if !strings.Contains(buf.String(), "! failed to load goals: boom") || !strings.Contains(buf.String(), "No goals yet.") {
		t.Errorf("Unexpected failed state:\n%s", buf.String())
	}
}

func TestTransactions(t *testing.T) {
	txs := []finance.Transaction{
		{ID: "1", Description: "Salário", Amount: 3500, Type: finance.Income, Category: "Salário", Date: finance.NewDate(2024, 1, 5)},
		{ID: "2", Description: "Mercado", Amount: 250.3, Type: finance.Expense, Date: finance.NewDate(2024, 1, 6)},
	}

	var buf bytes.Buffer
	if err := Transactions(&buf, txs, nil); err != nil {
		t.Fatalf("Transactions failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"2024-01-05", "+R$ 3.500,00", "-R$ 250,30"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in:\n%s", want, out)
		}
	}

	buf.Reset()
	Transactions(&buf, []finance.Transaction{}, nil)
	if buf.String() != "No transactions found.\n" {
		t.Errorf("Unexpected empty state %q", buf.String())
	}
}

type fakeDashboard struct {
	chartErr error
	period   string
}

func (f *fakeDashboard) DashboardStats(context.Context) (*finance.DashboardStats, error) {
	return &finance.DashboardStats{
		TotalIncome: 5000, TotalExpense: 1250.5, Balance: 3749.5, TransactionCount: 1234,
		RecentTransactions: []finance.Transaction{
			{ID: "9", Description: "Salário", Amount: 5000, Type: finance.Income, Date: finance.NewDate(2024, 1, 5)},
		},
	}, nil
}

func (f *fakeDashboard) ChartData(_ context.Context, period string) (*finance.ChartData, error) {
	f.period = period
	if f.chartErr != nil {
		return nil, f.chartErr
	}
	return &finance.ChartData{Labels: []string{"Jan", "Fev"}, Income: []float64{5000}, Expense: []float64{1000, 250.5}}, nil
}

func (f *fakeDashboard) UserProfile(context.Context) (*finance.UserProfile, error) {
	return &finance.UserProfile{Name: "Ana"}, nil
}

func TestDashboard(t *testing.T) {
	src := &fakeDashboard{}
	d, err := LoadDashboard(context.Background(), src, "90d")
	if err != nil {
		t.Fatalf("LoadDashboard failed: %v", err)
	}
	if src.period != "90d" {
		t.Errorf("Expected period 90d, got %q", src.period)
	}

	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Hello, Ana", "R$ 5.000,00", "+R$ 3.749,50", "1,234", "Fev", "R$ 0,00", "Salário"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in:\n%s", want, out)
		}
	}
}

func TestDashboard_PartialFailure(t *testing.T) {
	src := &fakeDashboard{chartErr: errors.New("chart down")}
	d, err := LoadDashboard(context.Background(), src, "30d")
	if err == nil {
		t.Fatal("Expected the chart error")
	}
	if d.Stats == nil || d.Profile == nil {
		t.Fatal("Other parts must still load")
	}

	var buf bytes.Buffer
	d.Render(&buf)
	out := buf.String()
	if !strings.Contains(out, "! failed to load chart data: chart down") || !strings.Contains(out, "No data for this period.") {
		t.Errorf("Unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "R$ 5.000,00") {
		t.Error("Stats should render despite the chart failure")
	}
}

func TestQueries(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	infos := []query.Info{
		{Key: "transactions", State: query.StateStale, UpdatedAt: now.Add(-3 * time.Minute), Invalidated: true, Version: 2},
		{Key: "health-check", State: query.StateFailed, Error: "status 503"},
	}

	var buf bytes.Buffer
	if err := Queries(&buf, infos, now); err != nil {
		t.Fatalf("Queries failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"stale (invalidated)", "3 minutes ago", "never", "status 503"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in:\n%s", want, out)
		}
	}
}
