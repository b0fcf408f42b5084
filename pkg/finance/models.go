package finance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ID identifies a backend entity. Some endpoints send ids as strings and
// others as integers; ID accepts both and always encodes as a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("finance: id must be a string or number, got %s", b)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// IsZero reports whether the entity has not been created yet.
func (id ID) IsZero() bool { return id == "" }

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date. It decodes "2006-01-02" as well as full
// timestamps and encodes as "2006-01-02".
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses "2006-01-02".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(d.Format(DateLayout))), nil
}

var dateLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil || s == "" {
		*d = Date{}
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*d = Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
			return nil
		}
	}
	return fmt.Errorf("finance: invalid date %q", s)
}

// AddMonths adds n calendar months, clamping to the last day of the target
// month (Jan 31 + 1 month is Feb 28/29).
func (d Date) AddMonths(n int) Date {
	y, m, day := d.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return Date{time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)}
}

// DaysUntil returns the whole days from today to d; negative when d passed.
func (d Date) DaysUntil(today time.Time) int {
	t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Round(d.Sub(t).Hours() / 24))
}

type TransactionType string

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "completed"
	StatusPending   TransactionStatus = "pending"
)

// Transaction is an income or expense entry. Amount is never negative; the
// sign lives in Type.
type Transaction struct {
	ID          ID                `json:"id"`
	Description string            `json:"description"`
	Amount      float64           `json:"amount"`
	Type        TransactionType   `json:"type"`
	Category    string            `json:"category,omitempty"`
	Date        Date              `json:"date"`
	Status      TransactionStatus `json:"status,omitempty"`
	Notes       string            `json:"notes,omitempty"`
}

// SignedAmount is Amount with the sign of Type applied.
func (t Transaction) SignedAmount() float64 {
	if t.Type == Expense {
		return -t.Amount
	}
	return t.Amount
}

// TransactionInput is the create/update payload.
type TransactionInput struct {
	Description string          `json:"description"`
	Amount      float64         `json:"amount"`
	Type        TransactionType `json:"type"`
	Category    string          `json:"category,omitempty"`
	Date        Date            `json:"date"`
	Notes       string          `json:"notes,omitempty"`
}

// TransactionFilter holds search parameters; empty fields are not sent.
type TransactionFilter struct {
	Query     string
	StartDate Date
	EndDate   Date
	Category  string
	Type      TransactionType
}

type Category struct {
	ID               ID              `json:"id"`
	Name             string          `json:"name"`
	Type             TransactionType `json:"type"`
	Color            string          `json:"color"`
	TransactionCount int             `json:"transactionCount"`
	TotalAmount      float64         `json:"totalAmount"`
}

type CategoryInput struct {
	Name  string          `json:"name"`
	Type  TransactionType `json:"type"`
	Color string          `json:"color"`
}

type InvestmentType string

const (
	InvestmentStock    InvestmentType = "acao"
	InvestmentFund     InvestmentType = "fundo"
	InvestmentCDI      InvestmentType = "cdi"
	InvestmentTreasury InvestmentType = "tesouro"
	InvestmentCrypto   InvestmentType = "cripto"
	InvestmentOther    InvestmentType = "outros"
)

// InvestmentTypes lists the known types in display order.
var InvestmentTypes = []InvestmentType{
	InvestmentStock, InvestmentFund, InvestmentCDI, InvestmentTreasury, InvestmentCrypto, InvestmentOther,
}

type Investment struct {
	ID             ID             `json:"id"`
	Name           string         `json:"name"`
	Type           InvestmentType `json:"type"`
	AmountInvested float64        `json:"amount_invested"`
	CurrentValue   float64        `json:"current_value"`
	PurchaseDate   Date           `json:"purchase_date"`
	Description    string         `json:"description,omitempty"`

	// Computed by the backend when present.
	ServerProfitLoss           *float64 `json:"profit_loss,omitempty"`
	ServerProfitLossPercentage *float64 `json:"profit_loss_percentage,omitempty"`
}

// ProfitLoss is current value minus amount invested.
func (i Investment) ProfitLoss() float64 {
	if i.ServerProfitLoss != nil {
		return *i.ServerProfitLoss
	}
	return i.CurrentValue - i.AmountInvested
}

// ProfitLossPercentage is ProfitLoss relative to the amount invested. ok is
// false when nothing was invested and the ratio is undefined.
func (i Investment) ProfitLossPercentage() (pct float64, ok bool) {
	if i.ServerProfitLossPercentage != nil && i.AmountInvested != 0 {
		return *i.ServerProfitLossPercentage, true
	}
	if i.AmountInvested == 0 {
		return 0, false
	}
	return i.ProfitLoss() / i.AmountInvested * 100, true
}

type InvestmentInput struct {
	Name           string         `json:"name"`
	Type           InvestmentType `json:"type"`
	AmountInvested float64        `json:"amount_invested"`
	CurrentValue   float64        `json:"current_value"`
	PurchaseDate   Date           `json:"purchase_date"`
	Description    string         `json:"description,omitempty"`
}

type InvestmentStats struct {
	TotalInvested        float64 `json:"total_invested"`
	TotalCurrentValue    float64 `json:"total_current_value"`
	TotalProfitLoss      float64 `json:"total_profit_loss"`
	ProfitLossPercentage float64 `json:"profit_loss_percentage"`
	Count                int     `json:"count"`
}

type GoalType string

const (
	GoalSavings    GoalType = "economia"
	GoalInvestment GoalType = "investimento"
	GoalPurchase   GoalType = "compra"
	GoalTravel     GoalType = "viagem"
	GoalOther      GoalType = "outros"
)

type PeriodType string

const (
	PeriodMonthly PeriodType = "mensal"
	PeriodYearly  PeriodType = "anual"
	PeriodFree    PeriodType = "livre"
)

// EndDate suggests an end date for a goal starting at start.
func (p PeriodType) EndDate(start Date) Date {
	switch p {
	case PeriodMonthly:
		return start.AddMonths(1)
	case PeriodYearly:
		return start.AddMonths(12)
	default:
		return start.AddMonths(6)
	}
}

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalPaused    GoalStatus = "paused"
)

type Goal struct {
	ID                 ID         `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	GoalType           GoalType   `json:"goal_type"`
	TargetAmount       float64    `json:"target_amount"`
	CurrentAmount      float64    `json:"current_amount"`
	PeriodType         PeriodType `json:"period_type"`
	StartDate          Date       `json:"start_date"`
	EndDate            Date       `json:"end_date"`
	CategoryID         *ID        `json:"category_id,omitempty"`
	Status             GoalStatus `json:"status"`
	ProgressPercentage float64    `json:"progress_percentage"`

	// Computed by the backend when present.
	ServerRemainingAmount *float64 `json:"remaining_amount,omitempty"`
}

// ProgressBarWidth is the progress percentage clamped to [0, 100]. The
// backend may report values above 100 for overachieved goals.
func (g Goal) ProgressBarWidth() float64 {
	return clamp(g.ProgressPercentage, 0, 100)
}

// RemainingAmount is what is left to reach the target, never negative. The
// backend's value wins when it sent one.
func (g Goal) RemainingAmount() float64 {
	if g.ServerRemainingAmount != nil {
		return math.Max(*g.ServerRemainingAmount, 0)
	}
	return math.Max(g.TargetAmount-g.CurrentAmount, 0)
}

// Progress computes the clamped progress from the amounts; used for form
// previews before the backend has computed a percentage.
func Progress(current, target float64) float64 {
	if target <= 0 {
		return 0
	}
	return clamp(current/target*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

type GoalInput struct {
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	GoalType      GoalType   `json:"goal_type"`
	TargetAmount  float64    `json:"target_amount"`
	CurrentAmount float64    `json:"current_amount"`
	PeriodType    PeriodType `json:"period_type"`
	StartDate     Date       `json:"start_date"`
	EndDate       Date       `json:"end_date"`
	CategoryID    *ID        `json:"category_id,omitempty"`
}

type GoalStats struct {
	TotalGoals                int     `json:"total_goals"`
	ActiveGoals               int     `json:"active_goals"`
	CompletedGoals            int     `json:"completed_goals"`
	TotalTargetAmount         float64 `json:"total_target_amount"`
	TotalCurrentAmount        float64 `json:"total_current_amount"`
	OverallProgressPercentage float64 `json:"overall_progress_percentage"`
}

type DashboardStats struct {
	TotalIncome        float64       `json:"totalIncome"`
	TotalExpense       float64       `json:"totalExpense"`
	Balance            float64       `json:"balance"`
	TransactionCount   int           `json:"transactionCount"`
	RecentTransactions []Transaction `json:"recentTransactions"`
}

// ChartData holds parallel series: Income[i] and Expense[i] belong to Labels[i].
type ChartData struct {
	Labels  []string  `json:"labels"`
	Income  []float64 `json:"income"`
	Expense []float64 `json:"expense"`
}

type UserProfile struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

type HealthStatus struct {
	Status    string `json:"status,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Token is the login response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}
