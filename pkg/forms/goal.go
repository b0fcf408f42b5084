package forms

import (
	"context"
	"strings"
	"time"

	"finance-client/pkg/finance"
)

type GoalStore interface {
	CreateGoal(ctx context.Context, in finance.GoalInput) (*finance.Goal, error)
	UpdateGoal(ctx context.Context, id finance.ID, in finance.GoalInput) (*finance.Goal, error)
}

// GoalForm keeps EndDate in step with PeriodType and StartDate: changing
// either through SetPeriod or SetStartDate suggests a new end date.
type GoalForm struct {
	ID finance.ID `validate:"-"`

	Title         string `validate:"required"`
	Description   string
	GoalType      string `validate:"required,oneof=economia investimento compra viagem outros"`
	TargetAmount  string `validate:"required,money,positive"`
	CurrentAmount string `validate:"required,money"`
	PeriodType    string `validate:"required,oneof=mensal anual livre"`
	StartDate     string `validate:"required,datetime=2006-01-02"`
	EndDate       string `validate:"required,datetime=2006-01-02"`
	CategoryID    string `validate:"omitempty,numeric"`

	today func() time.Time
}

func NewGoalForm(today func() time.Time) *GoalForm {
	if today == nil {
		today = time.Now
	}
	f := &GoalForm{today: today}
	f.Reset()
	return f
}

func EditGoalForm(g finance.Goal) *GoalForm {
	f := &GoalForm{
		ID:            g.ID,
		Title:         g.Title,
		Description:   g.Description,
		GoalType:      string(g.GoalType),
		TargetAmount:  formatAmount(g.TargetAmount),
		CurrentAmount: formatAmount(g.CurrentAmount),
		PeriodType:    string(g.PeriodType),
		StartDate:     g.StartDate.String(),
		EndDate:       g.EndDate.String(),
		today:         time.Now,
	}
	if g.CategoryID != nil {
		f.CategoryID = g.CategoryID.String()
	}
	return f
}

func (f *GoalForm) Editing() bool {
	return !f.ID.IsZero()
}

func (f *GoalForm) Reset() {
	today := f.today
	*f = GoalForm{
		GoalType:      string(finance.GoalSavings),
		CurrentAmount: "0",
		PeriodType:    string(finance.PeriodMonthly),
		StartDate:     finance.DateOf(today()).String(),
		today:         today,
	}
	f.suggestEndDate()
}

func (f *GoalForm) SetPeriod(p finance.PeriodType) {
	f.PeriodType = string(p)
	f.suggestEndDate()
}

func (f *GoalForm) SetStartDate(s string) {
	f.StartDate = s
	f.suggestEndDate()
}

// suggestEndDate leaves EndDate alone while StartDate does not parse.
func (f *GoalForm) suggestEndDate() {
	start, err := finance.ParseDate(f.StartDate)
	if err != nil {
		return
	}
	f.EndDate = finance.PeriodType(f.PeriodType).EndDate(start).String()
}

// ProgressPreview is min(current/target*100, 100), or 0 until both amounts
// are filled in.
func (f *GoalForm) ProgressPreview() float64 {
	if strings.TrimSpace(f.TargetAmount) == "" || strings.TrimSpace(f.CurrentAmount) == "" {
		return 0
	}
	return finance.Progress(parseAmount(f.CurrentAmount), parseAmount(f.TargetAmount))
}

func (f *GoalForm) Validate() error {
	return check(f)
}

func (f *GoalForm) Input() (finance.GoalInput, error) {
	if err := f.Validate(); err != nil {
		return finance.GoalInput{}, err
	}
	start, err := finance.ParseDate(f.StartDate)
	if err != nil {
		return finance.GoalInput{}, &ValidationError{Fields: map[string]string{"start_date": err.Error()}}
	}
	end, err := finance.ParseDate(f.EndDate)
	if err != nil {
		return finance.GoalInput{}, &ValidationError{Fields: map[string]string{"end_date": err.Error()}}
	}
	if end.Before(start.Time) {
		return finance.GoalInput{}, &ValidationError{Fields: map[string]string{"end_date": "must not be before the start date"}}
	}

	in := finance.GoalInput{
		Title:         f.Title,
		Description:   f.Description,
		GoalType:      finance.GoalType(f.GoalType),
		TargetAmount:  parseAmount(f.TargetAmount),
		CurrentAmount: parseAmount(f.CurrentAmount),
		PeriodType:    finance.PeriodType(f.PeriodType),
		StartDate:     start,
		EndDate:       end,
	}
	if f.CategoryID != "" {
		id := finance.ID(f.CategoryID)
		in.CategoryID = &id
	}
	return in, nil
}

func (f *GoalForm) Submit(ctx context.Context, s GoalStore) (*finance.Goal, error) {
	in, err := f.Input()
	if err != nil {
		return nil, alert("save goal", err)
	}

	var g *finance.Goal
	if f.Editing() {
		g, err = s.UpdateGoal(ctx, f.ID, in)
	} else {
		g, err = s.CreateGoal(ctx, in)
	}
	if err != nil {
		return nil, alert("save goal", err)
	}
	f.Reset()
	return g, nil
}
