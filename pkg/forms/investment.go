package forms

import (
	"context"
	"time"

	"finance-client/pkg/finance"
)

type InvestmentStore interface {
	CreateInvestment(ctx context.Context, in finance.InvestmentInput) (*finance.Investment, error)
	UpdateInvestment(ctx context.Context, id finance.ID, in finance.InvestmentInput) (*finance.Investment, error)
}

type InvestmentForm struct {
	ID finance.ID `validate:"-"`

	Name           string `validate:"required"`
	Type           string `validate:"required,oneof=acao fundo cdi tesouro cripto outros"`
	AmountInvested string `validate:"required,money"`
	CurrentValue   string `validate:"required,money"`
	PurchaseDate   string `validate:"required,datetime=2006-01-02"`
	Description    string

	today func() time.Time
}

func NewInvestmentForm(today func() time.Time) *InvestmentForm {
	if today == nil {
		today = time.Now
	}
	f := &InvestmentForm{today: today}
	f.Reset()
	return f
}

func EditInvestmentForm(inv finance.Investment) *InvestmentForm {
	return &InvestmentForm{
		ID:             inv.ID,
		Name:           inv.Name,
		Type:           string(inv.Type),
		AmountInvested: formatAmount(inv.AmountInvested),
		CurrentValue:   formatAmount(inv.CurrentValue),
		PurchaseDate:   inv.PurchaseDate.String(),
		Description:    inv.Description,
		today:          time.Now,
	}
}

func (f *InvestmentForm) Editing() bool {
	return !f.ID.IsZero()
}

// SetAmountInvested updates the invested amount and, while the current
// value is still empty, copies it there.
func (f *InvestmentForm) SetAmountInvested(v string) {
	f.AmountInvested = v
	if f.CurrentValue == "" {
		f.CurrentValue = v
	}
}

func (f *InvestmentForm) Reset() {
	today := f.today
	*f = InvestmentForm{
		Type:         string(finance.InvestmentStock),
		PurchaseDate: finance.DateOf(today()).String(),
		today:        today,
	}
}

func (f *InvestmentForm) Validate() error {
	return check(f)
}

func (f *InvestmentForm) Input() (finance.InvestmentInput, error) {
	if err := f.Validate(); err != nil {
		return finance.InvestmentInput{}, err
	}
	date, err := finance.ParseDate(f.PurchaseDate)
	if err != nil {
		return finance.InvestmentInput{}, &ValidationError{Fields: map[string]string{"purchase_date": err.Error()}}
	}
	return finance.InvestmentInput{
		Name:           f.Name,
		Type:           finance.InvestmentType(f.Type),
		AmountInvested: parseAmount(f.AmountInvested),
		CurrentValue:   parseAmount(f.CurrentValue),
		PurchaseDate:   date,
		Description:    f.Description,
	}, nil
}

// ProfitLossPreview is the profit or loss the entered values imply.
func (f *InvestmentForm) ProfitLossPreview() float64 {
	return parseAmount(f.CurrentValue) - parseAmount(f.AmountInvested)
}

func (f *InvestmentForm) Submit(ctx context.Context, s InvestmentStore) (*finance.Investment, error) {
	in, err := f.Input()
	if err != nil {
		return nil, alert("save investment", err)
	}

	var inv *finance.Investment
	if f.Editing() {
		inv, err = s.UpdateInvestment(ctx, f.ID, in)
	} else {
		inv, err = s.CreateInvestment(ctx, in)
	}
	if err != nil {
		return nil, alert("save investment", err)
	}
	f.Reset()
	return inv, nil
}
