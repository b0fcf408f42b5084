package forms

import (
	"context"
	"time"

	"finance-client/pkg/finance"
)

// TransactionStore is the part of the data layer the transaction form uses.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, in finance.TransactionInput) (*finance.Transaction, error)
	UpdateTransaction(ctx context.Context, id finance.ID, in finance.TransactionInput) (*finance.Transaction, error)
}

type TransactionForm struct {
	// ID is set when editing an existing transaction.
	ID finance.ID `validate:"-"`

	Description string `validate:"required"`
	Amount      string `validate:"required,money"`
	Type        string `validate:"required,oneof=income expense"`
	Category    string
	Date        string `validate:"required,datetime=2006-01-02"`
	Notes       string

	today func() time.Time
}

// NewTransactionForm returns an empty income form dated today.
func NewTransactionForm(today func() time.Time) *TransactionForm {
	if today == nil {
		today = time.Now
	}
	f := &TransactionForm{today: today}
	f.Reset()
	return f
}

// EditTransactionForm seeds the form from tx. A transaction without an id
// opens in create mode.
func EditTransactionForm(tx finance.Transaction) *TransactionForm {
	return &TransactionForm{
		ID:          tx.ID,
		Description: tx.Description,
		Amount:      formatAmount(tx.Amount),
		Type:        string(tx.Type),
		Category:    tx.Category,
		Date:        tx.Date.String(),
		Notes:       tx.Notes,
		today:       time.Now,
	}
}

func (f *TransactionForm) Editing() bool {
	return !f.ID.IsZero()
}

// SetType switches between income and expense. Categories are typed, so the
// chosen one is cleared.
func (f *TransactionForm) SetType(t finance.TransactionType) {
	if string(t) != f.Type {
		f.Category = ""
	}
	f.Type = string(t)
}

func (f *TransactionForm) Reset() {
	today := f.today
	*f = TransactionForm{
		Type:  string(finance.Income),
		Date:  finance.DateOf(today()).String(),
		today: today,
	}
}

func (f *TransactionForm) Validate() error {
	return check(f)
}

// Input parses the form into the request payload.
func (f *TransactionForm) Input() (finance.TransactionInput, error) {
	if err := f.Validate(); err != nil {
		return finance.TransactionInput{}, err
	}
	date, err := finance.ParseDate(f.Date)
	if err != nil {
		return finance.TransactionInput{}, &ValidationError{Fields: map[string]string{"date": err.Error()}}
	}
	return finance.TransactionInput{
		Description: f.Description,
		Amount:      parseAmount(f.Amount),
		Type:        finance.TransactionType(f.Type),
		Category:    f.Category,
		Date:        date,
		Notes:       f.Notes,
	}, nil
}

// Submit creates or updates the transaction and resets the form on success.
func (f *TransactionForm) Submit(ctx context.Context, s TransactionStore) (*finance.Transaction, error) {
	in, err := f.Input()
	if err != nil {
		return nil, alert("save transaction", err)
	}

	var tx *finance.Transaction
	if f.Editing() {
		tx, err = s.UpdateTransaction(ctx, f.ID, in)
	} else {
		tx, err = s.CreateTransaction(ctx, in)
	}
	if err != nil {
		return nil, alert("save transaction", err)
	}
	f.Reset()
	return tx, nil
}
