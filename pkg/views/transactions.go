package views

import (
	"fmt"
	"io"

	"finance-client/pkg/finance"
)

// Transactions renders the transactions table. err is the error returned
// with txs by the store; it adds a banner and does not hide the rows.
func Transactions(w io.Writer, txs []finance.Transaction, err error) error {
	banner(w, "transactions", err)
	if len(txs) == 0 {
		_, werr := fmt.Fprintln(w, "No transactions found.")
		return werr
	}

	tw := table(w)
	fmt.Fprintln(tw, "ID\tDATE\tDESCRIPTION\tCATEGORY\tAMOUNT")
	for _, tx := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			tx.ID, tx.Date, tx.Description, orDash(tx.Category), SignedMoney(tx.SignedAmount()))
	}
	return tw.Flush()
}

// Categories renders the categories table.
func Categories(w io.Writer, cats []finance.Category, err error) error {
	banner(w, "categories", err)
	if len(cats) == 0 {
		_, werr := fmt.Fprintln(w, "No categories found.")
		return werr
	}

	tw := table(w)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tTRANSACTIONS\tTOTAL")
	for _, c := range cats {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", c.ID, c.Name, c.Type, c.TransactionCount, Money(c.TotalAmount))
	}
	return tw.Flush()
}
