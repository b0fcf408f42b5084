package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"finance-client/pkg/api"
	"finance-client/pkg/finance"
	"finance-client/pkg/forms"
	"finance-client/pkg/invalidation"
	"finance-client/pkg/session"
	"finance-client/pkg/store"
	"finance-client/pkg/views"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"dashboard":          {"show balance, chart series and recent transactions", runDashboard},
		"transactions":       {"list or search transactions", runTransactions},
		"add-transaction":    {"record an income or expense", runAddTransaction},
		"update-transaction": {"edit a transaction", runUpdateTransaction},
		"delete-transaction": {"delete a transaction", runDeleteTransaction},
		"categories":         {"list categories", runCategories},
		"investments":        {"list investments with profit and loss", runInvestments},
		"add-investment":     {"record an investment", runAddInvestment},
		"update-investment":  {"edit an investment", runUpdateInvestment},
		"delete-investment":  {"delete an investment", runDeleteInvestment},
		"goals":              {"list goals and their progress", runGoals},
		"add-goal":           {"create a goal", runAddGoal},
		"delete-goal":        {"delete a goal", runDeleteGoal},
		"login":              {"log in and store the token", runLogin},
		"logout":             {"forget the stored token", runLogout},
		"whoami":             {"show the logged in user", runWhoami},
		"health":             {"check the backend", runHealth},
		"cache":              {"show cached queries and conflicts", runCache},
		"serve":              {"run the inspection API and watch backend health", runServe},
	}
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet("finclient "+name, flag.ContinueOnError)
}

// setFlags returns the names of the flags given on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func requireID(fs *flag.FlagSet, id string) (finance.ID, error) {
	if strings.TrimSpace(id) == "" {
		fs.Usage()
		return "", errors.New("-id is required")
	}
	return finance.ID(id), nil
}

func runDashboard(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("dashboard")
	period := fs.String("period", store.DefaultPeriod, "chart period: 7d, 30d or 90d")
	if err := fs.Parse(args); err != nil {
		return err
	}

	views.Loading(a.out, "dashboard")
	d, err := views.LoadDashboard(ctx, a.store, *period)
	if err != nil {
		a.logger.Debug("dashboard partially loaded", zap.Error(err))
	}
	return d.Render(a.out)
}

func runTransactions(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("transactions")
	q := fs.String("q", "", "search text")
	typ := fs.String("type", "", "income or expense")
	category := fs.String("category", "", "category name")
	from := fs.String("from", "", "start date (YYYY-MM-DD)")
	to := fs.String("to", "", "end date (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *q == "" && *typ == "" && *category == "" && *from == "" && *to == "" {
		txs, err := a.store.Transactions(ctx)
		return views.Transactions(a.out, txs, err)
	}

	filter := finance.TransactionFilter{
		Query:    *q,
		Category: *category,
		Type:     finance.TransactionType(*typ),
	}
	var err error
	if *from != "" {
		if filter.StartDate, err = finance.ParseDate(*from); err != nil {
			return fmt.Errorf("invalid -from: %w", err)
		}
	}
	if *to != "" {
		if filter.EndDate, err = finance.ParseDate(*to); err != nil {
			return fmt.Errorf("invalid -to: %w", err)
		}
	}
	txs, err := a.store.SearchTransactions(ctx, filter)
	return views.Transactions(a.out, txs, err)
}

func transactionFlags(fs *flag.FlagSet, f *forms.TransactionForm) {
	fs.StringVar(&f.Description, "description", f.Description, "description")
	fs.StringVar(&f.Amount, "amount", f.Amount, "amount, e.g. 3500 or 12.90")
	fs.StringVar(&f.Type, "type", f.Type, "income or expense")
	fs.StringVar(&f.Category, "category", f.Category, "category name")
	fs.StringVar(&f.Date, "date", f.Date, "date (YYYY-MM-DD)")
	fs.StringVar(&f.Notes, "notes", f.Notes, "notes")
}

func runAddTransaction(ctx context.Context, a *app, args []string) error {
	f := forms.NewTransactionForm(a.now)
	fs := newFlagSet("add-transaction")
	transactionFlags(fs, f)
	if err := fs.Parse(args); err != nil {
		return err
	}

	tx, err := f.Submit(ctx, a.store)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved transaction #%s.\n", tx.ID)
	return nil
}

func runUpdateTransaction(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("update-transaction")
	id := fs.String("id", "", "transaction id")
	edits := forms.TransactionForm{}
	transactionFlags(fs, &edits)
	if err := fs.Parse(args); err != nil {
		return err
	}
	txID, err := requireID(fs, *id)
	if err != nil {
		return err
	}

	current, err := a.store.Transaction(ctx, txID)
	if err != nil {
		return err
	}
	f := forms.EditTransactionForm(*current)
	set := setFlags(fs)
	if set["type"] {
		f.SetType(finance.TransactionType(edits.Type))
	}
	if set["description"] {
		f.Description = edits.Description
	}
	if set["amount"] {
		f.Amount = edits.Amount
	}
	if set["category"] {
		f.Category = edits.Category
	}
	if set["date"] {
		f.Date = edits.Date
	}
	if set["notes"] {
		f.Notes = edits.Notes
	}

	tx, err := f.Submit(ctx, a.store)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated transaction #%s.\n", tx.ID)
	return nil
}

func runDeleteTransaction(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("delete-transaction")
	id := fs.String("id", "", "transaction id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	txID, err := requireID(fs, *id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteTransaction(ctx, txID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted transaction #%s.\n", txID)
	return nil
}

func runCategories(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("categories")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cats, err := a.store.Categories(ctx)
	return views.Categories(a.out, cats, err)
}

func runInvestments(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("investments")
	q := fs.String("q", "", "search name, type or description")
	typ := fs.String("type", "", "acao, fundo, cdi, tesouro, cripto or outros")
	if err := fs.Parse(args); err != nil {
		return err
	}

	invs, err := a.store.Investments(ctx)
	if err := views.Investments(a.out, invs, views.InvestmentFilter{Term: *q, Type: finance.InvestmentType(*typ)}, err); err != nil {
		return err
	}
	if len(invs) == 0 {
		return nil
	}
	fmt.Fprintln(a.out)
	stats, err := a.store.InvestmentStats(ctx)
	return views.InvestmentStats(a.out, stats, err)
}

func investmentFlags(fs *flag.FlagSet, f *forms.InvestmentForm) {
	fs.StringVar(&f.Name, "name", f.Name, "name")
	fs.StringVar(&f.Type, "type", f.Type, "acao, fundo, cdi, tesouro, cripto or outros")
	fs.StringVar(&f.AmountInvested, "invested", f.AmountInvested, "amount invested")
	fs.StringVar(&f.CurrentValue, "current", f.CurrentValue, "current value (defaults to the amount invested)")
	fs.StringVar(&f.PurchaseDate, "date", f.PurchaseDate, "purchase date (YYYY-MM-DD)")
	fs.StringVar(&f.Description, "description", f.Description, "description")
}

func runAddInvestment(ctx context.Context, a *app, args []string) error {
	var input forms.InvestmentForm
	fs := newFlagSet("add-investment")
	investmentFlags(fs, &input)
	if err := fs.Parse(args); err != nil {
		return err
	}

	f := forms.NewInvestmentForm(a.now)
	set := setFlags(fs)
	f.Name = input.Name
	f.Description = input.Description
	if set["type"] {
		f.Type = input.Type
	}
	if set["date"] {
		f.PurchaseDate = input.PurchaseDate
	}
	if set["current"] {
		f.CurrentValue = input.CurrentValue
	}
	f.SetAmountInvested(input.AmountInvested)

	inv, err := f.Submit(ctx, a.store)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved investment #%s.\n", inv.ID)
	return nil
}

func runUpdateInvestment(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("update-investment")
	id := fs.String("id", "", "investment id")
	var edits forms.InvestmentForm
	investmentFlags(fs, &edits)
	if err := fs.Parse(args); err != nil {
		return err
	}
	invID, err := requireID(fs, *id)
	if err != nil {
		return err
	}

	current, err := a.store.Investment(ctx, invID)
	if err != nil {
		return err
	}
	f := forms.EditInvestmentForm(*current)
	set := setFlags(fs)
	if set["name"] {
		f.Name = edits.Name
	}
	if set["type"] {
		f.Type = edits.Type
	}
	if set["invested"] {
		f.AmountInvested = edits.AmountInvested
	}
	if set["current"] {
		f.CurrentValue = edits.CurrentValue
	}
	if set["date"] {
		f.PurchaseDate = edits.PurchaseDate
	}
	if set["description"] {
		f.Description = edits.Description
	}

	fmt.Fprintf(a.out, "Profit/loss after update: %s\n", views.SignedMoney(f.ProfitLossPreview()))
	inv, err := f.Submit(ctx, a.store)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated investment #%s.\n", inv.ID)
	return nil
}

func runDeleteInvestment(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("delete-investment")
	id := fs.String("id", "", "investment id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	invID, err := requireID(fs, *id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteInvestment(ctx, invID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted investment #%s.\n", invID)
	return nil
}

func runGoals(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("goals")
	q := fs.String("q", "", "search title, goal type or period")
	if err := fs.Parse(args); err != nil {
		return err
	}

	goals, err := a.store.Goals(ctx)
	if err := views.Goals(a.out, goals, *q, a.now(), err); err != nil {
		return err
	}
	if len(goals) == 0 {
		return nil
	}
	fmt.Fprintln(a.out)
	stats, err := a.store.GoalStats(ctx)
	return views.GoalStats(a.out, stats, err)
}

func runAddGoal(ctx context.Context, a *app, args []string) error {
	var input forms.GoalForm
	fs := newFlagSet("add-goal")
	fs.StringVar(&input.Title, "title", "", "title")
	fs.StringVar(&input.Description, "description", "", "description")
	fs.StringVar(&input.GoalType, "type", "", "economia, investimento, compra, viagem or outros")
	fs.StringVar(&input.TargetAmount, "target", "", "target amount")
	fs.StringVar(&input.CurrentAmount, "current", "", "amount saved so far")
	fs.StringVar(&input.PeriodType, "period", "", "mensal, anual or livre")
	fs.StringVar(&input.StartDate, "start", "", "start date (YYYY-MM-DD)")
	fs.StringVar(&input.EndDate, "end", "", "end date (YYYY-MM-DD, suggested from the period)")
	fs.StringVar(&input.CategoryID, "category-id", "", "category id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f := forms.NewGoalForm(a.now)
	set := setFlags(fs)
	f.Title = input.Title
	f.Description = input.Description
	f.CategoryID = input.CategoryID
	f.TargetAmount = input.TargetAmount
	if set["type"] {
		f.GoalType = input.GoalType
	}
	if set["current"] {
		f.CurrentAmount = input.CurrentAmount
	}
	if set["start"] {
		f.SetStartDate(input.StartDate)
	}
	if set["period"] {
		f.SetPeriod(finance.PeriodType(input.PeriodType))
	}
	if set["end"] {
		f.EndDate = input.EndDate
	}

	fmt.Fprintf(a.out, "Progress: %s %.1f%%, ends %s\n",
		views.ProgressBar(f.ProgressPreview(), 20), f.ProgressPreview(), f.EndDate)
	g, err := f.Submit(ctx, a.store)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved goal #%s.\n", g.ID)
	return nil
}

func runDeleteGoal(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("delete-goal")
	id := fs.String("id", "", "goal id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	goalID, err := requireID(fs, *id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteGoal(ctx, goalID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted goal #%s.\n", goalID)
	return nil
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "password (read from stdin when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		fs.Usage()
		return errors.New("-email is required")
	}
	if *password == "" {
		fmt.Fprint(a.out, "Password: ")
		line, err := bufio.NewReader(a.in).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		*password = strings.TrimRight(line, "\r\n")
	}

	user, err := a.session.Login(ctx, a.store, *email, *password)
	if err != nil {
		return err
	}
	// Cached reads belong to the previous identity.
	if err := a.store.Reset(ctx); err != nil {
		a.logger.Warn("clearing cache after login failed", zap.Error(err))
	}
	fmt.Fprintf(a.out, "Logged in as %s.\n", user.Email)
	return nil
}

func runLogout(ctx context.Context, a *app, args []string) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	if err := a.store.Reset(ctx); err != nil {
		a.logger.Warn("clearing cache after logout failed", zap.Error(err))
	}
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}

func runWhoami(ctx context.Context, a *app, args []string) error {
	user, err := a.session.User(ctx)
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		fmt.Fprintln(a.out, "Not logged in.")
		return nil
	case errors.Is(err, session.ErrOpaqueToken):
		fmt.Fprintln(a.out, "Logged in (token carries no user details).")
		return nil
	case err != nil:
		return err
	}
	name := user.Name
	if name == "" {
		name = user.Email
	}
	fmt.Fprintf(a.out, "%s <%s> (id %s)\n", name, user.Email, user.ID)
	return nil
}

func runHealth(ctx context.Context, a *app, args []string) error {
	h, err := a.store.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Backend OK: %s\n", h.Message)
	return nil
}

func runCache(ctx context.Context, a *app, args []string) error {
	if err := views.Queries(a.out, a.cache.Snapshot(), a.now()); err != nil {
		return err
	}
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, a.chain)
	for _, l := range a.chain.Status() {
		fmt.Fprintf(a.out, "  %s: circuit %s, %d queued, %d dropped\n", l.Name, l.Circuit, l.Queued, l.Dropped)
	}
	fmt.Fprintln(a.out)
	return views.Conflicts(a.out, a.cache.Conflicts())
}

// runServe keeps the process alive: it serves the inspection API, polls the
// backend health and applies invalidations from other processes.
func runServe(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("serve")
	addr := fs.String("addr", a.cfg.APIAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	config := api.DefaultServerConfig()
	config.Address = *addr
	server := api.NewServer(a.cache, a.chain, a.collector, config,
		api.WithLogger(a.logger),
		api.WithHealth(func(ctx context.Context) error {
			_, err := a.store.Health(ctx)
			return err
		}))
	if err := server.Start(); err != nil {
		return err
	}

	if a.bus != nil {
		go func() {
			if err := a.bus.Consume(ctx, invalidation.Handler(a.cache, a.logger)); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("invalidation consumer stopped", zap.Error(err))
			}
		}()
	}

	updates, err := a.store.WatchHealth(ctx)
	if err != nil {
		return err
	}
	for u := range updates {
		switch {
		case u.Err != nil:
			a.logger.Warn("backend unhealthy", zap.String("state", u.State.String()), zap.Error(u.Err))
		case u.Data != nil:
			a.logger.Info("backend healthy", zap.String("state", u.State.String()))
		}
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
