// Package finance is the typed client for the personal-finance backend: one
// method per resource operation, each with a fixed response shape.
package finance

import (
	"context"
	"fmt"
	"net/url"

	"finance-client/pkg/httpclient"
	"finance-client/pkg/logging"

	"go.uber.org/zap"
)

// Client calls the backend through an httpclient.Client.
type Client struct {
	http   *httpclient.Client
	logger *logging.Logger
}

func NewClient(hc *httpclient.Client, logger *logging.Logger) *Client {
	return &Client{
		http:   hc,
		logger: logging.OrGlobal(logger, logging.ComponentFinance),
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, shape Shape, out interface{}) error {
	var body []byte
	if err := c.http.Get(ctx, path, query, &body); err != nil {
		return err
	}
	return c.decode(path, shape, body, out)
}

func (c *Client) send(ctx context.Context, method, path string, in interface{}, shape Shape, out interface{}) error {
	var body []byte
	if err := c.http.Do(ctx, method, path, nil, in, &body); err != nil {
		return err
	}
	return c.decode(path, shape, body, out)
}

func (c *Client) decode(path string, shape Shape, body []byte, out interface{}) error {
	if err := decode(path, shape, body, out); err != nil {
		c.logger.Error("response shape mismatch", zap.String("endpoint", path), zap.Error(err))
		return err
	}
	return nil
}

// list runs a list read. On failure it returns an empty slice together with
// the error wrapped in ErrListUnavailable.
func list[T any](ctx context.Context, c *Client, path string, query url.Values, shape Shape) ([]T, error) {
	var items []T
	if err := c.get(ctx, path, query, shape, &items); err != nil {
		return []T{}, fmt.Errorf("%w: %s: %w", ErrListUnavailable, path, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func one[T any](ctx context.Context, c *Client, path string, query url.Values, shape Shape) (*T, error) {
	var item T
	if err := c.get(ctx, path, query, shape, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func write[T any](ctx context.Context, c *Client, method, path string, in interface{}, shape Shape) (*T, error) {
	var item T
	if err := c.send(ctx, method, path, in, shape, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) remove(ctx context.Context, path string) error {
	return c.http.Delete(ctx, path, nil)
}

func idPath(resource string, id ID) string {
	return resource + "/" + url.PathEscape(id.String())
}

// Transactions

func (c *Client) ListTransactions(ctx context.Context) ([]Transaction, error) {
	return list[Transaction](ctx, c, "transactions", nil, Enveloped)
}

func (c *Client) SearchTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error) {
	q := url.Values{}
	if f.Query != "" {
		q.Set("q", f.Query)
	}
	if !f.StartDate.IsZero() {
		q.Set("start_date", f.StartDate.String())
	}
	if !f.EndDate.IsZero() {
		q.Set("end_date", f.EndDate.String())
	}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.Type != "" {
		q.Set("type", string(f.Type))
	}
	return list[Transaction](ctx, c, "transactions/search", q, Enveloped)
}

func (c *Client) GetTransaction(ctx context.Context, id ID) (*Transaction, error) {
	return one[Transaction](ctx, c, idPath("transactions", id), nil, Enveloped)
}

func (c *Client) CreateTransaction(ctx context.Context, in TransactionInput) (*Transaction, error) {
	return write[Transaction](ctx, c, "POST", "transactions", in, Enveloped)
}

func (c *Client) UpdateTransaction(ctx context.Context, id ID, in TransactionInput) (*Transaction, error) {
	return write[Transaction](ctx, c, "PUT", idPath("transactions", id), in, Enveloped)
}

func (c *Client) DeleteTransaction(ctx context.Context, id ID) error {
	return c.remove(ctx, idPath("transactions", id))
}

// Categories

func (c *Client) ListCategories(ctx context.Context) ([]Category, error) {
	return list[Category](ctx, c, "categories", nil, Enveloped)
}

func (c *Client) CreateCategory(ctx context.Context, in CategoryInput) (*Category, error) {
	return write[Category](ctx, c, "POST", "categories", in, Enveloped)
}

// Investments

func (c *Client) ListInvestments(ctx context.Context) ([]Investment, error) {
	return list[Investment](ctx, c, "investments", nil, Enveloped)
}

func (c *Client) GetInvestment(ctx context.Context, id ID) (*Investment, error) {
	return one[Investment](ctx, c, idPath("investments", id), nil, Enveloped)
}

func (c *Client) InvestmentStats(ctx context.Context) (*InvestmentStats, error) {
	return one[InvestmentStats](ctx, c, "investments/stats", nil, Enveloped)
}

func (c *Client) CreateInvestment(ctx context.Context, in InvestmentInput) (*Investment, error) {
	return write[Investment](ctx, c, "POST", "investments", in, Enveloped)
}

func (c *Client) UpdateInvestment(ctx context.Context, id ID, in InvestmentInput) (*Investment, error) {
	return write[Investment](ctx, c, "PUT", idPath("investments", id), in, Enveloped)
}

func (c *Client) DeleteInvestment(ctx context.Context, id ID) error {
	return c.remove(ctx, idPath("investments", id))
}

// Goals. The goals endpoints return bare bodies and the collection path
// keeps its trailing slash.

func (c *Client) ListGoals(ctx context.Context) ([]Goal, error) {
	return list[Goal](ctx, c, "goals/", nil, Bare)
}

func (c *Client) GetGoal(ctx context.Context, id ID) (*Goal, error) {
	return one[Goal](ctx, c, idPath("goals", id), nil, Bare)
}

func (c *Client) GoalStats(ctx context.Context) (*GoalStats, error) {
	return one[GoalStats](ctx, c, "goals/stats", nil, Bare)
}

func (c *Client) CreateGoal(ctx context.Context, in GoalInput) (*Goal, error) {
	return write[Goal](ctx, c, "POST", "goals/", in, Bare)
}

func (c *Client) UpdateGoal(ctx context.Context, id ID, in GoalInput) (*Goal, error) {
	return write[Goal](ctx, c, "PUT", idPath("goals", id), in, Bare)
}

func (c *Client) DeleteGoal(ctx context.Context, id ID) error {
	return c.remove(ctx, idPath("goals", id))
}

// Dashboard

func (c *Client) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	return one[DashboardStats](ctx, c, "dashboard/stats", nil, Enveloped)
}

// ChartData returns the income and expense series for period (e.g. "30d").
// An empty period lets the backend choose.
func (c *Client) ChartData(ctx context.Context, period string) (*ChartData, error) {
	var q url.Values
	if period != "" {
		q = url.Values{"period": {period}}
	}
	return one[ChartData](ctx, c, "dashboard/chart-data", q, Enveloped)
}

// User and auth

func (c *Client) UserProfile(ctx context.Context) (*UserProfile, error) {
	return one[UserProfile](ctx, c, "users/profile", nil, Enveloped)
}

// Login exchanges credentials for an access token using the OAuth2
// password form.
func (c *Client) Login(ctx context.Context, email, password string) (*Token, error) {
	var body []byte
	form := url.Values{"username": {email}, "password": {password}}
	if err := c.http.PostForm(ctx, "auth/login", form, &body); err != nil {
		return nil, err
	}

	var tok Token
	if err := c.decode("auth/login", Bare, body, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		err := &DecodeError{Endpoint: "auth/login", Shape: Bare, Err: fmt.Errorf("missing access_token")}
		c.logger.Error("login response without token", zap.Error(err))
		return nil, err
	}
	return &tok, nil
}

// Health calls the backend's connectivity check.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	return one[HealthStatus](ctx, c, "test", nil, Bare)
}
