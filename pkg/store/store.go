// Package store binds the typed finance client to the query cache: each read
// has a key and a freshness window, each write names the keys it
// invalidates.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"finance-client/pkg/finance"
	"finance-client/pkg/httpclient"
	"finance-client/pkg/logging"
	"finance-client/pkg/query"
)

// Store is the data layer the views and forms use.
type Store struct {
	api    *finance.Client
	cache  *query.Client
	logger *logging.Logger
}

func New(api *finance.Client, cache *query.Client, logger *logging.Logger) *Store {
	return &Store{
		api:    api,
		cache:  cache,
		logger: logging.OrGlobal(logger, logging.ComponentStore),
	}
}

// Cache exposes the underlying query cache for inspection.
func (s *Store) Cache() *query.Client {
	return s.cache
}

// ShouldRetry is the retry policy for backend reads: client errors and
// malformed bodies fail the same way every time.
func ShouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, finance.ErrDecode) {
		return false
	}
	if code := httpclient.StatusCode(err); code >= 400 && code < 500 {
		return false
	}
	return true
}

func readList[T any](ctx context.Context, s *Store, q query.Query) ([]T, error) {
	items, err := query.Get[[]T](ctx, s.cache, q)
	if items == nil {
		items = []T{}
	}
	if err != nil && !errors.Is(err, finance.ErrListUnavailable) {
		err = fmt.Errorf("%w: %s: %w", finance.ErrListUnavailable, q.Key, err)
	}
	return items, err
}

func readOne[T any](ctx context.Context, s *Store, q query.Query) (*T, error) {
	payload, err := s.cache.Fetch(ctx, q)
	if payload == nil {
		return nil, err
	}
	v, derr := query.Decode[T](payload)
	if derr != nil {
		return nil, derr
	}
	return &v, err
}

func mutate[T any](ctx context.Context, s *Store, m query.Mutation) (*T, error) {
	payload, err := s.cache.Mutate(ctx, m)
	if err != nil {
		return nil, err
	}
	v, err := query.Decode[T](payload)
	if err != nil {
		s.logger.Error("mutation response unreadable", zap.String("mutation", m.Name), zap.Error(err))
		return nil, err
	}
	return &v, nil
}

func (s *Store) remove(ctx context.Context, name string, entity query.Key, invalidates []query.Key, do func(context.Context) error) error {
	_, err := s.cache.Mutate(ctx, query.Mutation{
		Name: name,
		Do: func(ctx context.Context) ([]byte, error) {
			return nil, do(ctx)
		},
		Entity:      entity,
		Deletes:     true,
		Invalidates: invalidates,
	})
	return err
}

// Dashboard

func (s *Store) dashboardStatsQuery() query.Query {
	return query.Query{Key: KeyDashboardStats, StaleTime: StaleDashboardStats, Fetch: query.JSON(s.api.DashboardStats)}
}

func (s *Store) DashboardStats(ctx context.Context) (*finance.DashboardStats, error) {
	return readOne[finance.DashboardStats](ctx, s, s.dashboardStatsQuery())
}

func (s *Store) chartDataQuery(period string) query.Query {
	if period == "" {
		period = DefaultPeriod
	}
	return query.Query{
		Key:       ChartDataKey(period),
		StaleTime: StaleChartData,
		Fetch: query.JSON(func(ctx context.Context) (*finance.ChartData, error) {
			return s.api.ChartData(ctx, period)
		}),
	}
}

func (s *Store) ChartData(ctx context.Context, period string) (*finance.ChartData, error) {
	return readOne[finance.ChartData](ctx, s, s.chartDataQuery(period))
}

// Transactions

func (s *Store) transactionsQuery() query.Query {
	return query.Query{Key: KeyTransactions, StaleTime: StaleTransactions, Fetch: query.JSON(s.api.ListTransactions)}
}

func (s *Store) Transactions(ctx context.Context) ([]finance.Transaction, error) {
	return readList[finance.Transaction](ctx, s, s.transactionsQuery())
}

func (s *Store) SearchTransactions(ctx context.Context, f finance.TransactionFilter) ([]finance.Transaction, error) {
	return readList[finance.Transaction](ctx, s, query.Query{
		Key:       SearchKey(f),
		StaleTime: StaleTransactions,
		Fetch: query.JSON(func(ctx context.Context) ([]finance.Transaction, error) {
			return s.api.SearchTransactions(ctx, f)
		}),
	})
}

func (s *Store) Transaction(ctx context.Context, id finance.ID) (*finance.Transaction, error) {
	return readOne[finance.Transaction](ctx, s, query.Query{
		Key:       TransactionKey(id),
		StaleTime: StaleTransaction,
		Fetch: query.JSON(func(ctx context.Context) (*finance.Transaction, error) {
			return s.api.GetTransaction(ctx, id)
		}),
	})
}

func (s *Store) CreateTransaction(ctx context.Context, in finance.TransactionInput) (*finance.Transaction, error) {
	return mutate[finance.Transaction](ctx, s, query.Mutation{
		Name: "create-transaction",
		Do: query.JSON(func(ctx context.Context) (*finance.Transaction, error) {
			return s.api.CreateTransaction(ctx, in)
		}),
		Invalidates: []query.Key{KeyTransactions, KeyDashboardStats, KeyChartData},
	})
}

func (s *Store) UpdateTransaction(ctx context.Context, id finance.ID, in finance.TransactionInput) (*finance.Transaction, error) {
	return mutate[finance.Transaction](ctx, s, query.Mutation{
		Name: "update-transaction",
		Do: query.JSON(func(ctx context.Context) (*finance.Transaction, error) {
			return s.api.UpdateTransaction(ctx, id, in)
		}),
		Entity:      TransactionKey(id),
		Invalidates: []query.Key{KeyTransactions, KeyDashboardStats},
	})
}

func (s *Store) DeleteTransaction(ctx context.Context, id finance.ID) error {
	return s.remove(ctx, "delete-transaction", TransactionKey(id),
		[]query.Key{KeyTransactions, KeyDashboardStats},
		func(ctx context.Context) error { return s.api.DeleteTransaction(ctx, id) })
}

// Categories

func (s *Store) Categories(ctx context.Context) ([]finance.Category, error) {
	return readList[finance.Category](ctx, s, query.Query{
		Key:       KeyCategories,
		StaleTime: StaleCategories,
		Fetch:     query.JSON(s.api.ListCategories),
	})
}

func (s *Store) CreateCategory(ctx context.Context, in finance.CategoryInput) (*finance.Category, error) {
	return mutate[finance.Category](ctx, s, query.Mutation{
		Name: "create-category",
		Do: query.JSON(func(ctx context.Context) (*finance.Category, error) {
			return s.api.CreateCategory(ctx, in)
		}),
		Invalidates: []query.Key{KeyCategories},
	})
}

// Investments

func (s *Store) Investments(ctx context.Context) ([]finance.Investment, error) {
	return readList[finance.Investment](ctx, s, query.Query{
		Key:       KeyInvestments,
		StaleTime: StaleInvestments,
		Fetch:     query.JSON(s.api.ListInvestments),
	})
}

func (s *Store) Investment(ctx context.Context, id finance.ID) (*finance.Investment, error) {
	return readOne[finance.Investment](ctx, s, query.Query{
		Key:       InvestmentKey(id),
		StaleTime: StaleInvestments,
		Fetch: query.JSON(func(ctx context.Context) (*finance.Investment, error) {
			return s.api.GetInvestment(ctx, id)
		}),
	})
}

func (s *Store) InvestmentStats(ctx context.Context) (*finance.InvestmentStats, error) {
	return readOne[finance.InvestmentStats](ctx, s, query.Query{
		Key:       KeyInvestmentStats,
		StaleTime: StaleInvestmentStats,
		Fetch:     query.JSON(s.api.InvestmentStats),
	})
}

var investmentDependents = []query.Key{KeyInvestments, KeyInvestmentStats}

func (s *Store) CreateInvestment(ctx context.Context, in finance.InvestmentInput) (*finance.Investment, error) {
	return mutate[finance.Investment](ctx, s, query.Mutation{
		Name: "create-investment",
		Do: query.JSON(func(ctx context.Context) (*finance.Investment, error) {
			return s.api.CreateInvestment(ctx, in)
		}),
		Invalidates: investmentDependents,
	})
}

func (s *Store) UpdateInvestment(ctx context.Context, id finance.ID, in finance.InvestmentInput) (*finance.Investment, error) {
	return mutate[finance.Investment](ctx, s, query.Mutation{
		Name: "update-investment",
		Do: query.JSON(func(ctx context.Context) (*finance.Investment, error) {
			return s.api.UpdateInvestment(ctx, id, in)
		}),
		Entity:      InvestmentKey(id),
		Invalidates: investmentDependents,
	})
}

func (s *Store) DeleteInvestment(ctx context.Context, id finance.ID) error {
	return s.remove(ctx, "delete-investment", InvestmentKey(id), investmentDependents,
		func(ctx context.Context) error { return s.api.DeleteInvestment(ctx, id) })
}

// Goals

func (s *Store) Goals(ctx context.Context) ([]finance.Goal, error) {
	return readList[finance.Goal](ctx, s, query.Query{
		Key:       KeyGoals,
		StaleTime: StaleGoals,
		Fetch:     query.JSON(s.api.ListGoals),
	})
}

func (s *Store) Goal(ctx context.Context, id finance.ID) (*finance.Goal, error) {
	return readOne[finance.Goal](ctx, s, query.Query{
		Key:       GoalKey(id),
		StaleTime: StaleGoals,
		Fetch: query.JSON(func(ctx context.Context) (*finance.Goal, error) {
			return s.api.GetGoal(ctx, id)
		}),
	})
}

func (s *Store) GoalStats(ctx context.Context) (*finance.GoalStats, error) {
	return readOne[finance.GoalStats](ctx, s, query.Query{
		Key:       KeyGoalStats,
		StaleTime: StaleGoalStats,
		Fetch:     query.JSON(s.api.GoalStats),
	})
}

var goalDependents = []query.Key{KeyGoals, KeyGoalStats}

func (s *Store) CreateGoal(ctx context.Context, in finance.GoalInput) (*finance.Goal, error) {
	return mutate[finance.Goal](ctx, s, query.Mutation{
		Name: "create-goal",
		Do: query.JSON(func(ctx context.Context) (*finance.Goal, error) {
			return s.api.CreateGoal(ctx, in)
		}),
		Invalidates: goalDependents,
	})
}

func (s *Store) UpdateGoal(ctx context.Context, id finance.ID, in finance.GoalInput) (*finance.Goal, error) {
	return mutate[finance.Goal](ctx, s, query.Mutation{
		Name: "update-goal",
		Do: query.JSON(func(ctx context.Context) (*finance.Goal, error) {
			return s.api.UpdateGoal(ctx, id, in)
		}),
		Entity:      GoalKey(id),
		Invalidates: goalDependents,
	})
}

func (s *Store) DeleteGoal(ctx context.Context, id finance.ID) error {
	return s.remove(ctx, "delete-goal", GoalKey(id), goalDependents,
		func(ctx context.Context) error { return s.api.DeleteGoal(ctx, id) })
}

// User and health

func (s *Store) UserProfile(ctx context.Context) (*finance.UserProfile, error) {
	return readOne[finance.UserProfile](ctx, s, query.Query{
		Key:       KeyUserProfile,
		StaleTime: StaleUserProfile,
		Fetch:     query.JSON(s.api.UserProfile),
	})
}

// HealthQuery is the health check as a query, for Watch.
func (s *Store) HealthQuery() query.Query {
	return query.Query{
		Key:        KeyHealth,
		StaleTime:  StaleHealth,
		Retry:      healthRetry,
		RetryDelay: healthDelay,
		Fetch:      query.JSON(s.api.Health),
	}
}

func (s *Store) Health(ctx context.Context) (*finance.HealthStatus, error) {
	return readOne[finance.HealthStatus](ctx, s, s.HealthQuery())
}

// WatchHealth polls the health check every HealthInterval until ctx ends.
func (s *Store) WatchHealth(ctx context.Context) (<-chan query.Update, error) {
	return s.cache.Watch(ctx, s.HealthQuery(), HealthInterval)
}

// Login exchanges credentials for a token. It is not cached.
func (s *Store) Login(ctx context.Context, email, password string) (*finance.Token, error) {
	return s.api.Login(ctx, email, password)
}

// Reset drops every cached query, e.g. after logout.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.cache.Invalidate(ctx,
		KeyDashboardStats, KeyChartData, KeyTransactions, query.Key{"transaction"},
		KeyCategories, KeyInvestments, KeyInvestmentStats, query.Key{"investment"},
		KeyGoals, KeyGoalStats, query.Key{"goal"}, KeyUserProfile)
	return err
}
