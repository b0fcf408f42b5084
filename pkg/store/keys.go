package store

import (
	"fmt"
	"net/url"
	"time"

	"github.com/cespare/xxhash/v2"

	"finance-client/pkg/finance"
	"finance-client/pkg/query"
)

// Query keys. Detail keys use the singular resource name so that
// invalidating a collection leaves entity writes alone.
var (
	KeyDashboardStats  = query.Key{"dashboard-stats"}
	KeyChartData       = query.Key{"chart-data"}
	KeyTransactions    = query.Key{"transactions"}
	KeyCategories      = query.Key{"categories"}
	KeyInvestments     = query.Key{"investments"}
	KeyInvestmentStats = query.Key{"investment-stats"}
	KeyGoals           = query.Key{"goals"}
	KeyGoalStats       = query.Key{"goal-stats"}
	KeyUserProfile     = query.Key{"user-profile"}
	KeyHealth          = query.Key{"health-check"}
)

func TransactionKey(id finance.ID) query.Key { return query.Key{"transaction", id.String()} }
func InvestmentKey(id finance.ID) query.Key  { return query.Key{"investment", id.String()} }
func GoalKey(id finance.ID) query.Key        { return query.Key{"goal", id.String()} }

func ChartDataKey(period string) query.Key {
	return query.Key{"chart-data", period}
}

// SearchKey nests a search under the transactions key so every transaction
// invalidation covers cached searches too. The filter is hashed because
// free text may contain the key separator.
func SearchKey(f finance.TransactionFilter) query.Key {
	v := url.Values{}
	v.Set("q", f.Query)
	v.Set("start", f.StartDate.String())
	v.Set("end", f.EndDate.String())
	v.Set("category", f.Category)
	v.Set("type", string(f.Type))
	return query.Key{"transactions", "search", fmt.Sprintf("%016x", xxhash.Sum64String(v.Encode()))}
}

// Freshness windows per resource.
const (
	StaleDashboardStats  = 5 * time.Minute
	StaleChartData       = 10 * time.Minute
	StaleTransactions    = 2 * time.Minute
	StaleTransaction     = 2 * time.Minute
	StaleCategories      = 15 * time.Minute
	StaleInvestments     = 30 * time.Second
	StaleInvestmentStats = 30 * time.Second
	StaleGoals           = time.Minute
	StaleGoalStats       = time.Minute
	StaleUserProfile     = 30 * time.Minute
	StaleHealth          time.Duration = 0

	// HealthInterval is how often Watch polls the health check.
	HealthInterval = 30 * time.Second
	healthRetry    = 1
	healthDelay    = time.Second
)

// DefaultPeriod is the chart period used when none is given.
const DefaultPeriod = "30d"
