package services

import (
	"context"

	"github.com/username/familyalpha/backend/src/models"
)

// PriceService fetches market data from the quote provider, with caching.
// History calls degrade to an empty series on provider failure so callers
// can always render something.
type PriceService interface {
	// GetHistory returns the forward-filled close series for one symbol.
	// Empty (never nil error for provider faults) when the provider has
	// nothing usable.
	GetHistory(ctx context.Context, symbol string, period Period) models.PriceSeries
	// GetHistorySet fetches several symbols' series, keyed by symbol.
	// Symbols that resolved to nothing are absent from the map.
	GetHistorySet(ctx context.Context, symbols []string, period Period) models.PriceSeriesSet
	// GetLatestPrice returns the most recent market price for a symbol.
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
}

// PortfolioService produces the derived views: per-user portfolio history,
// the comparison overlay, and the family leaderboard.
type PortfolioService interface {
	GetPortfolioHistory(ctx context.Context, userID int64, period Period) ([]models.PortfolioPoint, error)
	GetCompareSeries(ctx context.Context, userIDs []int64, tickers []string, period Period) ([]models.CompareSeries, error)
	GetLeaderboard(ctx context.Context, period Period) ([]models.LeaderboardRow, error)
	// InvalidateUser drops cached views after the user's ledger changes.
	InvalidateUser(userID int64)
}
