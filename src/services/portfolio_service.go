package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	gocache "github.com/patrickmn/go-cache"

	"github.com/username/familyalpha/backend/src/logger"
	"github.com/username/familyalpha/backend/src/model"
	"github.com/username/familyalpha/backend/src/models"
	"github.com/username/familyalpha/backend/src/replay"
)

type portfolioServiceImpl struct {
	db           *sql.DB
	priceService PriceService
	benchmarks   []string
	cache        *gocache.Cache
}

// NewPortfolioService wires the derived-view service over the trade ledger
// and the quote provider. benchmarks is the fixed ticker set the leaderboard
// ranks alongside the family's portfolios.
func NewPortfolioService(db *sql.DB, priceService PriceService, benchmarks []string) PortfolioService {
	return &portfolioServiceImpl{
		db:           db,
		priceService: priceService,
		benchmarks:   benchmarks,
		cache:        gocache.New(quoteCacheTTL, cacheCleanupInterval),
	}
}

func (s *portfolioServiceImpl) GetPortfolioHistory(ctx context.Context, userID int64, period Period) ([]models.PortfolioPoint, error) {
	cacheKey := fmt.Sprintf("pf_hist_user_%d_%s", userID, period.Range)
	if cached, found := s.cache.Get(cacheKey); found {
		return cached.([]models.PortfolioPoint), nil
	}

	trades, err := model.ListTradesByUser(s.db, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades for user %d: %w", userID, err)
	}
	if len(trades) == 0 {
		return nil, nil
	}

	symbols := uniqueSymbols(trades)
	prices := s.priceService.GetHistorySet(ctx, symbols, period)
	points := replay.Replay(trades, prices)

	s.cache.Set(cacheKey, points, period.CacheTTL())
	return points, nil
}

func (s *portfolioServiceImpl) GetCompareSeries(ctx context.Context, userIDs []int64, tickers []string, period Period) ([]models.CompareSeries, error) {
	var out []models.CompareSeries

	for _, userID := range userIDs {
		points, err := s.GetPortfolioHistory(ctx, userID, period)
		if err != nil {
			return nil, err
		}
		// A user with nothing to plot is omitted rather than drawn flat.
		if len(points) == 0 {
			continue
		}

		name := fmt.Sprintf("user %d", userID)
		if user, err := model.GetUserByID(s.db, userID); err == nil {
			name = user.DisplayName
		}

		returns := make([]models.ReturnPoint, 0, len(points))
		for _, p := range points {
			returns = append(returns, models.ReturnPoint{Date: p.Date, ReturnPct: p.ReturnPct})
		}
		out = append(out, models.CompareSeries{Name: name, Type: models.TargetUser, Points: returns})
	}

	for _, ticker := range tickers {
		series := s.priceService.GetHistory(ctx, ticker, period)
		if len(series) == 0 {
			logger.L.Warn("Comparison ticker has no data, omitting", "ticker", ticker)
			continue
		}
		out = append(out, models.CompareSeries{
			Name:   ticker,
			Type:   models.TargetTicker,
			Points: replay.Normalize(series),
		})
	}

	return out, nil
}

func (s *portfolioServiceImpl) GetLeaderboard(ctx context.Context, period Period) ([]models.LeaderboardRow, error) {
	cacheKey := fmt.Sprintf("leaderboard_%s", period.Range)
	if cached, found := s.cache.Get(cacheKey); found {
		return cached.([]models.LeaderboardRow), nil
	}

	userIDs, err := model.ListUserIDsWithTrades(s.db)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with trades: %w", err)
	}

	var rows []models.LeaderboardRow
	for _, userID := range userIDs {
		points, err := s.GetPortfolioHistory(ctx, userID, period)
		if err != nil {
			return nil, err
		}
		if len(points) == 0 {
			continue
		}

		name := fmt.Sprintf("user %d", userID)
		if user, err := model.GetUserByID(s.db, userID); err == nil {
			name = user.DisplayName
		}

		last := points[len(points)-1]
		rows = append(rows, models.LeaderboardRow{
			Name:           name,
			Type:           models.TargetUser,
			ReturnPct:      last.ReturnPct,
			PortfolioValue: last.PortfolioValue,
		})
	}

	for _, ticker := range s.benchmarks {
		series := s.priceService.GetHistory(ctx, ticker, period)
		if len(series) == 0 {
			continue
		}
		norm := replay.Normalize(series)
		rows = append(rows, models.LeaderboardRow{
			Name:      ticker,
			Type:      models.TargetTicker,
			ReturnPct: norm[len(norm)-1].ReturnPct,
		})
	}

	// Stable sort keeps insertion order on equal returns, so ranking never
	// flickers between refreshes.
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ReturnPct > rows[j].ReturnPct
	})

	s.cache.Set(cacheKey, rows, period.CacheTTL())
	return rows, nil
}

// InvalidateUser drops the cached views a ledger change makes stale: the
// user's own history and every leaderboard snapshot.
func (s *portfolioServiceImpl) InvalidateUser(userID int64) {
	for _, p := range supportedPeriods {
		s.cache.Delete(fmt.Sprintf("pf_hist_user_%d_%s", userID, p.Range))
		s.cache.Delete(fmt.Sprintf("leaderboard_%s", p.Range))
	}
}

func uniqueSymbols(trades []model.Trade) []string {
	seen := make(map[string]bool, len(trades))
	var symbols []string
	for _, t := range trades {
		if !seen[t.Symbol] {
			seen[t.Symbol] = true
			symbols = append(symbols, t.Symbol)
		}
	}
	return symbols
}
