package models

import "time"

// PricePoint is one close-price observation.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// PriceSeries is an ordered close-price series for one symbol, ascending by
// timestamp, forward-filled by the adapter (never back-filled).
type PriceSeries []PricePoint

// PriceSeriesSet maps symbol -> price series. A symbol the provider returned
// nothing for is simply absent.
type PriceSeriesSet map[string]PriceSeries

// PortfolioPoint is one reconstructed snapshot of a user's portfolio:
// net share counts, running cash-flow cost basis, market value of the
// positive positions, and total return percentage.
type PortfolioPoint struct {
	Date           time.Time          `json:"date"`
	Holdings       map[string]float64 `json:"-"`
	CostBasis      float64            `json:"cost_basis"`
	PortfolioValue float64            `json:"portfolio_value"`
	ReturnPct      float64            `json:"return_pct"`
}

// ReturnPoint is one observation of a percentage-return series anchored at
// the series' first value.
type ReturnPoint struct {
	Date      time.Time `json:"date"`
	ReturnPct float64   `json:"return_pct"`
}

// Leaderboard target kinds.
const (
	TargetUser   = "user"
	TargetTicker = "ticker"
)

// LeaderboardRow is one ranked entry: a user's portfolio or a benchmark
// ticker, with the return over the requested period.
type LeaderboardRow struct {
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	ReturnPct      float64 `json:"return_pct"`
	PortfolioValue float64 `json:"portfolio_value,omitempty"`
}

// CompareSeries is one named overlay line for the comparison chart.
type CompareSeries struct {
	Name   string        `json:"name"`
	Type   string        `json:"type"`
	Points []ReturnPoint `json:"points"`
}
