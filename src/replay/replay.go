// Package replay reconstructs historical portfolio state by replaying a
// user's trade ledger against market price history. It is pure computation:
// no clock reads, no I/O, deterministic for fixed inputs.
package replay

import (
	"sort"
	"time"

	"github.com/username/familyalpha/backend/src/model"
	"github.com/username/familyalpha/backend/src/models"
)

// Replay computes one portfolio snapshot per clock point, where the clock is
// the sorted union of the timestamps of every series in prices. Clock points
// that precede the first trade are skipped. The output is raw: it may be
// empty or hold a single point; chart padding lives in PadForChart.
//
// Trades must belong to a single user. Ties on the event timestamp are
// broken by insertion order, so replaying the same ledger twice yields
// identical output.
//
// Cost basis is a running cash-flow sum: buys add quantity*price, sells
// subtract the sale's own notional rather than the matched lots' cost.
// That average-cost-like approximation is intended behavior, not lot
// accounting.
func Replay(trades []model.Trade, prices models.PriceSeriesSet) []models.PortfolioPoint {
	if len(trades) == 0 {
		return nil
	}

	clock := unionClock(prices)
	if len(clock) == 0 {
		return nil
	}

	ordered := make([]model.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	// Reconcile trade timestamps to the clock's zone before any comparison.
	// The zone never changes the instant, only the representation; the
	// direction (trades into the index's zone, not vice versa) matches the
	// price index being the authoritative axis.
	loc := clock[0].Location()
	firstTrade := ordered[0].CreatedAt.In(loc)

	holdings := make(map[string]float64)
	costBasis := 0.0
	tradeIdx := 0

	lastPrice := make(map[string]float64)
	seriesIdx := make(map[string]int, len(prices))

	var out []models.PortfolioPoint
	for _, t := range clock {
		// Apply every trade effective at or before this clock point.
		for tradeIdx < len(ordered) && !ordered[tradeIdx].CreatedAt.In(loc).After(t) {
			tr := ordered[tradeIdx]
			switch tr.Side {
			case model.SideBuy:
				holdings[tr.Symbol] += tr.Quantity
				costBasis += tr.Quantity * tr.Price
			case model.SideSell:
				holdings[tr.Symbol] -= tr.Quantity
				costBasis -= tr.Quantity * tr.Price
			}
			tradeIdx++
		}

		// Carry each symbol's last observed close forward across clock
		// points that symbol has no tick for.
		for symbol, series := range prices {
			i := seriesIdx[symbol]
			for i < len(series) && !series[i].Date.After(t) {
				lastPrice[symbol] = series[i].Close
				i++
			}
			seriesIdx[symbol] = i
		}

		if t.Before(firstTrade) {
			continue
		}

		marketValue := 0.0
		snapshot := make(map[string]float64, len(holdings))
		for symbol, shares := range holdings {
			snapshot[symbol] = shares
			// Zero and short positions are not priced. The epsilon absorbs
			// float residue left by fractional full exits.
			if shares <= 1e-9 {
				continue
			}
			if price, ok := lastPrice[symbol]; ok && price > 0 {
				marketValue += shares * price
			}
		}

		returnPct := 0.0
		if costBasis > 0 {
			returnPct = (marketValue - costBasis) / costBasis * 100
		}

		out = append(out, models.PortfolioPoint{
			Date:           t,
			Holdings:       snapshot,
			CostBasis:      costBasis,
			PortfolioValue: marketValue,
			ReturnPct:      returnPct,
		})
	}
	return out
}

// unionClock merges every series' timestamps into one ascending, deduplicated
// axis. Duplicate instants across symbols collapse to a single clock point.
func unionClock(prices models.PriceSeriesSet) []time.Time {
	seen := make(map[int64]struct{})
	var clock []time.Time
	for _, series := range prices {
		for _, p := range series {
			key := p.Date.UnixNano()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			clock = append(clock, p.Date)
		}
	}
	sort.Slice(clock, func(i, j int) bool { return clock[i].Before(clock[j]) })
	return clock
}
