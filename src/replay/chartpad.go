package replay

import (
	"time"

	"github.com/username/familyalpha/backend/src/model"
	"github.com/username/familyalpha/backend/src/models"
)

// PadForChart guarantees the two-point minimum a line chart needs. The engine
// output stays raw; handlers apply this right before serialization.
//
// A single snapshot is duplicated one minute later. An empty replay with a
// non-empty ledger becomes a flat two-point line over the 24 hours before
// now, valued at the ledger's naive worth (shares priced at their own trade
// price). Empty replay with an empty ledger stays empty.
func PadForChart(points []models.PortfolioPoint, trades []model.Trade, now time.Time) []models.PortfolioPoint {
	if len(points) >= 2 {
		return points
	}

	if len(points) == 1 {
		ghost := points[0]
		ghost.Date = ghost.Date.Add(time.Minute)
		return []models.PortfolioPoint{points[0], ghost}
	}

	if len(trades) == 0 {
		return nil
	}

	value := naiveValue(trades)
	flat := models.PortfolioPoint{
		CostBasis:      value,
		PortfolioValue: value,
		ReturnPct:      0,
	}
	start := flat
	start.Date = now.Add(-24 * time.Hour)
	end := flat
	end.Date = now
	return []models.PortfolioPoint{start, end}
}

// naiveValue estimates portfolio worth with no market data at all: each net
// position valued at the prices it was traded at.
func naiveValue(trades []model.Trade) float64 {
	value := 0.0
	for _, t := range trades {
		switch t.Side {
		case model.SideBuy:
			value += t.Quantity * t.Price
		case model.SideSell:
			value -= t.Quantity * t.Price
		}
	}
	if value < 0 {
		return 0
	}
	return value
}
