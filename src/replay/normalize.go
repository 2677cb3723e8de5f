package replay

import "github.com/username/familyalpha/backend/src/models"

// Normalize rebases a price series to percentage return relative to its first
// point, so benchmark lines with different price scales overlay on one axis.
// The first output point is always 0. A first close of zero cannot be used as
// a base, so every point degrades to 0 rather than dividing by it.
func Normalize(series models.PriceSeries) []models.ReturnPoint {
	if len(series) == 0 {
		return nil
	}

	base := series[0].Close
	out := make([]models.ReturnPoint, 0, len(series))
	for _, p := range series {
		pct := 0.0
		if base != 0 {
			pct = (p.Close - base) / base * 100
		}
		out = append(out, models.ReturnPoint{Date: p.Date, ReturnPct: pct})
	}
	return out
}
