package services

import (
	"fmt"
	"strings"
	"time"
)

// Period is a UI-level chart window. Each one maps to the exact
// range/interval pair the quote provider accepts; arbitrary combinations are
// rejected up front so a typo never turns into a provider round trip.
type Period struct {
	Range    string
	Interval string
}

var supportedPeriods = map[string]Period{
	"1D":  {Range: "1d", Interval: "5m"},
	"1W":  {Range: "5d", Interval: "15m"},
	"1M":  {Range: "1mo", Interval: "1d"},
	"3M":  {Range: "3mo", Interval: "1d"},
	"6M":  {Range: "6mo", Interval: "1d"},
	"YTD": {Range: "ytd", Interval: "1d"},
	"1Y":  {Range: "1y", Interval: "1d"},
	"ALL": {Range: "max", Interval: "1wk"},
}

// ErrUnsupportedPeriod marks a period label outside the fixed vocabulary.
var ErrUnsupportedPeriod = fmt.Errorf("unsupported period")

// ParsePeriod resolves a case-insensitive period label ("1D", "ytd", ...)
// to its provider range/interval pair.
func ParsePeriod(label string) (Period, error) {
	p, ok := supportedPeriods[strings.ToUpper(strings.TrimSpace(label))]
	if !ok {
		return Period{}, fmt.Errorf("%w: %q", ErrUnsupportedPeriod, label)
	}
	return p, nil
}

// PeriodLabels returns the supported labels, for error messages and docs.
func PeriodLabels() []string {
	return []string{"1D", "1W", "1M", "3M", "6M", "YTD", "1Y", "ALL"}
}

// CacheTTL is how long a fetched series for this period stays fresh.
// Intraday intervals move constantly; daily and coarser bars only change
// once a session.
func (p Period) CacheTTL() time.Duration {
	switch p.Interval {
	case "5m", "15m":
		return 5 * time.Minute
	default:
		return time.Hour
	}
}
