package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/username/familyalpha/backend/src/logger"
	"github.com/username/familyalpha/backend/src/models"
	"github.com/username/familyalpha/backend/src/replay"
	"github.com/username/familyalpha/backend/src/security/validation"
	"github.com/username/familyalpha/backend/src/services"
)

type MarketHandler struct {
	priceService services.PriceService
}

func NewMarketHandler(priceService services.PriceService) *MarketHandler {
	return &MarketHandler{priceService: priceService}
}

func symbolFromURL(r *http.Request) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
	return symbol, validation.ValidateSymbol(symbol)
}

// QuoteHandler returns the latest market price for one symbol.
func (h *MarketHandler) QuoteHandler(w http.ResponseWriter, r *http.Request) {
	symbol, err := symbolFromURL(r)
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	price, err := h.priceService.GetLatestPrice(r.Context(), symbol)
	if err != nil {
		logger.FromContext(r.Context()).Warn("Quote lookup failed", "symbol", symbol, "error", err)
		sendJSONError(w, "No quote available for "+symbol, http.StatusNotFound)
		return
	}

	sendJSON(w, map[string]interface{}{"symbol": symbol, "price": price}, http.StatusOK)
}

type marketHistoryResponse struct {
	Symbol     string               `json:"symbol"`
	Points     models.PriceSeries   `json:"points"`
	Normalized []models.ReturnPoint `json:"normalized"`
}

// HistoryHandler returns a symbol's close series for the requested period,
// both as prices and rebased to percent return for overlay charts.
func (h *MarketHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	symbol, err := symbolFromURL(r)
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	period, err := periodFromQuery(r)
	if err != nil {
		sendJSONError(w, "Unsupported period, use one of: "+strings.Join(services.PeriodLabels(), ", "), http.StatusBadRequest)
		return
	}

	series := h.priceService.GetHistory(r.Context(), symbol, period)
	if series == nil {
		series = models.PriceSeries{}
	}
	resp := marketHistoryResponse{
		Symbol:     symbol,
		Points:     series,
		Normalized: replay.Normalize(series),
	}
	if resp.Normalized == nil {
		resp.Normalized = []models.ReturnPoint{}
	}
	sendJSON(w, resp, http.StatusOK)
}
