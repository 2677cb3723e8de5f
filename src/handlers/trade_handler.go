package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/username/familyalpha/backend/src/database"
	"github.com/username/familyalpha/backend/src/logger"
	"github.com/username/familyalpha/backend/src/model"
	"github.com/username/familyalpha/backend/src/security/validation"
	"github.com/username/familyalpha/backend/src/services"
)

type TradeHandler struct {
	portfolioService services.PortfolioService
}

func NewTradeHandler(portfolioService services.PortfolioService) *TradeHandler {
	return &TradeHandler{portfolioService: portfolioService}
}

type createTradeRequest struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	Rationale string  `json:"rationale"`
}

func (h *TradeHandler) CreateTradeHandler(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	var req createTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.Side = strings.ToUpper(strings.TrimSpace(req.Side))
	req.Rationale = validation.SanitizeText(validation.StripUnprintable(req.Rationale))

	if err := validation.ValidateSymbol(req.Symbol); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		sendJSONError(w, "Side must be BUY or SELL", http.StatusBadRequest)
		return
	}
	if err := validation.ValidatePositiveNumber(req.Quantity, "Quantity"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidatePositiveNumber(req.Price, "Price"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateStringMaxLength(req.Rationale, validation.MaxRationaleLength, "Rationale"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	trade := &model.Trade{
		UserID:    userID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Rationale: req.Rationale,
	}
	if err := trade.Insert(database.DB); err != nil {
		ctxLogger.Error("Failed to insert trade", "userID", userID, "symbol", req.Symbol, "error", err)
		sendJSONError(w, "Failed to log trade", http.StatusInternalServerError)
		return
	}

	h.portfolioService.InvalidateUser(userID)

	ctxLogger.Info("Trade logged", "tradeID", trade.ID, "symbol", trade.Symbol, "side", trade.Side)
	sendJSON(w, trade, http.StatusCreated)
}

// ListTradesHandler serves the journal feed, newest first. scope=mine
// narrows to the caller's own trades; anything else shows the whole
// family's.
func (h *TradeHandler) ListTradesHandler(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var trades []model.Trade
	var err error
	if r.URL.Query().Get("scope") == "mine" {
		userID, ok := GetUserIDFromContext(r.Context())
		if !ok {
			sendJSONError(w, "Not authenticated", http.StatusUnauthorized)
			return
		}
		trades, err = model.ListTradesByUserDesc(database.DB, userID)
	} else {
		trades, err = model.ListTrades(database.DB)
	}
	if err != nil {
		ctxLogger.Error("Failed to list trades", "error", err)
		sendJSONError(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}

	if trades == nil {
		trades = []model.Trade{}
	}
	sendJSON(w, trades, http.StatusOK)
}

func (h *TradeHandler) DeleteTradeHandler(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	tradeID, err := strconv.ParseInt(chi.URLParam(r, "tradeID"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid trade ID", http.StatusBadRequest)
		return
	}

	if err := model.DeleteTrade(database.DB, tradeID, userID); err != nil {
		if errors.Is(err, model.ErrTradeNotFound) {
			sendJSONError(w, "Trade not found", http.StatusNotFound)
			return
		}
		ctxLogger.Error("Failed to delete trade", "tradeID", tradeID, "userID", userID, "error", err)
		sendJSONError(w, "Failed to delete trade", http.StatusInternalServerError)
		return
	}

	h.portfolioService.InvalidateUser(userID)

	ctxLogger.Info("Trade deleted", "tradeID", tradeID, "userID", userID)
	sendJSON(w, map[string]string{"message": "Trade deleted"}, http.StatusOK)
}
