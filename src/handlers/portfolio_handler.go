package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/username/familyalpha/backend/src/database"
	"github.com/username/familyalpha/backend/src/logger"
	"github.com/username/familyalpha/backend/src/model"
	"github.com/username/familyalpha/backend/src/models"
	"github.com/username/familyalpha/backend/src/replay"
	"github.com/username/familyalpha/backend/src/security/validation"
	"github.com/username/familyalpha/backend/src/services"
)

const defaultPeriodLabel = "1M"

type PortfolioHandler struct {
	portfolioService services.PortfolioService
}

func NewPortfolioHandler(portfolioService services.PortfolioService) *PortfolioHandler {
	return &PortfolioHandler{portfolioService: portfolioService}
}

func periodFromQuery(r *http.Request) (services.Period, error) {
	label := r.URL.Query().Get("period")
	if label == "" {
		label = defaultPeriodLabel
	}
	return services.ParsePeriod(label)
}

// HistoryHandler returns a user's portfolio value series over the requested
// period. The raw replay output is padded here, at the presentation edge, so
// the chart always has a line to draw.
func (h *PortfolioHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}
	// Any family member's dashboard is visible to any other.
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			sendJSONError(w, "Invalid user_id", http.StatusBadRequest)
			return
		}
		userID = parsed
	}

	period, err := periodFromQuery(r)
	if err != nil {
		if errors.Is(err, services.ErrUnsupportedPeriod) {
			sendJSONError(w, "Unsupported period, use one of: "+strings.Join(services.PeriodLabels(), ", "), http.StatusBadRequest)
			return
		}
		sendJSONError(w, "Invalid period", http.StatusBadRequest)
		return
	}

	points, err := h.portfolioService.GetPortfolioHistory(r.Context(), userID, period)
	if err != nil {
		ctxLogger.Error("Failed to build portfolio history", "userID", userID, "error", err)
		sendJSONError(w, "Failed to build portfolio history", http.StatusInternalServerError)
		return
	}

	trades, err := model.ListTradesByUser(database.DB, userID)
	if err != nil {
		ctxLogger.Error("Failed to load trades for chart padding", "userID", userID, "error", err)
		sendJSONError(w, "Failed to build portfolio history", http.StatusInternalServerError)
		return
	}

	padded := replay.PadForChart(points, trades, time.Now().UTC())
	if padded == nil {
		padded = []models.PortfolioPoint{}
	}
	sendJSON(w, padded, http.StatusOK)
}

// CompareHandler overlays normalized return lines for a mix of users and
// benchmark tickers: ?users=1,2&tickers=SPY,QQQ.
func (h *PortfolioHandler) CompareHandler(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	if _, ok := GetUserIDFromContext(r.Context()); !ok {
		sendJSONError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	period, err := periodFromQuery(r)
	if err != nil {
		sendJSONError(w, "Unsupported period, use one of: "+strings.Join(services.PeriodLabels(), ", "), http.StatusBadRequest)
		return
	}

	var userIDs []int64
	if raw := r.URL.Query().Get("users"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				sendJSONError(w, "Invalid users list", http.StatusBadRequest)
				return
			}
			userIDs = append(userIDs, id)
		}
	}

	var tickers []string
	if raw := r.URL.Query().Get("tickers"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			ticker := strings.ToUpper(strings.TrimSpace(part))
			if err := validation.ValidateSymbol(ticker); err != nil {
				sendJSONError(w, err.Error(), http.StatusBadRequest)
				return
			}
			tickers = append(tickers, ticker)
		}
	}

	out, err := h.portfolioService.GetCompareSeries(r.Context(), userIDs, tickers, period)
	if err != nil {
		ctxLogger.Error("Failed to build comparison series", "error", err)
		sendJSONError(w, "Failed to build comparison", http.StatusInternalServerError)
		return
	}
	if out == nil {
		out = []models.CompareSeries{}
	}
	sendJSON(w, out, http.StatusOK)
}

// LeaderboardHandler ranks every family portfolio against the benchmark
// tickers by period return.
func (h *PortfolioHandler) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	if _, ok := GetUserIDFromContext(r.Context()); !ok {
		sendJSONError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	period, err := periodFromQuery(r)
	if err != nil {
		sendJSONError(w, "Unsupported period, use one of: "+strings.Join(services.PeriodLabels(), ", "), http.StatusBadRequest)
		return
	}

	rows, err := h.portfolioService.GetLeaderboard(r.Context(), period)
	if err != nil {
		ctxLogger.Error("Failed to build leaderboard", "error", err)
		sendJSONError(w, "Failed to build leaderboard", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []models.LeaderboardRow{}
	}
	sendJSON(w, rows, http.StatusOK)
}
