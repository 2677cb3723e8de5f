package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/username/familyalpha/backend/src/config"
	"github.com/username/familyalpha/backend/src/database"
	"github.com/username/familyalpha/backend/src/logger"
	"github.com/username/familyalpha/backend/src/model"
	"github.com/username/familyalpha/backend/src/models"
	"github.com/username/familyalpha/backend/src/security"
	"github.com/username/familyalpha/backend/src/services"
)

func init() {
	logger.InitLogger("error")
	config.Cfg = &config.AppConfig{
		JWTSecret:          "0123456789abcdef0123456789abcdef",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 168 * time.Hour,
	}
}

// stubPortfolio satisfies services.PortfolioService with canned data.
type stubPortfolio struct {
	points      []models.PortfolioPoint
	compare     []models.CompareSeries
	rows        []models.LeaderboardRow
	invalidated []int64
}

func (s *stubPortfolio) GetPortfolioHistory(context.Context, int64, services.Period) ([]models.PortfolioPoint, error) {
	return s.points, nil
}

func (s *stubPortfolio) GetCompareSeries(context.Context, []int64, []string, services.Period) ([]models.CompareSeries, error) {
	return s.compare, nil
}

func (s *stubPortfolio) GetLeaderboard(context.Context, services.Period) ([]models.LeaderboardRow, error) {
	return s.rows, nil
}

func (s *stubPortfolio) InvalidateUser(userID int64) {
	s.invalidated = append(s.invalidated, userID)
}

// stubMarketPrices satisfies services.PriceService with canned data.
type stubMarketPrices struct {
	series models.PriceSeriesSet
	latest map[string]float64
}

func (s *stubMarketPrices) GetHistory(_ context.Context, symbol string, _ services.Period) models.PriceSeries {
	return s.series[symbol]
}

func (s *stubMarketPrices) GetHistorySet(ctx context.Context, symbols []string, period services.Period) models.PriceSeriesSet {
	set := make(models.PriceSeriesSet)
	for _, sym := range symbols {
		if series := s.GetHistory(ctx, sym, period); len(series) > 0 {
			set[sym] = series
		}
	}
	return set
}

func (s *stubMarketPrices) GetLatestPrice(_ context.Context, symbol string) (float64, error) {
	if price, ok := s.latest[symbol]; ok {
		return price, nil
	}
	return 0, fmt.Errorf("no quote for %s", symbol)
}

func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT,
		password TEXT NOT NULL,
		avatar_url TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE TABLE sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		user_agent TEXT,
		client_ip TEXT,
		is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE TABLE trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		rationale TEXT,
		created_at TIMESTAMP NOT NULL
	);`)
	require.NoError(t, err)
	database.DB = db
}

func newTestRouter(t *testing.T, pf *stubPortfolio) http.Handler {
	return newTestRouterWithMarket(t, pf, &stubMarketPrices{})
}

func newTestRouterWithMarket(t *testing.T, pf *stubPortfolio, prices services.PriceService) http.Handler {
	t.Helper()
	setupTestDB(t)

	authService := security.NewAuthService(config.Cfg.JWTSecret, config.Cfg.AccessTokenExpiry)
	userHandler := NewUserHandler(authService)
	tradeHandler := NewTradeHandler(pf)
	portfolioHandler := NewPortfolioHandler(pf)
	marketHandler := NewMarketHandler(prices)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(ContextualLoggerMiddleware)
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", userHandler.RegisterUserHandler)
		r.Post("/auth/login", userHandler.LoginUserHandler)
		r.Post("/auth/refresh", userHandler.RefreshTokenHandler)
		r.With(userHandler.AuthMiddleware).Post("/auth/logout", userHandler.LogoutUserHandler)

		r.Group(func(r chi.Router) {
			r.Use(userHandler.AuthMiddleware)
			r.Get("/users/me", userHandler.GetCurrentUserHandler)
			r.Get("/users", userHandler.ListUsersHandler)
			r.Post("/trades", tradeHandler.CreateTradeHandler)
			r.Get("/trades", tradeHandler.ListTradesHandler)
			r.Delete("/trades/{tradeID}", tradeHandler.DeleteTradeHandler)
			r.Get("/portfolio/history", portfolioHandler.HistoryHandler)
			r.Get("/portfolio/leaderboard", portfolioHandler.LeaderboardHandler)
			r.Get("/market/quote/{symbol}", marketHandler.QuoteHandler)
			r.Get("/market/history/{symbol}", marketHandler.HistoryHandler)
		})
	})
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, h http.Handler, username string) (string, string) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username,
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken, resp.RefreshToken
}

func TestRegisterLoginMe(t *testing.T) {
	h := newTestRouter(t, &stubPortfolio{})
	token, _ := registerAndLogin(t, h, "alice")

	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/users/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me model.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "alice", me.Username)

	rec = doJSON(t, h, http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterRejectsWeakInput(t *testing.T) {
	h := newTestRouter(t, &stubPortfolio{})

	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "al", "password": "secret123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "too-short username")

	rec = doJSON(t, h, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "too-short password")
}

func TestRefreshAndLogout(t *testing.T) {
	h := newTestRouter(t, &stubPortfolio{})
	token, refresh := registerAndLogin(t, h, "alice")

	rec := doJSON(t, h, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refresh_token": refresh,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rotated struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	assert.NotEqual(t, refresh, rotated.RefreshToken)

	// Old access token's session was rotated away.
	rec = doJSON(t, h, http.MethodGet, "/api/users/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/users/me", rotated.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/auth/logout", rotated.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/users/me", rotated.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTradeLifecycle(t *testing.T) {
	pf := &stubPortfolio{}
	h := newTestRouter(t, pf)
	aliceToken, _ := registerAndLogin(t, h, "alice")
	bobToken, _ := registerAndLogin(t, h, "bob")

	rec := doJSON(t, h, http.MethodPost, "/api/trades", aliceToken, map[string]interface{}{
		"symbol": "aapl", "side": "buy", "quantity": 10, "price": 5,
		"rationale": "<b>strong</b> earnings\x00\x07",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created model.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "AAPL", created.Symbol, "symbol is uppercased")
	assert.Equal(t, model.SideBuy, created.Side)
	assert.NotContains(t, created.Rationale, "<b>", "rationale is sanitized")
	assert.NotContains(t, created.Rationale, "\x00", "control characters are stripped")
	assert.NotEmpty(t, pf.invalidated, "cache invalidation after ledger change")

	for _, bad := range []map[string]interface{}{
		{"symbol": "AAPL", "side": "HOLD", "quantity": 1, "price": 1},
		{"symbol": "not a symbol!", "side": "BUY", "quantity": 1, "price": 1},
		{"symbol": "AAPL", "side": "BUY", "quantity": 0, "price": 1},
		{"symbol": "AAPL", "side": "BUY", "quantity": 1, "price": -2},
	} {
		rec := doJSON(t, h, http.MethodPost, "/api/trades", aliceToken, bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, fmt.Sprintf("payload %v", bad))
	}

	rec = doJSON(t, h, http.MethodGet, "/api/trades", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []model.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 1, "family-wide feed shows everyone's trades")

	rec = doJSON(t, h, http.MethodGet, "/api/trades?scope=mine", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []model.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	assert.Empty(t, mine)

	rec = doJSON(t, h, http.MethodPost, "/api/trades", aliceToken, map[string]interface{}{
		"symbol": "MSFT", "side": "BUY", "quantity": 2, "price": 50,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/trades?scope=mine", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	require.Len(t, mine, 2)
	assert.Equal(t, "MSFT", mine[0].Symbol, "personal journal is newest first")
	assert.Equal(t, "AAPL", mine[1].Symbol)

	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/api/trades/%d", created.ID), bobToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "only the owner can delete")

	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/api/trades/%d", created.ID), aliceToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPortfolioHistoryPadsSinglePoint(t *testing.T) {
	at := time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC)
	pf := &stubPortfolio{points: []models.PortfolioPoint{
		{Date: at, CostBasis: 100, PortfolioValue: 110, ReturnPct: 10},
	}}
	h := newTestRouter(t, pf)
	token, _ := registerAndLogin(t, h, "alice")

	rec := doJSON(t, h, http.MethodGet, "/api/portfolio/history?period=1M", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var points []models.PortfolioPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 2, "single replay point is padded for the chart")
	assert.Equal(t, points[0].PortfolioValue, points[1].PortfolioValue)
}

func TestPortfolioHistoryRejectsUnknownPeriod(t *testing.T) {
	h := newTestRouter(t, &stubPortfolio{})
	token, _ := registerAndLogin(t, h, "alice")

	rec := doJSON(t, h, http.MethodGet, "/api/portfolio/history?period=2D", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarketQuoteEndpoint(t *testing.T) {
	prices := &stubMarketPrices{latest: map[string]float64{"AAPL": 123.45}}
	h := newTestRouterWithMarket(t, &stubPortfolio{}, prices)
	token, _ := registerAndLogin(t, h, "alice")

	rec := doJSON(t, h, http.MethodGet, "/api/market/quote/AAPL", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var quote struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
	assert.Equal(t, "AAPL", quote.Symbol)
	assert.Equal(t, 123.45, quote.Price)

	rec = doJSON(t, h, http.MethodGet, "/api/market/quote/ZZZZ", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no quote available maps to 404")

	rec = doJSON(t, h, http.MethodGet, "/api/market/quote/BAD!SYM", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "malformed symbol is rejected")
}

func TestMarketHistoryEndpoint(t *testing.T) {
	prices := &stubMarketPrices{series: models.PriceSeriesSet{
		"AAPL": {
			{Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Close: 100},
			{Date: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), Close: 110},
		},
	}}
	h := newTestRouterWithMarket(t, &stubPortfolio{}, prices)
	token, _ := registerAndLogin(t, h, "alice")

	rec := doJSON(t, h, http.MethodGet, "/api/market/history/AAPL?period=1M", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Symbol     string               `json:"symbol"`
		Points     models.PriceSeries   `json:"points"`
		Normalized []models.ReturnPoint `json:"normalized"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AAPL", resp.Symbol)
	require.Len(t, resp.Points, 2)
	require.Len(t, resp.Normalized, 2)
	assert.InDelta(t, 0, resp.Normalized[0].ReturnPct, 1e-9)
	assert.InDelta(t, 10, resp.Normalized[1].ReturnPct, 1e-9)

	rec = doJSON(t, h, http.MethodGet, "/api/market/history/ZZZZ?period=1M", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, "no data degrades to empty arrays, not an error")
	resp.Points, resp.Normalized = nil, nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Points)
	assert.Empty(t, resp.Normalized)

	rec = doJSON(t, h, http.MethodGet, "/api/market/history/AAPL?period=2D", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/market/history/BAD!SYM?period=1M", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboardEndpoint(t *testing.T) {
	pf := &stubPortfolio{rows: []models.LeaderboardRow{
		{Name: "alice", Type: models.TargetUser, ReturnPct: 10},
		{Name: "SPY", Type: models.TargetTicker, ReturnPct: 3},
	}}
	h := newTestRouter(t, pf)
	token, _ := registerAndLogin(t, h, "alice")

	rec := doJSON(t, h, http.MethodGet, "/api/portfolio/leaderboard", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []models.LeaderboardRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0].Name)
}
