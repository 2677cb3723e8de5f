package model

import (
	"database/sql"
	"errors"
	"time"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

var ErrTradeNotFound = errors.New("trade not found")

// Trade is one logged transaction. Rows are append/delete only: a trade is
// never mutated after creation, so replays over the ledger stay reproducible.
type Trade struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Rationale string    `json:"rationale"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *Trade) Insert(db *sql.DB) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	stmt, err := db.Prepare(`
	INSERT INTO trades (user_id, symbol, side, quantity, price, rationale, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	res, err := stmt.Exec(t.UserID, t.Symbol, t.Side, t.Quantity, t.Price, t.Rationale, t.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

// ListTrades returns the whole ledger, newest first, with usernames joined
// in for the journal view.
func ListTrades(db *sql.DB) ([]Trade, error) {
	rows, err := db.Query(`
	SELECT t.id, t.user_id, u.username, t.symbol, t.side, t.quantity, t.price, t.rationale, t.created_at
	FROM trades t
	JOIN users u ON u.id = t.user_id
	ORDER BY t.created_at DESC, t.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListTradesByUser returns one user's trades in event order (oldest first),
// the order the replay engine consumes them in.
func ListTradesByUser(db *sql.DB, userID int64) ([]Trade, error) {
	rows, err := db.Query(`
	SELECT t.id, t.user_id, u.username, t.symbol, t.side, t.quantity, t.price, t.rationale, t.created_at
	FROM trades t
	JOIN users u ON u.id = t.user_id
	WHERE t.user_id = ?
	ORDER BY t.created_at ASC, t.id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListTradesByUserDesc returns one user's trades newest first, the journal
// feed order.
func ListTradesByUserDesc(db *sql.DB, userID int64) ([]Trade, error) {
	rows, err := db.Query(`
	SELECT t.id, t.user_id, u.username, t.symbol, t.side, t.quantity, t.price, t.rationale, t.created_at
	FROM trades t
	JOIN users u ON u.id = t.user_id
	WHERE t.user_id = ?
	ORDER BY t.created_at DESC, t.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]Trade, error) {
	var trades []Trade
	for rows.Next() {
		var t Trade
		var rationale sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Username, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &rationale, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Rationale = rationale.String
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// DeleteTrade removes a trade, but only when it belongs to the given user.
func DeleteTrade(db *sql.DB, tradeID, userID int64) error {
	stmt, err := db.Prepare(`DELETE FROM trades WHERE id = ? AND user_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	res, err := stmt.Exec(tradeID, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTradeNotFound
	}
	return nil
}

// ListUserIDsWithTrades returns the IDs of every user that has logged at
// least one trade, in first-trade order. The leaderboard ranks exactly
// this set.
func ListUserIDsWithTrades(db *sql.DB) ([]int64, error) {
	rows, err := db.Query(`
	SELECT user_id
	FROM trades
	GROUP BY user_id
	ORDER BY MIN(created_at) ASC, user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
