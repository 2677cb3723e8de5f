package model

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
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
		side TEXT NOT NULL CHECK (side IN ('BUY','SELL')),
		quantity REAL NOT NULL CHECK (quantity > 0),
		price REAL NOT NULL CHECK (price > 0),
		rationale TEXT,
		created_at TIMESTAMP NOT NULL
	);`)
	require.NoError(t, err)
	return db
}

func mustCreateUser(t *testing.T, db *sql.DB, username string) *User {
	t.Helper()
	u := &User{Username: username}
	require.NoError(t, u.HashPassword("secret-"+username))
	require.NoError(t, u.CreateUser(db))
	return u
}
