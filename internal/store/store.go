// Package store provides crash-safe persistence in a single SQLite file.
//
// Three tables back the engine's durable state: bot_settings (one row,
// whole-object overwrite), active_trades (keyed by symbol), and
// trade_ledger (append-only, read newest-first). Rows hold the domain JSON
// in a data column, so schema churn stays in Go structs. The database is
// opened in WAL mode: an acknowledged write survives a process crash.
//
// Only the engine's thread of control touches the store, so no locking is
// layered on top of SQLite's own.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"spot-trader/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS bot_settings (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS active_trades (
	symbol TEXT PRIMARY KEY,
	data   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS trade_ledger (
	id        TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	data      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_ledger_timestamp ON trade_ledger(timestamp DESC);
`

// Store persists settings, open positions, and the completed-trade ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates the data directory if needed, opens (or creates) the
// database in WAL mode, and runs migrations.
func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", filepath.Join(dataDir, "bot.db"))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection: SQLite allows one writer, and the engine is the
	// only caller anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "store")}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSettings overwrites the single settings row.
func (s *Store) SaveSettings(settings types.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO bot_settings (id, data) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`, string(data))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// LoadSettings returns the persisted settings, or nil on a fresh database.
func (s *Store) LoadSettings() (*types.Settings, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM bot_settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	var settings types.Settings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	return &settings, nil
}

// SaveActiveTrade inserts or replaces the open position for a symbol.
func (s *Store) SaveActiveTrade(symbol string, trade types.ActiveTrade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal active trade: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO active_trades (symbol, data) VALUES (?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET data = excluded.data`, symbol, string(data))
	if err != nil {
		return fmt.Errorf("save active trade %s: %w", symbol, err)
	}
	return nil
}

// DeleteActiveTrade removes the open position for a symbol. Deleting a
// symbol with no row is not an error.
func (s *Store) DeleteActiveTrade(symbol string) error {
	if _, err := s.db.Exec(`DELETE FROM active_trades WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("delete active trade %s: %w", symbol, err)
	}
	return nil
}

// LoadActiveTrades returns all open positions keyed by symbol. Rows that
// fail to decode are skipped with a warning so one corrupt entry cannot
// block startup.
func (s *Store) LoadActiveTrades() (map[string]types.ActiveTrade, error) {
	rows, err := s.db.Query(`SELECT symbol, data FROM active_trades`)
	if err != nil {
		return nil, fmt.Errorf("load active trades: %w", err)
	}
	defer rows.Close()

	trades := make(map[string]types.ActiveTrade)
	for rows.Next() {
		var symbol, data string
		if err := rows.Scan(&symbol, &data); err != nil {
			return nil, fmt.Errorf("scan active trade: %w", err)
		}
		var trade types.ActiveTrade
		if err := json.Unmarshal([]byte(data), &trade); err != nil {
			s.logger.Warn("skipping undecodable active trade", "symbol", symbol, "error", err)
			continue
		}
		trades[symbol] = trade
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active trades: %w", err)
	}
	return trades, nil
}

// SaveLedgerItem appends one completed trade. IDs are unique; inserting a
// duplicate is an error (the ledger is append-only).
func (s *Store) SaveLedgerItem(trade types.CompletedTrade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal ledger item: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO trade_ledger (id, timestamp, data) VALUES (?, ?, ?)`,
		trade.ID, trade.Timestamp, string(data))
	if err != nil {
		return fmt.Errorf("save ledger item %s: %w", trade.ID, err)
	}
	return nil
}

// LoadLedger returns up to limit completed trades, newest first.
func (s *Store) LoadLedger(limit int) ([]types.CompletedTrade, error) {
	rows, err := s.db.Query(
		`SELECT data FROM trade_ledger ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	defer rows.Close()

	var trades []types.CompletedTrade
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan ledger item: %w", err)
		}
		var trade types.CompletedTrade
		if err := json.Unmarshal([]byte(data), &trade); err != nil {
			s.logger.Warn("skipping undecodable ledger item", "error", err)
			continue
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return trades, nil
}
