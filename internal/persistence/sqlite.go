package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"yieldagg/internal/pool"
	"yieldagg/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store provides SQLite-based history of polled prices, APYs and tokens.
// It is never read back into the cache.
type Store struct {
	db *sql.DB
}

// APYRecord is one persisted subpool rate.
type APYRecord struct {
	Pool       string    `json:"pool"`
	Subpool    string    `json:"subpool"`
	Currency   string    `json:"currency"`
	APY        string    `json:"apy"`
	Best       bool      `json:"best"`
	ObservedAt time.Time `json:"observed_at"`
}

// PriceRecord is one persisted ETH/USD quote.
type PriceRecord struct {
	USD        string    `json:"usd"`
	ObservedAt time.Time `json:"observed_at"`
}

// TokenRecord represents a token stored in the database.
type TokenRecord struct {
	Address   string
	Symbol    string
	Name      string
	Decimals  int
	UpdatedAt time.Time
}

// NewStore creates a new SQLite store and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

// migrate runs database schema migrations.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tokens (
			address TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			decimals INTEGER NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS price_quotes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			usd TEXT NOT NULL,
			observed_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS apy_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pool TEXT NOT NULL,
			subpool TEXT NOT NULL,
			currency TEXT NOT NULL,
			apy TEXT NOT NULL,
			is_best INTEGER NOT NULL DEFAULT 0,
			observed_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_apy_snapshots_pool ON apy_snapshots(pool, observed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS system_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	log.Info().Msg("Database migrations completed")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordPrice appends an ETH/USD quote.
func (s *Store) RecordPrice(ctx context.Context, price models.USDPrice, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO price_quotes (usd, observed_at) VALUES (?, ?)`,
		price.String(), at.UTC())
	return err
}

// LatestPrice returns the most recent quote, or nil if none was recorded.
func (s *Store) LatestPrice(ctx context.Context) (*PriceRecord, error) {
	var p PriceRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT usd, observed_at FROM price_quotes ORDER BY observed_at DESC, id DESC LIMIT 1`,
	).Scan(&p.USD, &p.ObservedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RecordSnapshot stores every rate of a pool snapshot in one transaction.
func (s *Store) RecordSnapshot(ctx context.Context, snap *pool.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO apy_snapshots (pool, subpool, currency, apy, is_best, observed_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	subpools := make([]string, 0, len(snap.APYs))
	for name := range snap.APYs {
		subpools = append(subpools, name)
	}
	sort.Strings(subpools)

	for _, name := range subpools {
		for currency, apy := range snap.APYs[name] {
			best := snap.Best[currency].Subpool == name
			if _, err := stmt.ExecContext(ctx, snap.Pool, name, currency, apy.String(), best, snap.Timestamp.UTC()); err != nil {
				return fmt.Errorf("inserting %s/%s: %w", name, currency, err)
			}
		}
	}

	return tx.Commit()
}

// RecentAPYs returns the latest rows recorded for a pool, newest first.
func (s *Store) RecentAPYs(ctx context.Context, poolName string, limit int) ([]APYRecord, error) {
	query := `SELECT pool, subpool, currency, apy, is_best, observed_at
		FROM apy_snapshots
		WHERE pool = ?
		ORDER BY observed_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, poolName, limit)
	if err != nil {
		return nil, fmt.Errorf("querying apy snapshots: %w", err)
	}
	defer rows.Close()

	var records []APYRecord
	for rows.Next() {
		var r APYRecord
		if err := rows.Scan(&r.Pool, &r.Subpool, &r.Currency, &r.APY, &r.Best, &r.ObservedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// BulkUpsertTokens inserts or updates multiple token records efficiently.
func (s *Store) BulkUpsertTokens(ctx context.Context, tokens []models.TokenInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tokens (address, symbol, name, decimals, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			symbol = excluded.symbol,
			name = excluded.name,
			decimals = excluded.decimals,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, token := range tokens {
		if _, err := stmt.ExecContext(ctx, token.Address.Hex(), token.Symbol, token.Name, int(token.Decimals), now); err != nil {
			return fmt.Errorf("inserting token %s: %w", token.Address.Hex(), err)
		}
	}

	return tx.Commit()
}

// GetAllTokens retrieves all tokens ordered by symbol.
func (s *Store) GetAllTokens(ctx context.Context) ([]TokenRecord, error) {
	query := `SELECT address, symbol, name, decimals, updated_at FROM tokens ORDER BY symbol`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying tokens: %w", err)
	}
	defer rows.Close()

	var tokens []TokenRecord
	for rows.Next() {
		var t TokenRecord
		if err := rows.Scan(&t.Address, &t.Symbol, &t.Name, &t.Decimals, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		tokens = append(tokens, t)
	}

	return tokens, rows.Err()
}

// SetSystemState stores a key-value pair in system state.
func (s *Store) SetSystemState(ctx context.Context, key, value string) error {
	query := `INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query, key, value, time.Now())
	return err
}

// GetSystemState retrieves a value from system state.
func (s *Store) GetSystemState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM system_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
