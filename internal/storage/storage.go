// Package storage persists day state, running-up records and settings in
// SQLite (default) or Postgres.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rewired-gh/pulsewatch/internal/models"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned (wrapped) when a keyed row does not exist.
var ErrNotFound = models.ErrNotFound

// Storage wraps a SQL database for all persistence operations.
type Storage struct {
	db     *sql.DB
	driver string
}

// New opens the database for driver. For sqlite, dsn is a file path (or
// ":memory:"); an empty path defaults to $TMPDIR/pulsewatch/data.db.
func New(driver, dsn string) (*Storage, error) {
	switch driver {
	case "", DriverSQLite:
		return newSQLite(dsn)
	case DriverPostgres:
		return newPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func newSQLite(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "pulsewatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, driver: DriverSQLite}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func newPostgres(dsn string) (*Storage, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	s := &Storage{db: db, driver: DriverPostgres}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) createTables() error {
	runningUp := `CREATE TABLE IF NOT EXISTS running_up_alerts (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol    TEXT NOT NULL,
			price     DOUBLE PRECISION NOT NULL,
			volume    DOUBLE PRECISION NOT NULL,
			timestamp BIGINT NOT NULL
		)`
	if s.driver == DriverPostgres {
		runningUp = `CREATE TABLE IF NOT EXISTS running_up_alerts (
			id        BIGSERIAL PRIMARY KEY,
			symbol    TEXT NOT NULL,
			price     DOUBLE PRECISION NOT NULL,
			volume    DOUBLE PRECISION NOT NULL,
			timestamp BIGINT NOT NULL
		)`
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daily_highs (
			symbol        TEXT PRIMARY KEY,
			high_of_day   DOUBLE PRECISION NOT NULL,
			timestamp     BIGINT NOT NULL,
			initial_price DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS last_alerts (
			symbol    TEXT PRIMARY KEY,
			timestamp BIGINT NOT NULL
		)`,
		runningUp,
		`CREATE INDEX IF NOT EXISTS idx_running_up_timestamp ON running_up_alerts(timestamp)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Storage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// LoadDayStates returns every persisted day state keyed by symbol, with the
// last new-high alert time applied. Last-alert rows without a matching
// daily high are ignored.
func (s *Storage) LoadDayStates(ctx context.Context) (map[string]*models.DayState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, high_of_day, timestamp, initial_price FROM daily_highs`)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily highs: %w", err)
	}
	defer rows.Close()

	states := make(map[string]*models.DayState)
	for rows.Next() {
		var st models.DayState
		var tsNano int64
		if err := rows.Scan(&st.Symbol, &st.HighOfDay, &tsNano, &st.InitialPrice); err != nil {
			return nil, fmt.Errorf("failed to scan daily high: %w", err)
		}
		st.UpdatedAt = time.Unix(0, tsNano).UTC()
		states[st.Symbol] = &st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	alertRows, err := s.db.QueryContext(ctx, `SELECT symbol, timestamp FROM last_alerts`)
	if err != nil {
		return nil, fmt.Errorf("failed to query last alerts: %w", err)
	}
	defer alertRows.Close()
	for alertRows.Next() {
		var symbol string
		var tsNano int64
		if err := alertRows.Scan(&symbol, &tsNano); err != nil {
			return nil, fmt.Errorf("failed to scan last alert: %w", err)
		}
		if st, ok := states[symbol]; ok {
			st.LastAlertAt = time.Unix(0, tsNano).UTC()
		}
	}
	return states, alertRows.Err()
}

// UpsertDayHigh stores the day's high and initial price for symbol.
func (s *Storage) UpsertDayHigh(ctx context.Context, symbol string, highOfDay float64, ts time.Time, initialPrice float64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO daily_highs (symbol, high_of_day, timestamp, initial_price)
		VALUES (?,?,?,?)
		ON CONFLICT (symbol) DO UPDATE SET
			high_of_day = excluded.high_of_day,
			timestamp = excluded.timestamp,
			initial_price = excluded.initial_price`),
		symbol, highOfDay, ts.UnixNano(), initialPrice,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily high: %w", err)
	}
	return nil
}

// UpsertLastAlert stores the time of the latest new-high alert for symbol.
func (s *Storage) UpsertLastAlert(ctx context.Context, symbol string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO last_alerts (symbol, timestamp) VALUES (?,?)
		ON CONFLICT (symbol) DO UPDATE SET timestamp = excluded.timestamp`),
		symbol, ts.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert last alert: %w", err)
	}
	return nil
}

// ClearDayStates deletes all daily highs and last alerts in one transaction.
func (s *Storage) ClearDayStates(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_highs`); err != nil {
		return fmt.Errorf("failed to clear daily highs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM last_alerts`); err != nil {
		return fmt.Errorf("failed to clear last alerts: %w", err)
	}
	return tx.Commit()
}

// InsertRunningUp appends a running-up record and returns its id.
func (s *Storage) InsertRunningUp(ctx context.Context, rec models.RunningUpRecord) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO running_up_alerts (symbol, price, volume, timestamp)
		VALUES (?,?,?,?) RETURNING id`),
		rec.Symbol, rec.Price, rec.Volume, rec.Timestamp.UnixNano(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert running-up record: %w", err)
	}
	return id, nil
}

// RecentRunningUp returns up to limit records, newest first.
func (s *Storage) RecentRunningUp(ctx context.Context, limit int) ([]models.RunningUpRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, symbol, price, volume, timestamp FROM running_up_alerts
		ORDER BY timestamp DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query running-up records: %w", err)
	}
	defer rows.Close()

	records := []models.RunningUpRecord{}
	for rows.Next() {
		var r models.RunningUpRecord
		var tsNano int64
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Price, &r.Volume, &tsNano); err != nil {
			return nil, fmt.Errorf("failed to scan running-up record: %w", err)
		}
		r.Timestamp = time.Unix(0, tsNano).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetSetting returns the value stored under key or ErrNotFound.
func (s *Storage) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM settings WHERE key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores value under key.
func (s *Storage) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO settings (key, value) VALUES (?,?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`),
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}
