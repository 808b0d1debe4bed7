package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"vendingmachine/internal/logger"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// Connection pool configuration. The journal has a single writer, so the
// pool stays small.
const (
	maxOpenConns    = 4
	maxIdleConns    = 2
	connMaxLifetime = time.Hour
	connMaxIdleTime = time.Minute * 15
	queryTimeout    = time.Second * 30
	maxOpenAttempts = 3
)

// TimeFormat is fixed width and always UTC so stored timestamps sort as text.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// retryDelay is multiplied by the attempt number between open attempts.
var retryDelay = time.Second

// =============================================================================
// DATABASE CONNECTION AND SETUP
// =============================================================================

// DB is an open SQLite database holding the journal tables.
type DB struct {
	conn *sql.DB
	path string
}

// OpenDB opens (creating if needed) the database at dataSourceName and
// makes sure the schema exists.
func OpenDB(dataSourceName string) (*DB, error) {
	conn, err := openWithRetry(dataSourceName, maxOpenAttempts)
	if err != nil {
		return nil, err
	}

	d := &DB{conn: conn, path: dataSourceName}
	if err := d.createTables(); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func openWithRetry(dataSourceName string, maxRetries int) (*sql.DB, error) {
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		var conn *sql.DB
		conn, err = sql.Open("sqlite", dataSourceName)
		if err != nil {
			logger.LogWarn("Database connection attempt %d failed: %v", attempt, err)
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt) * retryDelay)
				continue
			}
			return nil, fmt.Errorf("failed to open database after %d attempts: %w", maxRetries, err)
		}

		conn.SetMaxOpenConns(maxOpenConns)
		conn.SetMaxIdleConns(maxIdleConns)
		conn.SetConnMaxLifetime(connMaxLifetime)
		conn.SetConnMaxIdleTime(connMaxIdleTime)

		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		err = conn.PingContext(ctx)
		cancel()

		if err != nil {
			logger.LogWarn("Database ping attempt %d failed: %v", attempt, err)
			conn.Close()
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt) * retryDelay)
				continue
			}
			return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, err)
		}

		// Don't fail initialization for pragma errors
		if err := enablePragmas(conn); err != nil {
			logger.LogWarn("Failed to enable some database optimizations: %v", err)
		}

		logger.LogInfo("Database connection established successfully (attempt %d)", attempt)
		return conn, nil
	}

	return nil, fmt.Errorf("failed to initialize database after %d attempts: %w", maxRetries, err)
}

func enablePragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
	}

	var lastErr error
	for _, pragma := range pragmas {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		_, err := conn.ExecContext(ctx, pragma)
		cancel()

		if err != nil {
			logger.LogWarn("Failed to execute %s: %v", pragma, err)
			lastErr = err
		}
	}
	return lastErr
}

// Path returns the data source the database was opened with.
func (d *DB) Path() string { return d.path }

// Ping checks the connection is healthy.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*2)
	defer cancel()

	if err := d.conn.PingContext(ctx); err != nil {
		logger.LogError("Database health check failed: %v", err)
		return fmt.Errorf("database connection unhealthy: %w", err)
	}
	return nil
}

// Close closes the connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// =============================================================================
// SCHEMA
// =============================================================================

const journalTableSchema = `
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		recorded_at TEXT NOT NULL,
		kind TEXT NOT NULL,
		product_id TEXT DEFAULT '',
		amount INTEGER DEFAULT 0,
		currency TEXT DEFAULT '',
		payment TEXT DEFAULT '',
		session_id TEXT DEFAULT '',
		reason TEXT DEFAULT '',
		money_json TEXT DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_journal_recorded_at ON journal_entries(recorded_at);
	CREATE INDEX IF NOT EXISTS idx_journal_kind ON journal_entries(kind);
	CREATE INDEX IF NOT EXISTS idx_journal_product ON journal_entries(product_id);`

func (d *DB) createTables() error {
	if _, err := d.conn.Exec(journalTableSchema); err != nil {
		return fmt.Errorf("failed to create journal table: %w", err)
	}
	return nil
}

// =============================================================================
// GENERIC DATABASE OPERATIONS
// =============================================================================

func (d *DB) execContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := d.conn.ExecContext(ctx, query, args...)
	if err != nil {
		logger.LogError("Database exec failed: query=%s, error=%v", query, err)
		return nil, fmt.Errorf("database execution failed: %w", err)
	}
	return result, nil
}

// queryContext leaves the timeout to the caller's context because the rows
// outlive this call.
func (d *DB) queryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		logger.LogError("Database query failed: query=%s, error=%v", query, err)
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return rows, nil
}

// =============================================================================
// UTILITY FUNCTIONS (JSON AND TIME HANDLING)
// =============================================================================

func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

func unmarshalNullableJSON(nullStr sql.NullString, v interface{}) error {
	if !nullStr.Valid || nullStr.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(nullStr.String), v); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

func parseTime(timeStr string) (time.Time, error) {
	return time.Parse(TimeFormat, timeStr)
}
