// ABOUTME: SQLite implementation of the Store interfaces using modernc.org/sqlite
// ABOUTME: Provides catalog and chat persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// messageTimeLayout is fixed-width so text comparison orders turns correctly
const messageTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dsn := path
	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		// Pragmas in the DSN apply to every pooled connection
		dsn = path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL,
			is_admin      INTEGER NOT NULL DEFAULT 0,
			password_hash TEXT,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS groups (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_groups (
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			group_id   TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			role       TEXT NOT NULL DEFAULT 'member',
			created_at TEXT NOT NULL,

			PRIMARY KEY (user_id, group_id),
			CHECK (role IN ('member', 'admin'))
		);

		CREATE INDEX IF NOT EXISTS idx_user_groups_group ON user_groups(group_id);

		CREATE TABLE IF NOT EXISTS providers (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			family        TEXT NOT NULL,
			base_url      TEXT,
			configuration TEXT NOT NULL DEFAULT '{}',
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS model_configs (
			id              TEXT PRIMARY KEY,
			provider_id     TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
			model           TEXT NOT NULL,
			name            TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			supports_tools  INTEGER NOT NULL DEFAULT 0,
			supports_images INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_model_configs_provider ON model_configs(provider_id);

		CREATE TABLE IF NOT EXISTS model_config_credentials (
			model_config_id TEXT NOT NULL REFERENCES model_configs(id) ON DELETE CASCADE,
			key             TEXT NOT NULL,
			value           TEXT NOT NULL,

			PRIMARY KEY (model_config_id, key),
			CHECK (key IN ('apiKey', 'accessKeyId', 'secretAccessKey', 'region', 'projectId', 'serviceAccountKey'))
		);

		CREATE TABLE IF NOT EXISTS model_config_settings (
			model_config_id TEXT NOT NULL REFERENCES model_configs(id) ON DELETE CASCADE,
			key             TEXT NOT NULL,
			value           TEXT NOT NULL,

			PRIMARY KEY (model_config_id, key)
		);

		CREATE TABLE IF NOT EXISTS tools (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL UNIQUE,
			description   TEXT NOT NULL DEFAULT '',
			configuration TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS group_model_access (
			group_id        TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			model_config_id TEXT NOT NULL REFERENCES model_configs(id) ON DELETE CASCADE,

			PRIMARY KEY (group_id, model_config_id)
		);

		CREATE INDEX IF NOT EXISTS idx_group_model_access_model ON group_model_access(model_config_id);

		CREATE TABLE IF NOT EXISTS group_tool_access (
			group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			tool_id  TEXT NOT NULL REFERENCES tools(id) ON DELETE CASCADE,

			PRIMARY KEY (group_id, tool_id)
		);

		CREATE INDEX IF NOT EXISTS idx_group_tool_access_tool ON group_tool_access(tool_id);

		CREATE TABLE IF NOT EXISTS chats (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title           TEXT NOT NULL,
			model_config_id TEXT,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, created_at);

		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			chat_id    TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL,

			CHECK (role IN ('user', 'assistant', 'tool'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "chats",
			column: "model_config_id",
			apply:  `ALTER TABLE chats ADD COLUMN model_config_id TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping verifies the database connection is usable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE or PRIMARY KEY constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

// isForeignKeyViolation checks if the error is a SQLite FOREIGN KEY constraint violation
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// formatTime formats a catalog timestamp
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a catalog timestamp
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// boolToInt converts a bool to the 0/1 integer SQLite stores
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ?" with n markers for IN clauses
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// stringArgs converts ids into query arguments
func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// execOne runs a write that must affect exactly one row, returning ErrNotFound otherwise
func (s *SQLiteStore) execOne(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
