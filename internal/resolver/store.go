package resolver

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// store persists name→uuid bindings in a single sqlite table.
// All access is serialized by the resolver loop, so the store itself
// carries no locking beyond the single-connection pool.
type store struct {
	db   *sql.DB
	path string
}

// validateIntegrity checks an existing database file before opening it
// for writes. Bindings are authoritative state, so corruption is
// surfaced as an error instead of clearing the file.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Database doesn't exist, will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	return nil
}

// openStore opens (or creates) the binding database at path.
// An empty path opens an in-memory database for testing.
func openStore(path string) (*store, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if err := validateIntegrity(path); err != nil {
			return nil, fmt.Errorf("uuid store at %s failed validation: %w", path, err)
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite, DSN
	// params may be ignored by the driver.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS index_uuids (
		name       TEXT PRIMARY KEY,
		uuid       TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// insert records a fresh binding. The caller checks for duplicates
// first; a primary key violation here means the check was skipped.
func (s *store) insert(ctx context.Context, name string, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO index_uuids(name, uuid, created_at) VALUES (?, ?, ?)`,
		name, id.String(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert binding %s: %w", name, err)
	}
	return nil
}

// lookup returns the uuid bound to name, or false when unbound.
func (s *store) lookup(ctx context.Context, name string) (uuid.UUID, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT uuid FROM index_uuids WHERE name = ?`, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to look up binding %s: %w", name, err)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to parse stored uuid for %s: %w", name, err)
	}
	return id, true, nil
}

// remove drops the binding for name. Reports whether a row existed.
func (s *store) remove(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM index_uuids WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete binding %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n > 0, nil
}

// list returns every binding in the table.
func (s *store) list(ctx context.Context) (map[string]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, uuid FROM index_uuids ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer rows.Close()

	bindings := make(map[string]uuid.UUID)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan binding row: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored uuid for %s: %w", name, err)
		}
		bindings[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bindings: %w", err)
	}
	return bindings, nil
}

// swap exchanges the uuids bound to a and b in one transaction.
// Both names must be bound; on any failure neither binding changes.
func (s *store) swap(ctx context.Context, a, b string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	read := func(name string) (string, error) {
		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT uuid FROM index_uuids WHERE name = ?`, name).Scan(&raw)
		if err == sql.ErrNoRows {
			return "", errUnbound(name)
		}
		if err != nil {
			return "", fmt.Errorf("failed to look up binding %s: %w", name, err)
		}
		return raw, nil
	}

	ua, err := read(a)
	if err != nil {
		return err
	}
	ub, err := read(b)
	if err != nil {
		return err
	}

	for _, pair := range []struct{ name, id string }{{a, ub}, {b, ua}} {
		if _, err := tx.ExecContext(ctx,
			`UPDATE index_uuids SET uuid = ? WHERE name = ?`, pair.id, pair.name); err != nil {
			return fmt.Errorf("failed to rebind %s: %w", pair.name, err)
		}
	}

	return tx.Commit()
}

func (s *store) close() error {
	return s.db.Close()
}

// errUnbound marks a swap participant that has no binding. The loop
// translates it to a structured not-found error.
type errUnbound string

func (e errUnbound) Error() string {
	return fmt.Sprintf("no binding for %s", string(e))
}
