package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// docStore keeps the authoritative document bodies for one index in
// sqlite, alongside the field inventory and the settings row. Bodies
// are raw JSON; the full-text index is derived from them and can be
// rebuilt at any time.
type docStore struct {
	db   *sql.DB
	path string
}

// openDocStore opens (or creates) the document database at path.
// An empty path opens an in-memory database for testing.
func openDocStore(path string) (*docStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
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

	s := &docStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *docStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT PRIMARY KEY,
		body   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fields (
		name TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS settings (
		id   INTEGER PRIMARY KEY CHECK (id = 1),
		body TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// upsert writes document bodies and their field names in one
// transaction. docs maps id to body.
func (s *docStore) upsert(ctx context.Context, docs map[string]map[string]any) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	docStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO documents(doc_id, body) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare document statement: %w", err)
	}
	defer docStmt.Close()

	fieldStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO fields(name) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare field statement: %w", err)
	}
	defer fieldStmt.Close()

	for id, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode document %s: %w", id, err)
		}
		if _, err := docStmt.ExecContext(ctx, id, string(body)); err != nil {
			return fmt.Errorf("failed to store document %s: %w", id, err)
		}
		for field := range doc {
			if _, err := fieldStmt.ExecContext(ctx, field); err != nil {
				return fmt.Errorf("failed to record field %s: %w", field, err)
			}
		}
	}

	return tx.Commit()
}

// get returns the body for id, or false when absent.
func (s *docStore) get(ctx context.Context, id string) (map[string]any, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE doc_id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read document %s: %w", id, err)
	}

	doc, err := decodeBody(body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return doc, true, nil
}

// remove deletes the given ids and reports how many rows existed.
func (s *docStore) remove(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`DELETE FROM documents WHERE doc_id = ?`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer stmt.Close()

	removed := 0
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("failed to delete document %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read delete result: %w", err)
		}
		removed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

// clear drops every document and the field inventory, returning how
// many documents were removed. Settings survive.
func (s *docStore) clear(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read clear result: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fields`); err != nil {
		return 0, fmt.Errorf("failed to clear fields: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// list returns document bodies ordered by id.
func (s *docStore) list(ctx context.Context, offset, limit int) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM documents ORDER BY doc_id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]map[string]any, 0, limit)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		doc, err := decodeBody(body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// each streams every (id, body) pair to fn in id order. Used to replay
// documents into a rebuilt full-text index.
func (s *docStore) each(ctx context.Context, fn func(id string, doc map[string]any) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, body FROM documents ORDER BY doc_id`)
	if err != nil {
		return fmt.Errorf("failed to scan documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return fmt.Errorf("failed to scan document row: %w", err)
		}
		doc, err := decodeBody(body)
		if err != nil {
			return fmt.Errorf("failed to decode document %s: %w", id, err)
		}
		if err := fn(id, doc); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *docStore) count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

func (s *docStore) fieldsCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fields`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count fields: %w", err)
	}
	return n, nil
}

// loadSettings returns the stored settings, or zero settings when none
// were ever written.
func (s *docStore) loadSettings(ctx context.Context) (Settings, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM settings WHERE id = 1`).Scan(&body)
	if err == sql.ErrNoRows {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal([]byte(body), &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}

func (s *docStore) saveSettings(ctx context.Context, settings Settings) error {
	body, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings(id, body) VALUES (1, ?)`, string(body)); err != nil {
		return fmt.Errorf("failed to store settings: %w", err)
	}
	return nil
}

func (s *docStore) close() error {
	return s.db.Close()
}

func decodeBody(body string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
