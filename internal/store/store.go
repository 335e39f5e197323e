// Package store implements the LOGify embedded log store (C7): a
// WAL-mode SQLite database at ~/.logify/server.db holding every persisted
// LogRecord plus its sync state against the remote aggregator. Ported from
// original_source/cli/logify/db.py's logs table, widened with the
// category/subcategory/privacy/network columns the enricher and detector
// populate, and self-migrating so an existing database from an earlier
// agent version gains the new columns in place. Grounded on the teacher's
// internal/queue package for the WAL pragmas, single-connection pooling,
// and chunked IN (...) update idiom.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/DM-Mulani-963/LOGify/internal/record"
)

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	timestamp REAL NOT NULL,
	meta TEXT NOT NULL DEFAULT '{}'
);
`

// migrationColumns are added to an existing logs table if absent, so a
// database created by an older build of the agent is brought up to the
// current schema without data loss.
var migrationColumns = []struct {
	name    string
	ddlType string
	dflt    string
}{
	{"synced", "INTEGER", "0"},
	{"server_id", "TEXT", "''"},
	{"category", "TEXT", "''"},
	{"subcategory", "TEXT", "''"},
	{"privacy", "TEXT", "'internal'"},
	{"source_ip", "TEXT", "''"},
	{"dest_ip", "TEXT", "''"},
	{"event_id", "TEXT", "''"},
}

// maxSyncedChunk bounds how many row IDs go into a single "IN (...)"
// clause for MarkSynced, matching sync.py's chunked update of 900 ids.
const maxSyncedChunk = 900

// Store is a single-connection, WAL-mode handle onto the log database.
// SQLite allows only one writer at a time; pooling is deliberately capped
// to one connection so every operation serializes through the driver
// rather than racing on database-is-locked errors.
type Store struct {
	db *sql.DB
}

// Open creates (if absent) and migrates the database at path, returning a
// ready Store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_logs_category ON logs(category)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create index: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_logs_subcategory ON logs(subcategory)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create index: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create index: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_logs_synced ON logs(synced)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create index: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	rows, err := db.Query(`PRAGMA table_info(logs)`)
	if err != nil {
		return err
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, col := range migrationColumns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE logs ADD COLUMN %s %s NOT NULL DEFAULT %s", col.name, col.ddlType, col.dflt)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert persists one LogRecord and returns it with ID populated.
func (s *Store) Insert(ctx context.Context, rec record.LogRecord) (record.LogRecord, error) {
	meta := rec.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return rec, fmt.Errorf("store: marshal meta: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (source, level, message, timestamp, meta, synced, category, subcategory, privacy, source_ip, dest_ip, event_id)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
	`,
		rec.Source, string(rec.Level), rec.Message, float64(rec.Timestamp.UnixNano())/1e9, string(metaJSON),
		string(rec.Category), rec.Subcategory, string(rec.Privacy), rec.SourceIP, rec.DestIP, rec.EventID,
	)
	if err != nil {
		return rec, fmt.Errorf("store: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return rec, fmt.Errorf("store: last insert id: %w", err)
	}
	rec.ID = id
	rec.Synced = false
	return rec, nil
}

// QueryUnsynced returns up to limit not-yet-synced records, oldest first.
func (s *Store) QueryUnsynced(ctx context.Context, limit int) ([]record.LogRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, level, message, timestamp, meta, category, subcategory, privacy, source_ip, dest_ip, event_id
		FROM logs
		WHERE synced = 0
		ORDER BY timestamp ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query unsynced: %w", err)
	}
	defer rows.Close()

	var out []record.LogRecord
	for rows.Next() {
		var rec record.LogRecord
		var ts float64
		var metaJSON string
		var category, subcategory, privacy string
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Level, &rec.Message, &ts, &metaJSON,
			&category, &subcategory, &privacy, &rec.SourceIP, &rec.DestIP, &rec.EventID); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		rec.Timestamp = time.Unix(0, int64(ts*1e9)).UTC()
		rec.Category = record.Category(category)
		rec.Subcategory = subcategory
		rec.Privacy = record.Privacy(privacy)
		if metaJSON != "" {
			meta := map[string]any{}
			if err := json.Unmarshal([]byte(metaJSON), &meta); err == nil {
				rec.Meta = meta
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkSynced flags the given record IDs as synced, in chunks of at most
// maxSyncedChunk so the IN (...) clause never grows unbounded.
func (s *Store) MarkSynced(ctx context.Context, ids []int64) error {
	for len(ids) > 0 {
		n := len(ids)
		if n > maxSyncedChunk {
			n = maxSyncedChunk
		}
		chunk := ids[:n]
		ids = ids[n:]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		stmt := fmt.Sprintf(`UPDATE logs SET synced = 1 WHERE id IN (%s)`, placeholders)
		if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("store: mark synced: %w", err)
		}
	}
	return nil
}

// Recent returns the most recent limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]record.LogRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, level, message, timestamp, meta, category, subcategory, privacy, source_ip, dest_ip, event_id, synced
		FROM logs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query recent: %w", err)
	}
	defer rows.Close()

	var out []record.LogRecord
	for rows.Next() {
		var rec record.LogRecord
		var ts float64
		var metaJSON string
		var category, subcategory, privacy string
		var synced int
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Level, &rec.Message, &ts, &metaJSON,
			&category, &subcategory, &privacy, &rec.SourceIP, &rec.DestIP, &rec.EventID, &synced); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		rec.Timestamp = time.Unix(0, int64(ts*1e9)).UTC()
		rec.Category = record.Category(category)
		rec.Subcategory = subcategory
		rec.Privacy = record.Privacy(privacy)
		rec.Synced = synced != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DistinctSources returns every distinct source path that has at least one
// record, for use by introspection/reporting callers.
func (s *Store) DistinctSources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source FROM logs ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("store: distinct sources: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// Stats reports coarse row counts: all stored records and those not yet
// synced.
type Stats struct {
	Total    int64
	Unsynced int64
}

// Stats returns the current row counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&st.Total); err != nil {
		return st, fmt.Errorf("store: count total: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs WHERE synced = 0`).Scan(&st.Unsynced); err != nil {
		return st, fmt.Errorf("store: count unsynced: %w", err)
	}
	return st, nil
}
