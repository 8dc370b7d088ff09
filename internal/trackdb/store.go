// Package trackdb persists tracked-account records: the association
// between an external account and the configured client that owns its
// notifications. The store is a single SQLite file under the data
// directory; this process is its only writer.
package trackdb

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// FileName is the store file name inside the data directory.
const FileName = "tracked_accounts.db"

// schemaVersion is stored in the SQLite user_version pragma. Version 0
// marks files written before versioning existed.
const schemaVersion = 1

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS tracked_accounts (
		account_id TEXT PRIMARY KEY,
		client     TEXT NOT NULL,
		added_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)
`

// ErrStoreBroken marks a store whose live connection could not be
// restored after a file swap. The process must not keep serving with a
// broken store; callers escalate this to a shutdown.
var ErrStoreBroken = errors.New("tracked-account store unusable")

// Record is one persisted tracked-account row.
type Record struct {
	AccountID string // external account identifier
	Client    string // owning client name; must be a configured client
}

// Store is the tracked-account database. Write operations (Repair,
// Add, Remove, Import) hold an exclusive section so a repair batch can
// never interleave with another write; reads go straight to SQLite.
type Store struct {
	path    string
	existed bool

	writeMu sync.Mutex
	db      *sql.DB
}

// Open opens (or creates) the store file. A failure here is fatal for
// the caller: every downstream component depends on this store, so
// there is no degraded mode without it.
func Open(path string) (*Store, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	return &Store{path: path, existed: existed, db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the store file location.
func (s *Store) Path() string { return s.path }

// Existed reports whether the store file was already present when this
// Store was opened. Used by the orchestrator to decide whether a
// first-run Init is needed.
func (s *Store) Existed() bool { return s.existed }

// Init creates the schema at the current version. Idempotent: calling
// it on an initialized store is a no-op, never an error.
func (s *Store) Init() error {
	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Upgrade migrates an older store file to the current schema version.
// It runs on every startup, whether or not the file was just created;
// an up-to-date store is a no-op. Version 0 files predate versioning
// and may lack the added_at column (or the table entirely).
func (s *Store) Upgrade() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("upgrade schema: %w", err)
	}
	var hasAddedAt int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('tracked_accounts') WHERE name = 'added_at'`,
	).Scan(&hasAddedAt)
	if err != nil {
		return fmt.Errorf("upgrade schema: %w", err)
	}
	if hasAddedAt == 0 {
		// SQLite rejects ADD COLUMN with a non-constant default, so
		// pre-versioning rows keep a NULL added_at.
		if _, err := s.db.Exec(`ALTER TABLE tracked_accounts ADD COLUMN added_at TIMESTAMP`); err != nil {
			return fmt.Errorf("upgrade schema: %w", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("upgrade schema: %w", err)
	}
	return nil
}

// CheckConsistency returns every record whose owning client is not in
// the configured set. An empty result means the store is consistent.
// This is a read-only scan; the store is never mutated here.
func (s *Store) CheckConsistency(configured []string) ([]Record, error) {
	if len(configured) == 0 {
		return s.list(`SELECT account_id, client FROM tracked_accounts ORDER BY account_id`)
	}

	placeholders := strings.Repeat("?,", len(configured))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(configured))
	for i, c := range configured {
		args[i] = c
	}

	query := fmt.Sprintf(
		`SELECT account_id, client FROM tracked_accounts WHERE client NOT IN (%s) ORDER BY account_id`,
		placeholders,
	)
	return s.list(query, args...)
}

// Repair rewrites the owning client of each invalid record to fallback.
// All updates run in one transaction so a crash mid-repair can never
// leave a record half-written. Returns the number of records changed.
func (s *Store) Repair(invalid []Record, fallback string) (int, error) {
	if len(invalid) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin repair: %w", err)
	}
	defer tx.Rollback()

	changed := 0
	for _, rec := range invalid {
		res, err := tx.Exec(
			`UPDATE tracked_accounts SET client = ? WHERE account_id = ?`,
			fallback, rec.AccountID,
		)
		if err != nil {
			return 0, fmt.Errorf("repair %s: %w", rec.AccountID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("repair %s: %w", rec.AccountID, err)
		}
		changed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit repair: %w", err)
	}
	return changed, nil
}

// Add inserts a tracked account owned by the given client. Tracking an
// already-tracked account updates its owner.
func (s *Store) Add(accountID, client string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO tracked_accounts (account_id, client) VALUES (?, ?)
		 ON CONFLICT (account_id) DO UPDATE SET client = excluded.client`,
		accountID, client,
	)
	if err != nil {
		return fmt.Errorf("add %s: %w", accountID, err)
	}
	return nil
}

// Remove deletes a tracked account. Removing an unknown account is a
// no-op; Remove reports whether a row was deleted.
func (s *Store) Remove(accountID string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.Exec(`DELETE FROM tracked_accounts WHERE account_id = ?`, accountID)
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", accountID, err)
	}
	return n > 0, nil
}

// List returns every tracked-account record ordered by account ID.
func (s *Store) List() ([]Record, error) {
	return s.list(`SELECT account_id, client FROM tracked_accounts ORDER BY account_id`)
}

// Count returns the number of tracked accounts.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tracked_accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (s *Store) list(query string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.AccountID, &r.Client); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Export streams the raw store file to w, for the exportdata admin
// command. A WAL checkpoint is forced first so the file on disk is
// complete.
func (s *Store) Export(w io.Writer) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("checkpoint before export: %w", err)
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open store for export: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("export store: %w", err)
	}
	return nil
}

// Import replaces the store file with the contents of r, for the
// importdata admin command. The payload is written to a temp path and
// validated as a tracked-account database before the live file is
// touched, so a bad upload is rejected with the existing data intact.
// Only after validation is the connection closed and the temp file
// renamed into place. If the store cannot be reopened after the swap
// the returned error wraps ErrStoreBroken and the caller must stop
// serving.
func (s *Store) Import(r io.Reader) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "import-*.db")
	if err != nil {
		return fmt.Errorf("create import temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write import data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write import data: %w", err)
	}

	if err := validateStoreFile(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rejected import: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close store for import: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		// The live file is still on disk; try to get back on it.
		if db, reopenErr := reopen(s.path); reopenErr == nil {
			s.db = db
			return fmt.Errorf("replace store file: %w", err)
		}
		return fmt.Errorf("replace store file: %w: %w", err, ErrStoreBroken)
	}

	db, err := reopen(s.path)
	if err != nil {
		return fmt.Errorf("reopen store after import: %w: %w", err, ErrStoreBroken)
	}
	s.db = db
	return nil
}

// validateStoreFile checks that path holds a readable SQLite database
// with the tracked_accounts table.
func validateStoreFile(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("not a usable database: %w", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM tracked_accounts`).Scan(&n); err != nil {
		return fmt.Errorf("not a tracked-account database: %w", err)
	}
	return nil
}

func reopen(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
