// Package sqlitegraph implements the gdb contracts over SQLite. One database
// file holds the versioned property graph (knodes/krelns), the Version
// records, users and their notes, widget approvals, and optionally the build
// artifacts when the deployment stores artifacts in the graph store instead
// of the filesystem.
package sqlitegraph

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"proofmesh/internal/logging"
)

// Store is the SQLite-backed graph store. It implements gdb.Reader and
// gdb.Writer.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the SQLite database at the given path. ":memory:" gives a
// throwaway store for tests.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Initializing graph store at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Graph store schema initialized")
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	knodesTable := `
	CREATE TABLE IF NOT EXISTS knodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL,
		libpath TEXT NOT NULL,
		major TEXT NOT NULL,
		major_num INTEGER NOT NULL,
		cut TEXT,
		cut_num INTEGER NOT NULL,
		modpath TEXT,
		repopath TEXT,
		origin TEXT,
		UNIQUE(label, libpath, major)
	);
	CREATE INDEX IF NOT EXISTS idx_knodes_libpath ON knodes(libpath);
	CREATE INDEX IF NOT EXISTS idx_knodes_modpath ON knodes(modpath);
	CREATE INDEX IF NOT EXISTS idx_knodes_repopath ON knodes(repopath);
	CREATE INDEX IF NOT EXISTS idx_knodes_origin ON knodes(origin);
	`

	krelnsTable := `
	CREATE TABLE IF NOT EXISTS krelns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reln_type TEXT NOT NULL,
		tail_libpath TEXT NOT NULL,
		head_libpath TEXT NOT NULL,
		tail_major TEXT NOT NULL,
		head_major TEXT NOT NULL,
		major TEXT NOT NULL,
		major_num INTEGER NOT NULL,
		cut TEXT,
		cut_num INTEGER NOT NULL,
		modpath TEXT,
		repopath TEXT,
		segment TEXT,
		taken_at TEXT,
		UNIQUE(reln_type, tail_libpath, head_libpath, major)
	);
	CREATE INDEX IF NOT EXISTS idx_krelns_tail ON krelns(tail_libpath);
	CREATE INDEX IF NOT EXISTS idx_krelns_head ON krelns(head_libpath);
	CREATE INDEX IF NOT EXISTS idx_krelns_type ON krelns(reln_type);
	CREATE INDEX IF NOT EXISTS idx_krelns_modpath ON krelns(modpath);
	`

	versionsTable := `
	CREATE TABLE IF NOT EXISTS versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repopath TEXT NOT NULL,
		version TEXT NOT NULL,
		padded TEXT NOT NULL,
		major TEXT NOT NULL,
		commit_hash TEXT,
		indexed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(repopath, version)
	);
	CREATE INDEX IF NOT EXISTS idx_versions_repopath ON versions(repopath);
	`

	usersTable := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		props TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	// NOTES edges: keyed by (username, origin) so notes survive moves.
	notesTable := `
	CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		origin TEXT NOT NULL,
		goal_libpath TEXT NOT NULL,
		goal_major TEXT NOT NULL,
		state TEXT NOT NULL,
		notes TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, origin)
	);
	CREATE INDEX IF NOT EXISTS idx_notes_username ON notes(username);
	CREATE INDEX IF NOT EXISTS idx_notes_origin ON notes(origin);
	`

	approvalsTable := `
	CREATE TABLE IF NOT EXISTS approvals (
		widgetpath TEXT NOT NULL,
		version TEXT NOT NULL,
		approvals_json TEXT NOT NULL,
		UNIQUE(widgetpath, version)
	);
	`

	// Build artifacts attached to synthetic kNodes via BUILD edges; in the
	// relational binding the edge and payload collapse into one row.
	artifactsTable := `
	CREATE TABLE IF NOT EXISTS artifacts (
		kind TEXT NOT NULL,
		libpath TEXT NOT NULL,
		version TEXT NOT NULL,
		modpath TEXT,
		content BLOB,
		extra BLOB,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(kind, libpath, version)
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_modpath ON artifacts(modpath);
	`

	for _, table := range []string{
		knodesTable,
		krelnsTable,
		versionsTable,
		usersTable,
		notesTable,
		approvalsTable,
		artifactsTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("Closing graph store database connection")
	return s.db.Close()
}

// DB returns the underlying SQL database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}
