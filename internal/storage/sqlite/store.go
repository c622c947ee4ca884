// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	// Import SQLite driver
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/chronicle-dev/chronicle/internal/storage"
)

// Store implements the storage.Store interface using SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool // Tracks whether Close() has been called
}

// Verify Store implements storage.Store at compile time
var _ storage.Store = (*Store)(nil)

// setupWASMCache configures WASM compilation caching to reduce SQLite
// startup time. Returns the cache directory path (empty string if using
// the in-memory cache).
//
// Cache behavior:
//   - Location: ~/.cache/chronicle/wasm/ (platform-specific via os.UserCacheDir)
//   - Version management: wazero automatically keys cache by its version
//   - Fallback: uses in-memory cache if filesystem cache creation fails
func setupWASMCache() string {
	cacheDir := ""
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "chronicle", "wasm")
	}

	var cache wazero.CompilationCache
	if cacheDir != "" {
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
		cacheDir = ""
	}

	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)

	return cacheDir
}

func init() {
	// Avoid the WASM JIT compilation overhead on every process start.
	_ = setupWASMCache()
}

// DefaultPoolSize is the connection pool size used when none is configured.
const DefaultPoolSize = 10

// MaxPoolSize is the hard cap on the connection pool size.
const MaxPoolSize = 100

// New creates a new SQLite storage backend at path.
//
// poolSize bounds the connection pool; values outside [1, 100] are clamped
// to the default/cap. In-memory databases are forced to a single connection
// because SQLite isolates in-memory databases per connection.
func New(ctx context.Context, path string, poolSize int) (*Store, error) {
	// Build connection string with proper URI syntax.
	// For :memory: databases, use shared cache so multiple connections see
	// the same data. WAL mode doesn't work for shared in-memory databases,
	// so those use DELETE mode.
	var connStr string
	if path == ":memory:" {
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	} else if strings.HasPrefix(path, "file:") {
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			connStr += "&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
		}
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_pragma=synchronous(NORMAL)&_pragma=cache_size(-64000)&_pragma=temp_store(MEMORY)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", storage.ErrConnection, err)
	}

	// In-memory databases are isolated per connection by default; without a
	// single shared connection, pool members can't see each other's writes.
	isInMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
	if isInMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if poolSize < 1 {
			poolSize = DefaultPoolSize
		}
		if poolSize > MaxPoolSize {
			poolSize = MaxPoolSize
		}
		db.SetMaxOpenConns(poolSize)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0) // SQLite doesn't need connection recycling
	}

	// For file-based databases, enable WAL mode once after opening.
	if !isInMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("%w: failed to enable WAL mode: %v", storage.ErrConnection, err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to ping database: %v", storage.ErrConnection, err)
	}

	// Initialize schema. The schema executes idempotently (IF NOT EXISTS
	// for every object), so this is safe on existing databases.
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize schema: %v", storage.ErrSchema, err)
	}

	if err := RunMigrations(db); err != nil {
		return nil, err
	}

	// Verify schema compatibility after migrations; retry once on failure
	// in case a concurrent process was mid-migration.
	if err := verifySchemaCompatibility(db); err != nil {
		if retryErr := RunMigrations(db); retryErr != nil {
			return nil, fmt.Errorf("%w: migration retry failed after schema probe failure: %v (original: %v)", storage.ErrSchema, retryErr, err)
		}
		if err := verifySchemaCompatibility(db); err != nil {
			return nil, fmt.Errorf("%w: schema probe failed after migration retry: %v", storage.ErrSchema, err)
		}
	}

	absPath := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		absPath, err = filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
	}

	return &Store{
		db:     db,
		dbPath: absPath,
	}, nil
}

// Close closes the database connection.
// It checkpoints the WAL so all writes are flushed to the main database file.
func (s *Store) Close() error {
	s.closed.Store(true)
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// IsClosed returns true if Close() has been called on this store.
func (s *Store) IsClosed() bool {
	return s.closed.Load()
}

// Path returns the absolute path to the database file.
func (s *Store) Path() string {
	return s.dbPath
}

// Ping validates connectivity with a round-trip.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrConnection, err)
	}
	return nil
}

// UnderlyingDB returns the underlying *sql.DB for extensions and tests.
//
// Do not call Close() on the returned handle; the Store owns the
// connection lifecycle. Do not change pool settings or PRAGMAs.
func (s *Store) UnderlyingDB() *sql.DB {
	return s.db
}

// verifySchemaCompatibility probes the tables the application depends on.
// A failed probe means the database predates a required migration or is
// corrupted.
func verifySchemaCompatibility(db *sql.DB) error {
	probes := []string{
		`SELECT id, date, time, duration_minutes, source, source_event_id, source_link FROM raw_activities LIMIT 0`,
		`SELECT block_id, page_id, parent_block_id, is_leaf, abstract, last_edited_at FROM note_blocks LIMIT 0`,
		`SELECT id, block_id, model, vector, dim FROM embeddings LIMIT 0`,
		`SELECT id, name, usage_count FROM tags LIMIT 0`,
		`SELECT id, date, raw_activity_ids, sources FROM processed_activities LIMIT 0`,
		`SELECT processed_activity_id, tag_id, confidence FROM activity_tags LIMIT 0`,
		`SELECT job_id, status, progress FROM jobs LIMIT 0`,
		`SELECT namespace, name, version, content FROM resources LIMIT 0`,
	}
	for _, probe := range probes {
		if _, err := db.Exec(probe); err != nil {
			return fmt.Errorf("schema probe failed: %w", err)
		}
	}
	return nil
}
