// Package storage implements the Storage Core (spec.md §4.1): a single
// embedded document+graph store with typed record tables, secondary
// indexes, graph edges, ACID transactions, and read snapshots, backed by
// SQLite. Grounded on the teacher's internal/store/local_core.go
// (schema-init idiom, WAL pragmas) and internal/store/local_graph.go
// (edge table + BFS traversal shape).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/cogmem/engine/internal/config"
	"github.com/cogmem/engine/internal/engerr"
	"github.com/cogmem/engine/internal/obslog"
)

// TableSchema declares a logical table and the fields it indexes. Index
// maintenance happens transactionally with every primary write to that
// table (spec.md §4.1: "Secondary indexing").
type TableSchema struct {
	Name          string
	IndexedFields []string
}

// Store is the Storage Core: an embedded document+graph KV with ACID
// transactions. It holds no caller-visible mutable state beyond the pool
// and a read-only fault flag (spec.md §5: the VFS above it is stateless).
type Store struct {
	pool       *Pool
	mu         sync.RWMutex
	schemas    map[string]TableSchema
	vectorExt  bool
	readOnly   atomic.Bool
	log        *zap.Logger
}

// Open initializes the Storage Core at the configured path, applying the
// teacher's WAL + synchronous=NORMAL pragma combination for crash-safe,
// low-latency durability.
func Open(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	log := obslog.Get(obslog.CategoryStorage)
	timer := obslog.StartTimer(obslog.CategoryStorage, "Open")
	defer timer.Stop()

	dsn, err := dsnFor(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.ConnectionMode == config.ConnectionModeLocalFile {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
	}

	pool, err := newPool(ctx, dsn, cfg.Pool)
	if err != nil {
		return nil, fmt.Errorf("storage: open pool: %w", err)
	}

	if _, err := pool.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("set busy_timeout failed", zap.Error(err))
	}
	if _, err := pool.db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		log.Debug("set journal_mode failed", zap.Error(err))
	}
	// synchronous=NORMAL gives a large write speedup with WAL already
	// providing crash recovery.
	if _, err := pool.db.ExecContext(ctx, "PRAGMA synchronous = NORMAL"); err != nil {
		log.Debug("set synchronous failed", zap.Error(err))
	}
	if _, err := pool.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		log.Debug("set foreign_keys failed", zap.Error(err))
	}

	s := &Store{
		pool:    pool,
		schemas: make(map[string]TableSchema),
		log:     log,
	}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	s.detectVectorExtension(ctx)
	if cfg.RequireVectorExt && !s.vectorExt {
		pool.Close()
		return nil, fmt.Errorf("storage: sqlite-vec extension required but unavailable")
	}

	s.registerCoreSchemas()

	log.Info("storage core ready", zap.String("mode", string(cfg.ConnectionMode)), zap.Bool("vector_ext", s.vectorExt))
	return s, nil
}

func dsnFor(cfg config.StorageConfig) (string, error) {
	switch cfg.ConnectionMode {
	case config.ConnectionModeMemory:
		return "file::memory:?cache=shared", nil
	case config.ConnectionModeLocalFile:
		if cfg.Path == "" {
			return "", &engerr.InvalidInput{What: "storage.path required for local_file mode"}
		}
		return cfg.Path, nil
	case config.ConnectionModeRemoteEndpoint:
		// Remote endpoints are out of this engine's scope (spec.md Non-goals:
		// no wire-level compatibility with an external DB); local_file/memory
		// cover every code path this module exercises.
		return "", &engerr.InvalidInput{What: "remote_endpoint connection mode is not implemented"}
	default:
		return "", &engerr.InvalidInput{What: fmt.Sprintf("unknown connection_mode %q", cfg.ConnectionMode)}
	}
}

// registerCoreSchemas declares the tables the engine's higher layers rely
// on and the fields each indexes.
func (s *Store) registerCoreSchemas() {
	for _, schema := range []TableSchema{
		{Name: "workspaces", IndexedFields: []string{"namespace"}},
		{Name: "vnodes", IndexedFields: []string{"workspace_id", "path", "content_hash"}},
		{Name: "semantic_units", IndexedFields: []string{"workspace_id", "qualified_name", "file_path", "status"}},
		{Name: "episodes", IndexedFields: []string{"workspace_id", "agent_id", "episode_type"}},
		{Name: "patterns", IndexedFields: []string{"workspace_id", "pattern_type"}},
	} {
		s.schemas[schema.Name] = schema
	}
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			table_name TEXT NOT NULL,
			id TEXT NOT NULL,
			content BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (table_name, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_table ON documents(table_name)`,
		`CREATE TABLE IF NOT EXISTS document_index (
			table_name TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			id TEXT NOT NULL,
			PRIMARY KEY (table_name, field, value, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_index_lookup ON document_index(table_name, field, value)`,
		`CREATE TABLE IF NOT EXISTS graph_edges (
			from_id TEXT NOT NULL,
			edge_type TEXT NOT NULL,
			to_id TEXT NOT NULL,
			attrs BLOB,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (from_id, edge_type, to_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_edges_to ON graph_edges(to_id, edge_type)`,
		`CREATE TABLE IF NOT EXISTS blobs (
			hash TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			refcount INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS working_items (
			key TEXT PRIMARY KEY,
			agent_id TEXT,
			session_id TEXT,
			content BLOB,
			priority TEXT,
			byte_size INTEGER,
			created_at DATETIME,
			last_accessed DATETIME,
			access_count INTEGER DEFAULT 0
		)`,
	}

	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return tx.Commit()
}

// detectVectorExtension probes for sqlite-vec's vec0 virtual table support,
// mirroring the teacher's detectVecExtension probe-and-drop idiom.
func (s *Store) detectVectorExtension(ctx context.Context) {
	if _, err := s.pool.db.ExecContext(ctx, "CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.pool.db.ExecContext(ctx, "DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

// HasVectorExtension reports whether ANN search via sqlite-vec is available.
func (s *Store) HasVectorExtension() bool { return s.vectorExt }

// IsReadOnly reports whether the engine has degraded into read-only mode
// after a StorageFault (spec.md §7).
func (s *Store) IsReadOnly() bool { return s.readOnly.Load() }

// degrade transitions the store to read-only mode. Called when a write
// encounters an unrecoverable fault (corruption, disk full after retries).
func (s *Store) degrade(reason string) *engerr.StorageFault {
	s.readOnly.Store(true)
	s.log.Error("storage degraded to read-only", zap.String("reason", reason))
	return &engerr.StorageFault{Reason: reason}
}

func (s *Store) checkWritable() error {
	if s.readOnly.Load() {
		return &engerr.StorageFault{Reason: "engine is in degraded read-only mode"}
	}
	return nil
}

// DB returns the underlying *sql.DB for components (e.g. the graph-query
// hydration path) that need direct read access.
func (s *Store) DB() *sql.DB { return s.pool.db }

// Close drains in-flight operations within the pool's configured grace
// period and closes the database connection (spec.md §4.1).
func (s *Store) Close() error {
	return s.pool.Close()
}

// Stats reports row counts per logical table, for Admin query-surface use.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int64)
	rows, err := s.pool.db.QueryContext(ctx, "SELECT table_name, COUNT(*) FROM documents GROUP BY table_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		out[name] = count
	}

	var edges int64
	if err := s.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM graph_edges").Scan(&edges); err == nil {
		out["graph_edges"] = edges
	}
	var blobs int64
	if err := s.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM blobs").Scan(&blobs); err == nil {
		out["blobs"] = blobs
	}
	return out, nil
}
