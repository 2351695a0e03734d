package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	engerrors "github.com/engramhq/engram/internal/errors"
)

// SchemaVersion is bumped whenever migrations grow a new step.
const SchemaVersion = 4

// SentinelName is the freshness marker written next to the database. Readers
// in other processes compare its counter against their last-seen value to
// decide whether to reload.
const SentinelName = ".db-updated"

// Store owns the SQLite database, its advisory lock, and the in-process HNSW
// vector index. All methods are safe for concurrent use; SQLite writes are
// serialized by the single-connection pool.
type Store struct {
	db       *sql.DB
	path     string
	dim      int
	lock     *flock.Flock
	logger   *slog.Logger
	vectors  *VectorIndex
	triggers *triggerCache

	mu     sync.RWMutex
	closed bool

	sentinelMu   sync.Mutex
	sentinelSeen int64
}

// Options configures Open.
type Options struct {
	// Dir is the data directory holding the database and sentinel.
	Dir string
	// ProfileSlug identifies the embedding profile; it names the store file.
	ProfileSlug string
	// Dim is the embedding dimension the store must match.
	Dim int
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Open creates or opens the store for an embedding profile. The database file
// is context-index-<slug>.sqlite inside dir. An advisory file lock guards
// against a second writer process; Open fails fast if the lock is held.
func Open(opts Options) (*Store, error) {
	if opts.ProfileSlug == "" {
		return nil, fmt.Errorf("open store: profile slug required")
	}
	if opts.Dim <= 0 {
		return nil, fmt.Errorf("open store: dimension required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(opts.Dir, fmt.Sprintf("context-index-%s.sqlite", opts.ProfileSlug))

	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !locked {
		return nil, engerrors.New(engerrors.CodeUnavailable,
			"another process holds the store lock", nil).
			WithDetail("path", dbPath+".lock").
			WithRecovery("a second writer is running against this store",
				"stop the other process", "retry")
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		_ = lock.Unlock()
		return nil, engerrors.Database(fmt.Errorf("open %s: %w", dbPath, err))
	}
	// modernc.org/sqlite is single-writer; one connection avoids SQLITE_BUSY
	// between our own goroutines.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:       db,
		path:     dbPath,
		dim:      opts.Dim,
		lock:     lock,
		logger:   logger,
		triggers: newTriggerCache(),
	}

	if err := s.configure(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	if err := s.checkProfile(opts.ProfileSlug, opts.Dim); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	s.vectors = NewVectorIndex(opts.Dim)
	if err := s.rebuildVectors(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	s.sentinelSeen = s.readSentinel()

	logger.Info("store opened",
		slog.String("path", dbPath),
		slog.Int("dim", opts.Dim),
		slog.Int("vectors", s.vectors.Len()))
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-65536",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return engerrors.Database(fmt.Errorf("%s: %w", p, err))
		}
	}
	return nil
}

// migration is one idempotent schema step, applied inside a transaction and
// recorded in schema_migrations.
type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{1, []string{
		`CREATE TABLE IF NOT EXISTS memory_index (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			spec_folder      TEXT NOT NULL,
			file_path        TEXT NOT NULL UNIQUE,
			title            TEXT NOT NULL DEFAULT '',
			content_hash     TEXT NOT NULL,
			content          TEXT NOT NULL DEFAULT '',
			trigger_phrases  TEXT NOT NULL DEFAULT '[]',
			context_type     TEXT NOT NULL DEFAULT 'general',
			importance_tier  TEXT NOT NULL DEFAULT 'normal',
			importance_weight REAL NOT NULL DEFAULT 0.5,
			embedding        BLOB,
			embedding_status TEXT NOT NULL DEFAULT 'pending',
			file_mtime_ns    INTEGER NOT NULL DEFAULT 0,
			stability        REAL NOT NULL DEFAULT 1.0,
			difficulty       REAL NOT NULL DEFAULT 5.0,
			last_review      INTEGER NOT NULL DEFAULT 0,
			review_count     INTEGER NOT NULL DEFAULT 0,
			access_count     INTEGER NOT NULL DEFAULT 0,
			last_accessed    INTEGER NOT NULL DEFAULT 0,
			confidence       REAL NOT NULL DEFAULT 0.5,
			validation_count INTEGER NOT NULL DEFAULT 0,
			related_memories TEXT NOT NULL DEFAULT '[]',
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_folder ON memory_index(spec_folder)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_tier ON memory_index(importance_tier)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_status ON memory_index(embedding_status)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
			title, content, content='memory_index', content_rowid='id', tokenize='porter unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memory_fts_ai AFTER INSERT ON memory_index BEGIN
			INSERT INTO memory_fts(rowid, title, content) VALUES (new.id, new.title, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memory_fts_ad AFTER DELETE ON memory_index BEGIN
			INSERT INTO memory_fts(memory_fts, rowid, title, content) VALUES ('delete', old.id, old.title, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memory_fts_au AFTER UPDATE ON memory_index BEGIN
			INSERT INTO memory_fts(memory_fts, rowid, title, content) VALUES ('delete', old.id, old.title, old.content);
			INSERT INTO memory_fts(rowid, title, content) VALUES (new.id, new.title, new.content);
		END`,
		`CREATE TABLE IF NOT EXISTS config (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}},
	{2, []string{
		`CREATE TABLE IF NOT EXISTS causal_edges (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id  INTEGER NOT NULL REFERENCES memory_index(id) ON DELETE CASCADE,
			target_id  INTEGER NOT NULL REFERENCES memory_index(id) ON DELETE CASCADE,
			relation   TEXT NOT NULL,
			strength   REAL NOT NULL DEFAULT 1.0,
			evidence   TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			UNIQUE(source_id, target_id, relation)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON causal_edges(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON causal_edges(target_id)`,
	}},
	{3, []string{
		`CREATE TABLE IF NOT EXISTS working_memory (
			session_id          TEXT NOT NULL,
			memory_id           INTEGER NOT NULL REFERENCES memory_index(id) ON DELETE CASCADE,
			attention_score     REAL NOT NULL DEFAULT 1.0,
			last_turn_activated INTEGER NOT NULL DEFAULT 0,
			last_decay_turn     INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY(session_id, memory_id)
		)`,
		`CREATE TABLE IF NOT EXISTS session_learning (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			spec_folder         TEXT NOT NULL,
			task_id             TEXT NOT NULL,
			phase               TEXT NOT NULL,
			session_id          TEXT NOT NULL DEFAULT '',
			pre_knowledge       INTEGER NOT NULL DEFAULT 0,
			pre_uncertainty     INTEGER NOT NULL DEFAULT 0,
			pre_context         INTEGER NOT NULL DEFAULT 0,
			knowledge_gaps      TEXT NOT NULL DEFAULT '[]',
			post_knowledge      INTEGER NOT NULL DEFAULT 0,
			post_uncertainty    INTEGER NOT NULL DEFAULT 0,
			post_context        INTEGER NOT NULL DEFAULT 0,
			delta_knowledge     REAL NOT NULL DEFAULT 0,
			delta_uncertainty   REAL NOT NULL DEFAULT 0,
			delta_context       REAL NOT NULL DEFAULT 0,
			learning_index      REAL NOT NULL DEFAULT 0,
			gaps_closed         TEXT NOT NULL DEFAULT '[]',
			new_gaps_discovered TEXT NOT NULL DEFAULT '[]',
			created_at          INTEGER NOT NULL,
			updated_at          INTEGER NOT NULL,
			UNIQUE(spec_folder, task_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_learning_folder ON session_learning(spec_folder)`,
	}},
	{4, []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			name        TEXT PRIMARY KEY,
			spec_folder TEXT NOT NULL DEFAULT '',
			metadata    TEXT NOT NULL DEFAULT '{}',
			payload     TEXT NOT NULL,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_conflicts (
			id                     INTEGER PRIMARY KEY AUTOINCREMENT,
			new_memory_hash        TEXT NOT NULL,
			existing_memory_id     INTEGER NOT NULL DEFAULT 0,
			similarity_score       REAL NOT NULL DEFAULT 0,
			action                 TEXT NOT NULL,
			contradiction_detected INTEGER NOT NULL DEFAULT 0,
			notes                  TEXT NOT NULL DEFAULT '',
			spec_folder            TEXT NOT NULL DEFAULT '',
			created_at             INTEGER NOT NULL
		)`,
	}},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return engerrors.Database(fmt.Errorf("create schema_migrations: %w", err))
	}

	applied := make(map[int]bool)
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return engerrors.Database(err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return engerrors.Database(err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return engerrors.Database(err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return engerrors.Database(err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return engerrors.Database(fmt.Errorf("migration %d: %w", m.version, err))
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(version, applied_at) VALUES (?, ?)`,
			m.version, time.Now().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return engerrors.Database(err)
		}
		if err := tx.Commit(); err != nil {
			return engerrors.Database(err)
		}
		s.logger.Info("applied migration", slog.Int("version", m.version))
	}

	if err := s.SetConfig(ConfigKeySchemaVer, strconv.Itoa(SchemaVersion)); err != nil {
		return err
	}
	return nil
}

// checkProfile records the profile on first open and rejects dimension or
// profile drift on subsequent opens. A store indexed under one embedding
// space is useless under another.
func (s *Store) checkProfile(slug string, dim int) error {
	stored, err := s.GetConfig(ConfigKeyEmbeddingDim)
	if err != nil {
		return err
	}
	if stored == "" {
		if err := s.SetConfig(ConfigKeyEmbeddingDim, strconv.Itoa(dim)); err != nil {
			return err
		}
		return s.SetConfig(ConfigKeyProfileSlug, slug)
	}
	storedDim, err := strconv.Atoi(stored)
	if err != nil {
		return engerrors.Database(fmt.Errorf("corrupt embedding_dim %q: %w", stored, err))
	}
	if storedDim != dim {
		return engerrors.DimensionMismatch(storedDim, dim).
			WithDetail("store", s.path)
	}
	return nil
}

// rebuildVectors loads every successful embedding into the HNSW index.
func (s *Store) rebuildVectors() error {
	rows, err := s.db.Query(
		`SELECT id, embedding FROM memory_index
		 WHERE embedding_status = ? AND embedding IS NOT NULL`, EmbeddingSuccess)
	if err != nil {
		return engerrors.Database(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return engerrors.Database(err)
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			s.logger.Warn("skipping corrupt embedding", slog.Int64("id", id), slog.String("error", err.Error()))
			continue
		}
		if len(vec) != s.dim {
			s.logger.Warn("skipping off-dimension embedding",
				slog.Int64("id", id), slog.Int("got", len(vec)), slog.Int("want", s.dim))
			continue
		}
		s.vectors.Add(id, vec)
	}
	return rows.Err()
}

// Dim returns the embedding dimension the store was opened with.
func (s *Store) Dim() int { return s.dim }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying handle for integrity checks and tests.
func (s *Store) DB() *sql.DB { return s.db }

// Vectors exposes the in-process vector index.
func (s *Store) Vectors() *VectorIndex { return s.vectors }

// GetConfig reads a config value; missing keys return "".
func (s *Store) GetConfig(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", engerrors.Database(err)
	}
	return v, nil
}

// SetConfig upserts a config value.
func (s *Store) SetConfig(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO config(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return engerrors.Database(err)
	}
	return nil
}

// LastScanTime returns the persisted scan watermark, zero if never scanned.
func (s *Store) LastScanTime() (time.Time, error) {
	v, err := s.GetConfig(ConfigKeyLastScanMS)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

// SetLastScanTime persists the scan watermark.
func (s *Store) SetLastScanTime(t time.Time) error {
	return s.SetConfig(ConfigKeyLastScanMS, strconv.FormatInt(t.UnixMilli(), 10))
}

func (s *Store) sentinelPath() string {
	return filepath.Join(filepath.Dir(s.path), SentinelName)
}

// readSentinel returns the on-disk counter, zero when the file is missing or
// malformed.
func (s *Store) readSentinel() int64 {
	b, err := os.ReadFile(s.sentinelPath())
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(string(trimSpace(b)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// BumpSentinel increments the monotonic counter in the .db-updated file so
// other processes can detect that the index changed. Write errors are logged,
// not fatal; the sentinel is advisory. Our own bumps are recorded as seen so
// they do not read back as external writes.
func (s *Store) BumpSentinel() {
	s.sentinelMu.Lock()
	defer s.sentinelMu.Unlock()
	counter := s.readSentinel() + 1
	s.sentinelSeen = counter
	if err := os.WriteFile(s.sentinelPath(), []byte(strconv.FormatInt(counter, 10)), 0o644); err != nil {
		s.logger.Warn("sentinel write failed", slog.String("error", err.Error()))
	}
}

// CheckSentinel compares the on-disk counter against the last value this
// process observed. When an external writer advanced it, derived caches are
// invalidated so the next read rebuilds from rows instead of serving a stale
// snapshot.
func (s *Store) CheckSentinel() {
	current := s.readSentinel()
	s.sentinelMu.Lock()
	if current <= s.sentinelSeen {
		s.sentinelMu.Unlock()
		return
	}
	s.sentinelSeen = current
	s.sentinelMu.Unlock()
	s.logger.Debug("sentinel advanced externally", slog.Int64("counter", current))
	s.triggers.invalidate()
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && (b[start] == ' ' || b[start] == '\n' || b[start] == '\r' || b[start] == '\t') {
		start++
	}
	for end > start && (b[end-1] == ' ' || b[end-1] == '\n' || b[end-1] == '\r' || b[end-1] == '\t') {
		end--
	}
	return b[start:end]
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return engerrors.Database(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return engerrors.Database(err)
	}
	return nil
}

// WALCheckpoint forces a WAL checkpoint. Used before backups.
func (s *Store) WALCheckpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return engerrors.Database(err)
	}
	return nil
}

// Close releases the database, the advisory lock, and the vector index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return err
}
