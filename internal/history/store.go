// Package history persists a redacted audit trail of searches in
// SQLite. Rows carry the anonymized query fingerprint and outcome
// diagnostics only; names, birth dates, and identifiers never reach
// disk here.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Entry is one recorded search outcome.
type Entry struct {
	CorrelationID string
	Tool          string
	Fingerprint   string
	Status        string
	ErrorKind     string
	Attempts      int
	DurationMS    int64
	ThreatFinal   string
	Cached        bool
	Timestamp     time.Time
}

// StoreConfig holds configuration for the history store.
type StoreConfig struct {
	DBPath          string
	WriteBufferSize int           // entries buffered before a batch write
	FlushInterval   time.Duration // max time between flushes
	Retention       time.Duration // how long rows are kept
}

// DefaultConfig returns sensible defaults rooted at dataDir.
func DefaultConfig(dataDir string, retentionDays int) StoreConfig {
	return StoreConfig{
		DBPath:          filepath.Join(dataDir, "history.db"),
		WriteBufferSize: 32,
		FlushInterval:   5 * time.Second,
		Retention:       time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Store provides persistent search-history storage.
type Store struct {
	db     *sql.DB
	config StoreConfig

	bufferMu sync.Mutex
	buffer   []Entry

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewStore opens (creating if needed) the history database and starts
// the background flush and retention worker.
func NewStore(config StoreConfig) (*Store, error) {
	dir := filepath.Dir(config.DBPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	// WAL keeps readers unblocked during batch inserts.
	db, err := sql.Open("sqlite", config.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{
		db:     db,
		config: config,
		buffer: make([]Entry, 0, config.WriteBufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	go store.backgroundWorker()

	log.Info().
		Str("path", config.DBPath).
		Dur("retention", config.Retention).
		Msg("History store initialized")

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS searches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			correlation_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			status TEXT NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			threat_final TEXT NOT NULL DEFAULT '',
			cached INTEGER NOT NULL DEFAULT 0,
			timestamp INTEGER NOT NULL
		);

		-- Listing runs newest-first; pruning runs oldest-first.
		CREATE INDEX IF NOT EXISTS idx_searches_time ON searches(timestamp);

		-- The failures view filters on status.
		CREATE INDEX IF NOT EXISTS idx_searches_status ON searches(status, timestamp);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record buffers one entry. A full buffer triggers an asynchronous
// batch write so callers never wait on disk.
func (s *Store) Record(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	s.bufferMu.Lock()
	s.buffer = append(s.buffer, e)
	var toWrite []Entry
	if len(s.buffer) >= s.config.WriteBufferSize {
		toWrite = s.takeLocked()
	}
	s.bufferMu.Unlock()

	if toWrite != nil {
		go s.writeBatch(toWrite)
	}
}

// Flush synchronously writes everything buffered. The background
// worker calls this periodically; Close calls it one final time.
func (s *Store) Flush() {
	s.bufferMu.Lock()
	toWrite := s.takeLocked()
	s.bufferMu.Unlock()
	s.writeBatch(toWrite)
}

// takeLocked hands the buffered entries to the caller. Caller must
// hold bufferMu.
func (s *Store) takeLocked() []Entry {
	if len(s.buffer) == 0 {
		return nil
	}
	toWrite := make([]Entry, len(s.buffer))
	copy(toWrite, s.buffer)
	s.buffer = s.buffer[:0]
	return toWrite
}

func (s *Store) writeBatch(entries []Entry) {
	if len(entries) == 0 {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin history transaction")
		return
	}

	stmt, err := tx.Prepare(`
		INSERT INTO searches (correlation_id, tool, fingerprint, status, error_kind, attempts, duration_ms, threat_final, cached, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		log.Error().Err(err).Msg("Failed to prepare history insert")
		return
	}
	defer stmt.Close()

	for _, e := range entries {
		cached := 0
		if e.Cached {
			cached = 1
		}
		_, err := stmt.Exec(e.CorrelationID, e.Tool, e.Fingerprint, e.Status, e.ErrorKind,
			e.Attempts, e.DurationMS, e.ThreatFinal, cached, e.Timestamp.Unix())
		if err != nil {
			log.Warn().Err(err).
				Str("correlationID", e.CorrelationID).
				Msg("Failed to insert history entry")
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("Failed to commit history batch")
		return
	}

	log.Debug().Int("count", len(entries)).Msg("Wrote history batch")
}

// Recent returns up to limit entries, newest first. failuresOnly
// restricts the listing to error outcomes.
func (s *Store) Recent(limit int, failuresOnly bool) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT correlation_id, tool, fingerprint, status, error_kind, attempts, duration_ms, threat_final, cached, timestamp
		FROM searches
	`
	args := []interface{}{}
	if failuresOnly {
		query += ` WHERE status = 'error'`
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var cached int
		var ts int64
		if err := rows.Scan(&e.CorrelationID, &e.Tool, &e.Fingerprint, &e.Status, &e.ErrorKind,
			&e.Attempts, &e.DurationMS, &e.ThreatFinal, &cached, &ts); err != nil {
			log.Warn().Err(err).Msg("Failed to scan history row")
			continue
		}
		e.Cached = cached != 0
		e.Timestamp = time.Unix(ts, 0)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Count reports how many entries the store currently holds.
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM searches`).Scan(&n)
	return n, err
}

func (s *Store) backgroundWorker() {
	defer close(s.doneCh)

	flushTicker := time.NewTicker(s.config.FlushInterval)
	retentionTicker := time.NewTicker(1 * time.Hour)
	defer flushTicker.Stop()
	defer retentionTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.Flush()
			return

		case <-flushTicker.C:
			s.Flush()

		case <-retentionTicker.C:
			s.runRetention()
		}
	}
}

// runRetention deletes rows older than the retention period.
func (s *Store) runRetention() {
	if s.config.Retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.config.Retention).Unix()
	result, err := s.db.Exec(`DELETE FROM searches WHERE timestamp < ?`, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to prune history")
		return
	}
	if deleted, _ := result.RowsAffected(); deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("History retention cleanup completed")
	}
}

// Close flushes the buffer, stops the worker, and closes the database.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("History store shutdown timed out")
	}

	return s.db.Close()
}
