// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package tier

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/jostrander/chronocache/internal/cachekey"
	"github.com/jostrander/chronocache/internal/logging"
)

// InMemoryPath opens the structured tier without a backing file. Used by
// tests and by deployments that want L2 semantics without persistence.
const InMemoryPath = ":memory:"

const structuredSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	encoded_key      TEXT PRIMARY KEY,
	metric           TEXT NOT NULL,
	granularity      TEXT NOT NULL,
	period           TEXT NOT NULL,
	source           TEXT NOT NULL,
	kind             TEXT NOT NULL,
	value_blob       BLOB NOT NULL,
	size_bytes       BIGINT NOT NULL,
	created_at       TIMESTAMP NOT NULL,
	expires_at       TIMESTAMP,
	last_accessed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_scope
	ON cache_entries (metric, granularity, period, source);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires
	ON cache_entries (expires_at);
`

// StructuredConfig holds the tunables for the L2 tier.
type StructuredConfig struct {
	// Path is the database file. InMemoryPath keeps everything in RAM.
	Path string
	// Threads caps DuckDB's internal parallelism. 0 means NumCPU.
	Threads int
	// MaxMemory is DuckDB's memory ceiling, e.g. "512MB".
	MaxMemory string
	// SweepInterval is how often expired rows are reaped. 0 disables
	// the background sweeper; expired rows are still dropped lazily.
	SweepInterval time.Duration
}

// Structured is the L2 tier: cache entries in an embedded analytical
// database, indexed by the decomposed key columns so invalidation
// patterns become indexed range deletes instead of full scans.
//
// Values survive process restarts when backed by a file, which is what
// makes this tier the warm-start source for the memory tier.
type Structured struct {
	conn *sql.DB
	cfg  StructuredConfig

	stmtCache   map[string]*sql.Stmt
	stmtCacheMu sync.RWMutex

	closeMu sync.Mutex
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var _ Store = (*Structured)(nil)

// NewStructured opens (or creates) the structured tier at cfg.Path and
// initializes its schema.
func NewStructured(cfg StructuredConfig) (*Structured, error) {
	if cfg.Path == "" {
		cfg.Path = InMemoryPath
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}
	if cfg.MaxMemory == "" {
		cfg.MaxMemory = "512MB"
	}

	if dir := filepath.Dir(cfg.Path); cfg.Path != InMemoryPath && dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// Auto-install/auto-load stay off so opening never touches the
	// network in restricted environments.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, cfg.Threads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open structured tier: %w", err)
	}

	conn.SetMaxOpenConns(runtime.NumCPU())
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	s := &Structured{
		conn:      conn,
		cfg:       cfg,
		stmtCache: make(map[string]*sql.Stmt),
	}

	if _, err := conn.Exec(structuredSchema); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	if cfg.SweepInterval > 0 {
		s.startSweeper(cfg.SweepInterval)
	}

	logging.Debug().
		Str("path", cfg.Path).
		Int("threads", cfg.Threads).
		Str("max_memory", cfg.MaxMemory).
		Msg("Structured tier opened")

	return s, nil
}

// Name implements Store.
func (s *Structured) Name() string { return NameStructured }

// Get implements Store. Expired rows are deleted on touch; live hits
// update last_accessed_at so access recency survives restarts.
func (s *Structured) Get(ctx context.Context, key string) (Entry, bool, error) {
	if s.isClosed() {
		return Entry{}, false, ErrClosed
	}

	stmt, err := s.getStmt(ctx,
		`SELECT value_blob, size_bytes, created_at, expires_at FROM cache_entries WHERE encoded_key = ?`)
	if err != nil {
		return Entry{}, false, err
	}

	var (
		value   []byte
		size    int64
		created time.Time
		expires sql.NullTime
	)
	err = stmt.QueryRowContext(ctx, key).Scan(&value, &size, &created, &expires)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	e := Entry{
		Key:        key,
		Value:      value,
		SizeBytes:  size,
		CreatedAt:  created.UTC(),
		TierOrigin: NameStructured,
	}
	if expires.Valid {
		e.ExpiresAt = expires.Time.UTC()
	}

	if e.Expired(time.Now()) {
		if err := s.Delete(ctx, key); err != nil {
			logging.Warn().Err(err).Str("key", key).Msg("Failed to drop expired cache entry")
		}
		return Entry{}, false, nil
	}

	s.touch(ctx, key)
	return e, true, nil
}

// touch updates the access timestamp. Best effort; a failed touch never
// turns a hit into an error.
func (s *Structured) touch(ctx context.Context, key string) {
	stmt, err := s.getStmt(ctx, `UPDATE cache_entries SET last_accessed_at = ? WHERE encoded_key = ?`)
	if err == nil {
		_, err = stmt.ExecContext(ctx, time.Now().UTC(), key)
	}
	if err != nil {
		logging.Debug().Err(err).Str("key", key).Msg("Failed to update access timestamp")
	}
}

// Set implements Store. The key is decomposed into its scope columns so
// DeleteRange can use the composite index. Concurrent upserts of the
// same key are resolved by retrying on transaction conflict.
func (s *Structured) Set(ctx context.Context, e Entry) error {
	if s.isClosed() {
		return ErrClosed
	}

	k, err := cachekey.Decode(e.Key)
	if err != nil {
		return err
	}

	var expires interface{}
	if !e.ExpiresAt.IsZero() {
		expires = e.ExpiresAt.UTC()
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := s.conn.ExecContext(ctx,
			`INSERT INTO cache_entries (
				encoded_key, metric, granularity, period, source, kind,
				value_blob, size_bytes, created_at, expires_at, last_accessed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (encoded_key) DO UPDATE SET
				value_blob = EXCLUDED.value_blob,
				size_bytes = EXCLUDED.size_bytes,
				created_at = EXCLUDED.created_at,
				expires_at = EXCLUDED.expires_at,
				last_accessed_at = EXCLUDED.last_accessed_at`,
			e.Key, k.Metric, string(k.Granularity), k.Period, k.Source, k.Kind,
			e.Value, int64(len(e.Value)), created.UTC(), expires, time.Now().UTC())
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("cache write canceled: %w", ctx.Err())
		}
		if !isTransactionConflict(err) {
			return fmt.Errorf("failed to write cache entry: %w", err)
		}
		if attempt < maxRetries-1 {
			backoff := time.Millisecond * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("cache write retries exceeded: %w", lastErr)
}

// Delete implements Store.
func (s *Structured) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return ErrClosed
	}
	stmt, err := s.getStmt(ctx, `DELETE FROM cache_entries WHERE encoded_key = ?`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// DeleteRange implements Store with a single indexed DELETE built from
// the range's bound fields.
func (s *Structured) DeleteRange(ctx context.Context, r cachekey.KeyRange) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}

	conds := []string{"granularity = ?"}
	args := []interface{}{string(r.Granularity)}

	if r.Metric != "" {
		conds = append(conds, "metric = ?")
		args = append(args, r.Metric)
	}
	if r.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, r.Source)
	}
	if r.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, r.Kind)
	}
	if r.PeriodLow != "" {
		conds = append(conds, "period >= ?")
		args = append(args, r.PeriodLow)
	}
	if r.PeriodHigh != "" {
		conds = append(conds, "period <= ?")
		args = append(args, r.PeriodHigh)
	}

	query := "DELETE FROM cache_entries WHERE " + strings.Join(conds, " AND ")
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache range: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Keys implements Store. The lookup is a range predicate on the primary
// key rather than LIKE, since encoded keys may contain SQL wildcard
// characters.
func (s *Structured) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	var (
		rows *sql.Rows
		err  error
	)
	if prefix == "" {
		rows, err = s.conn.QueryContext(ctx,
			`SELECT encoded_key FROM cache_entries ORDER BY encoded_key`)
	} else if upper := prefixUpperBound(prefix); upper == "" {
		rows, err = s.conn.QueryContext(ctx,
			`SELECT encoded_key FROM cache_entries WHERE encoded_key >= ? ORDER BY encoded_key`, prefix)
	} else {
		rows, err = s.conn.QueryContext(ctx,
			`SELECT encoded_key FROM cache_entries WHERE encoded_key >= ? AND encoded_key < ? ORDER BY encoded_key`,
			prefix, upper)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	defer closeQuietly(rows)

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan cache key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cache keys: %w", err)
	}
	return keys, nil
}

// Stats implements Store.
func (s *Structured) Stats(ctx context.Context) (Stats, error) {
	if s.isClosed() {
		return Stats{}, ErrClosed
	}
	var st Stats
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM cache_entries`).
		Scan(&st.Entries, &st.Bytes)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read cache stats: %w", err)
	}
	return st, nil
}

// Flush implements Store.
func (s *Structured) Flush(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("failed to flush cache entries: %w", err)
	}
	return nil
}

// ExpiringSoon returns up to limit keys whose TTL elapses within the
// given window, soonest first. The refresh scheduler uses this to
// recompute popular aggregates before they lapse.
func (s *Structured) ExpiringSoon(ctx context.Context, within time.Duration, limit int) ([]string, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 100
	}

	now := time.Now().UTC()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT encoded_key FROM cache_entries
		 WHERE expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?
		 ORDER BY expires_at LIMIT ?`,
		now, now.Add(within), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring cache entries: %w", err)
	}
	defer closeQuietly(rows)

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan expiring cache key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expiring cache keys: %w", err)
	}
	return keys, nil
}

// MostRecentlyAccessed returns up to n keys ordered by access recency.
// Used to prime the memory tier after a restart.
func (s *Structured) MostRecentlyAccessed(ctx context.Context, n int) ([]string, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT encoded_key FROM cache_entries ORDER BY last_accessed_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent cache entries: %w", err)
	}
	defer closeQuietly(rows)

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan recent cache key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recent cache keys: %w", err)
	}
	return keys, nil
}

// SweepExpired deletes all rows whose TTL has elapsed and returns how
// many were removed.
func (s *Structured) SweepExpired(ctx context.Context) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Close implements Store. It stops the sweeper, releases cached
// statements and closes the connection pool.
func (s *Structured) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	stopCh, doneCh := s.stopCh, s.doneCh
	s.closeMu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}

	s.stmtCacheMu.Lock()
	for _, stmt := range s.stmtCache {
		closeWithLog(stmt, "prepared statement")
	}
	s.stmtCache = make(map[string]*sql.Stmt)
	s.stmtCacheMu.Unlock()

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close structured tier: %w", err)
	}
	return nil
}

func (s *Structured) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

// getStmt returns a cached prepared statement, preparing it on first
// use.
func (s *Structured) getStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	s.stmtCacheMu.RLock()
	stmt, ok := s.stmtCache[query]
	s.stmtCacheMu.RUnlock()
	if ok {
		return stmt, nil
	}

	s.stmtCacheMu.Lock()
	defer s.stmtCacheMu.Unlock()
	if stmt, ok := s.stmtCache[query]; ok {
		return stmt, nil
	}
	stmt, err := s.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	s.stmtCache[query] = stmt
	return stmt, nil
}

func (s *Structured) startSweeper(interval time.Duration) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n, err := s.SweepExpired(context.Background())
				if err != nil {
					logging.Warn().Err(err).Msg("Expired entry sweep failed")
				} else if n > 0 {
					logging.Debug().Int("removed", n).Msg("Swept expired cache entries")
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// isTransactionConflict checks if an error is a DuckDB transaction
// conflict, which is expected under concurrent upserts of the same key
// and safe to retry.
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update") ||
		strings.Contains(errStr, "cannot update a table that has been altered")
}

// prefixUpperBound returns the smallest string greater than every string
// with the given prefix, or "" when no such bound exists.
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
