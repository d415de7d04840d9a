package cache

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/zerolog/log"
)

// SQLiteCache is a provider backed by a private in-memory SQLite database.
// Nothing is written to disk; the database lives as long as the provider.
// Recency is kept in the seq column, which only Set advances.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	maxEntries int
	maxAge     time.Duration
	// guarded by writeMutex
	seq int64
}

func NewSQLiteCache(config Config) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// every connection to ":memory:" opens a new, empty database
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		stored_at INTEGER NOT NULL,
		encoding TEXT NOT NULL,
		body BLOB
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS seq_idx ON cache (seq)")
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
		maxEntries: config.MaxEntries,
		maxAge:     config.MaxAge,
	}, nil
}

func (s *SQLiteCache) Peek(key string) (Entry, bool) {
	var entry Entry
	var storedAt int64
	err := s.db.QueryRow("SELECT stored_at, encoding, body FROM cache WHERE key = ?", key).
		Scan(&storedAt, &entry.Encoding, &entry.Body)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		}
		return Entry{}, false
	}
	entry.StoredAt = time.Unix(0, storedAt)
	if s.expired(entry.StoredAt, time.Now()) {
		return Entry{}, false
	}
	return entry, true
}

func (s *SQLiteCache) Set(key string, entry Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s.seq++
	_, err = tx.Exec(`INSERT OR REPLACE INTO cache
		(key, seq, stored_at, encoding, body) VALUES (?, ?, ?, ?, ?)`,
		key, s.seq, entry.StoredAt.UnixNano(), entry.Encoding, entry.Body)
	if err != nil {
		return err
	}
	if s.maxAge > 0 {
		_, err = tx.Exec("DELETE FROM cache WHERE stored_at < ?", time.Now().Add(-s.maxAge).UnixNano())
		if err != nil {
			return err
		}
	}
	if s.maxEntries > 0 {
		// keep the maxEntries most recently set rows
		_, err = tx.Exec(`DELETE FROM cache WHERE key IN (
			SELECT key FROM cache ORDER BY seq DESC LIMIT -1 OFFSET ?
		)`, s.maxEntries)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteCache) Len() int {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&count); err != nil {
		log.Error().Err(err).Msg("Could not count cache entries")
		return 0
	}
	return count
}

func (s *SQLiteCache) Keys() []string {
	keys := make([]string, 0)
	rows, err := s.db.Query("SELECT key, stored_at FROM cache ORDER BY seq ASC")
	if err != nil {
		log.Error().Err(err).Msg("Could not list cache keys")
		return keys
	}
	defer rows.Close()

	now := time.Now()
	for rows.Next() {
		var key string
		var storedAt int64
		if err := rows.Scan(&key, &storedAt); err != nil {
			log.Error().Err(err).Msg("Could not scan cache key")
			return keys
		}
		if !s.expired(time.Unix(0, storedAt), now) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (s *SQLiteCache) Close() error {
	return s.db.Close()
}

func (s *SQLiteCache) expired(storedAt, now time.Time) bool {
	return s.maxAge > 0 && now.Sub(storedAt) > s.maxAge
}
