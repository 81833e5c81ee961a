// Package indexdb maintains a local sqlite read-model of the analytics
// record stream. It is a secondary index: writes are asynchronous and
// dropped under pressure, and the monitors' in-memory state stays
// authoritative.
package indexdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"fluxgrid/internal/persistence"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan persistence.Record
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

func Open(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Generous buffer: a burst of safety events plus sync snapshots must
		// not stall the monitor loop.
		ch: make(chan persistence.Record, 8192),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads; NORMAL is a reasonable
	// durability tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			at TEXT NOT NULL,
			payload_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_records_kind_at ON records(kind, at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Append implements persistence.Sink. Enqueue only; if the indexer falls
// behind the record is dropped and the JSONL logs remain the source of
// truth.
func (s *SQLiteIndex) Append(rec persistence.Record) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- rec:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many records were shed under backpressure.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) loop() {
	for rec := range s.ch {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			continue
		}
		_, _ = s.db.Exec(
			`INSERT INTO records(kind, at, payload_json) VALUES(?,?,?)`,
			rec.Kind, rec.At.UTC().Format(time.RFC3339Nano), string(payload),
		)
	}
}

// CountByKind reports how many records of a kind have been indexed.
func (s *SQLiteIndex) CountByKind(kind string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM records WHERE kind = ?`, kind).Scan(&n)
	return n, err
}

// RecentPayloads returns the newest payload JSON blobs of a kind, newest
// first.
func (s *SQLiteIndex) RecentPayloads(kind string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT payload_json FROM records WHERE kind = ? ORDER BY id DESC LIMIT ?`,
		kind, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Flush blocks until the queue has drained. Test helper; the server never
// needs it.
func (s *SQLiteIndex) Flush(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(s.ch) == 0 {
			// One extra poll interval lets the in-flight record commit.
			time.Sleep(10 * time.Millisecond)
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
