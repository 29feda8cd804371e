package progcache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/brick/cell"
	"github.com/chazu/brick/compiler"
)

var log = commonlog.GetLogger("brick.progcache")

// Store is a program cache backed by a SQLite database.
// It satisfies vm.ProgramCache.
type Store struct {
	db   *sql.DB
	path string

	mu     sync.Mutex
	hits   int
	misses int
}

// Open opens or creates the cache database at path. The path ":memory:"
// gives a private in-memory cache.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("program cache open at %s", path)
	return &Store{db: db, path: path}, nil
}

// DefaultPath returns the per-user cache location.
func DefaultPath() (string, error) {
	if p := os.Getenv("BRICK_CACHE"); p != "" {
		return p, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("getting cache dir: %w", err)
	}
	return filepath.Join(dir, "brick", "programs.db"), nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get loads the program stored under key, relocated into atoms. A
// program that fails to decode is treated as a miss.
func (s *Store) Get(key string, atoms *cell.AtomTable) (*compiler.Program, bool) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM programs WHERE key = ?", key).Scan(&data)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Warningf("reading %q: %s", key, err)
		}
		s.count(false)
		return nil, false
	}

	p, err := Unmarshal(data, atoms)
	if err != nil {
		log.Warningf("discarding %q: %s", key, err)
		s.count(false)
		return nil, false
	}
	s.count(true)
	return p, true
}

// Put stores p under key, replacing any previous program.
func (s *Store) Put(key string, p *compiler.Program, atoms *cell.AtomTable) error {
	data, err := Marshal(p, atoms)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	_, err = s.db.Exec("INSERT OR REPLACE INTO programs (key, data) VALUES (?, ?)", key, data)
	if err != nil {
		return fmt.Errorf("saving %q: %w", key, err)
	}
	return nil
}

// Len returns the number of stored programs.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM programs").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return n, nil
}

// Clear removes every stored program.
func (s *Store) Clear() error {
	if _, err := s.db.Exec("DELETE FROM programs"); err != nil {
		return fmt.Errorf("clearing programs: %w", err)
	}
	return nil
}

// Stats returns the hit and miss counts since the store was opened.
func (s *Store) Stats() (hits, misses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses
}

func (s *Store) count(hit bool) {
	s.mu.Lock()
	if hit {
		s.hits++
	} else {
		s.misses++
	}
	s.mu.Unlock()
}
