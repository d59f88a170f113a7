package storage

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/glebarez/sqlite"
)

const kvSchema = `CREATE TABLE IF NOT EXISTS kv (
    k BLOB PRIMARY KEY,
    v BLOB NOT NULL
)`

// SQLiteDB keeps key-value pairs in a single sqlite table.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens or creates the sqlite database at path.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("storage: sqlite path required")
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Put(key []byte, value []byte) error {
	_, err := s.db.Exec(`INSERT INTO kv(k, v) VALUES(?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
	return err
}

func (s *SQLiteDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT v FROM kv WHERE k = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *SQLiteDB) Delete(key []byte) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE k = ?`, key)
	return err
}

func (s *SQLiteDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	rows, err := s.db.Query(`SELECT k, v FROM kv WHERE k >= ? ORDER BY k`, prefix)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		if !fn(key, value) {
			break
		}
	}
	return rows.Err()
}

func (s *SQLiteDB) Close() {
	_ = s.db.Close()
}

// Open picks a backend from the path: ".db" and ".sqlite" files use sqlite,
// anything else is a LevelDB directory.
func Open(path string) (Database, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return NewSQLiteDB(path)
	default:
		return NewLevelDB(path)
	}
}
