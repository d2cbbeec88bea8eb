package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS journal (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	path       TEXT    NOT NULL,
	node_key   TEXT    NOT NULL,
	value      BLOB    NOT NULL,
	written_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_path ON journal(path);
`

// SQLiteStore 把日志持久化到 SQLite（modernc 纯 Go 驱动）。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite 打开（必要时创建）path 处的日志库。path 为 ":memory:" 时使用内存库。
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	// 每个 ":memory:" 连接都是独立的库，写入也需要串行。
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: exec schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, e *Entry) (int64, error) {
	writtenAt := e.WrittenAt
	if writtenAt.IsZero() {
		writtenAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (path, node_key, value, written_at) VALUES (?, ?, ?, ?)`,
		e.Path, e.Key, e.Value, writtenAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("journal: append %s/%s: %w", e.Path, e.Key, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("journal: last insert id: %w", err)
	}
	return seq, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, path, node_key, value, written_at FROM journal ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ms int64
		)
		if err := rows.Scan(&e.Seq, &e.Path, &e.Key, &e.Value, &ms); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.WrittenAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
