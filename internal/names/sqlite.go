package names

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_names (
    chat_id    TEXT PRIMARY KEY,
    chat_name  TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_names_updated_at_idx ON chat_names (updated_at);
`

// SQLiteStore keeps chat names in a local SQLite file, for single-node deployments
// without PostgreSQL.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteStore opens (or creates) the database at path and ensures the schema exists.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, chatID string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM chat_names WHERE chat_id = ?`, chatID)
	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, chatID, name string) (Record, error) {
	now := s.now().UTC().UnixNano()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO chat_names (chat_id, chat_name, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (chat_id) DO UPDATE
SET chat_name = excluded.chat_name, updated_at = excluded.updated_at`, chatID, name, now, now)
	if err != nil {
		return Record{}, err
	}
	rec, ok, err := s.Get(ctx, chatID)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, fmt.Errorf("chat name %s vanished after upsert", chatID)
	}
	return rec, nil
}

func (s *SQLiteStore) PutIfAbsent(ctx context.Context, chatID, name string) (bool, error) {
	now := s.now().UTC().UnixNano()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO chat_names (chat_id, chat_name, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (chat_id) DO NOTHING`, chatID, name, now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) List(ctx context.Context, suffix string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+recordColumns+` FROM chat_names
WHERE ? = '' OR substr(chat_id, -length(?)) = ?
ORDER BY chat_name, chat_id`, suffix, suffix, suffix)
	if err != nil {
		return nil, err
	}
	return collectSQLiteRecords(rows)
}

func (s *SQLiteStore) GetMany(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return []Record{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx, `
SELECT `+recordColumns+` FROM chat_names
WHERE chat_id IN (`+placeholders+`)
ORDER BY chat_name, chat_id`, args...)
	if err != nil {
		return nil, err
	}
	return collectSQLiteRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (Record, error) {
	var (
		rec                  Record
		createdAt, updatedAt int64
	)
	if err := row.Scan(&rec.ChatID, &rec.Name, &createdAt, &updatedAt); err != nil {
		return Record{}, err
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return rec, nil
}

func collectSQLiteRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat names: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
