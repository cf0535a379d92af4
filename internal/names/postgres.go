package names

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/markwave/chatvault/internal/db"
)

const recordColumns = "chat_id, chat_name, created_at, updated_at"

// PostgresStore keeps chat names in the chat_names table.
type PostgresStore struct {
	conn db.DBTX
}

// NewPostgresStore creates a store over conn.
func NewPostgresStore(conn db.DBTX) *PostgresStore {
	return &PostgresStore{conn: conn}
}

func (s *PostgresStore) Get(ctx context.Context, chatID string) (Record, bool, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+recordColumns+` FROM chat_names WHERE chat_id = $1`, chatID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, chatID, name string) (Record, error) {
	row := s.conn.QueryRow(ctx, `
INSERT INTO chat_names (chat_id, chat_name)
VALUES ($1, $2)
ON CONFLICT (chat_id) DO UPDATE
SET chat_name = EXCLUDED.chat_name, updated_at = now()
RETURNING `+recordColumns, chatID, name)
	return scanRecord(row)
}

func (s *PostgresStore) PutIfAbsent(ctx context.Context, chatID, name string) (bool, error) {
	tag, err := s.conn.Exec(ctx, `
INSERT INTO chat_names (chat_id, chat_name)
VALUES ($1, $2)
ON CONFLICT (chat_id) DO NOTHING`, chatID, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) List(ctx context.Context, suffix string) ([]Record, error) {
	rows, err := s.conn.Query(ctx, `
SELECT `+recordColumns+` FROM chat_names
WHERE $1::text = '' OR right(chat_id, length($1::text)) = $1::text
ORDER BY chat_name, chat_id`, suffix)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (s *PostgresStore) GetMany(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return []Record{}, nil
	}
	rows, err := s.conn.Query(ctx, `
SELECT `+recordColumns+` FROM chat_names
WHERE chat_id = ANY($1::text[])
ORDER BY chat_name, chat_id`, ids)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	if err := row.Scan(&rec.ChatID, &rec.Name, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Record, error) {
		return scanRecord(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan chat names: %w", err)
	}
	return out, nil
}
