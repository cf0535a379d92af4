package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/markwave/chatvault/internal/db"
)

const principalColumns = "id, role, COALESCE(name, ''), created_at, updated_at"

// PostgresGraph keeps principals and grants in the principals and access_grants tables.
type PostgresGraph struct {
	conn db.DBTX
}

var _ Graph = (*PostgresGraph)(nil)

// NewPostgresGraph creates a graph over conn.
func NewPostgresGraph(conn db.DBTX) *PostgresGraph {
	return &PostgresGraph{conn: conn}
}

func (g *PostgresGraph) GrantsFor(ctx context.Context, principalID string) ([]string, error) {
	rows, err := g.conn.Query(ctx, `
SELECT chat_id FROM access_grants
WHERE principal_id = $1
ORDER BY chat_id`, principalID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (g *PostgresGraph) Grant(ctx context.Context, principalID string, chatIDs ...string) (int, error) {
	chatIDs = normalizeIDs(chatIDs)
	if len(chatIDs) == 0 {
		return 0, nil
	}
	tag, err := g.conn.Exec(ctx, `
INSERT INTO access_grants (principal_id, chat_id)
SELECT $1, unnest($2::text[])
ON CONFLICT (principal_id, chat_id) DO NOTHING`, principalID, chatIDs)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrPrincipalNotFound, principalID)
		}
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (g *PostgresGraph) Revoke(ctx context.Context, principalID, chatID string) (bool, error) {
	tag, err := g.conn.Exec(ctx, `DELETE FROM access_grants WHERE principal_id = $1 AND chat_id = $2`, principalID, chatID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (g *PostgresGraph) Principal(ctx context.Context, id string) (Principal, error) {
	row := g.conn.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1`, id)
	p, err := scanPrincipal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, fmt.Errorf("%w: %s", ErrPrincipalNotFound, id)
	}
	return p, err
}

func (g *PostgresGraph) UpsertPrincipal(ctx context.Context, p Principal) (Principal, error) {
	var name any
	if strings.TrimSpace(p.Name) != "" {
		name = strings.TrimSpace(p.Name)
	}
	row := g.conn.QueryRow(ctx, `
INSERT INTO principals (id, role, name)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET role = EXCLUDED.role, name = COALESCE(EXCLUDED.name, principals.name), updated_at = now()
RETURNING `+principalColumns, p.ID, p.Role, name)
	return scanPrincipal(row)
}

func (g *PostgresGraph) DeletePrincipal(ctx context.Context, id string) (bool, error) {
	tag, err := g.conn.Exec(ctx, `DELETE FROM principals WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (g *PostgresGraph) ListPrincipals(ctx context.Context) ([]Principal, error) {
	rows, err := g.conn.Query(ctx, `SELECT `+principalColumns+` FROM principals ORDER BY id`)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Principal, error) {
		return scanPrincipal(r)
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Principal{}
	}
	return out, nil
}

func scanPrincipal(row pgx.Row) (Principal, error) {
	var p Principal
	if err := row.Scan(&p.ID, &p.Role, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Principal{}, err
	}
	return p, nil
}
