package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"pulse_tracker/internal/domain/tenant"
)

// PostgresSocietyRegistry reads <schema>.societies, owned by the society CRUD screens.
type PostgresSocietyRegistry struct {
	db *sql.DB
}

func NewPostgresSocietyRegistry(db *sql.DB) *PostgresSocietyRegistry {
	return &PostgresSocietyRegistry{db: db}
}

func (r *PostgresSocietyRegistry) ListActiveSocieties(ctx context.Context, t tenant.Tenant) ([]int64, error) {
	query := fmt.Sprintf(`SELECT id FROM %s.societies WHERE status = 'active' ORDER BY id`, pq.QuoteIdentifier(string(t.Schema)))
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		if hasPQCode(err, pqUndefinedTable) || hasPQCode(err, pqInvalidSchemaName) {
			return nil, fmt.Errorf("%w: %q: %v", ErrTenantSchemaNotFound, t.Schema, err)
		}
		return nil, fmt.Errorf("error listing active societies: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning society id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating societies: %w", err)
	}
	return ids, nil
}
