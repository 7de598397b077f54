package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"pulse_tracker/internal/domain/tenant"
)

// PostgresTenantDirectory reads active tenants from a registry table with the
// columns (schema_name TEXT, timezone TEXT NULL, is_active BOOLEAN).
type PostgresTenantDirectory struct {
	db          *sql.DB
	table       string
	defaultLoc  *time.Location
	locationFor func(name string) (*time.Location, error)
}

// NewPostgresTenantDirectory builds a directory over registryTable, which may be
// schema-qualified ("public.tenant_registry"). Tenants without a usable
// timezone get defaultLoc.
func NewPostgresTenantDirectory(db *sql.DB, registryTable string, defaultLoc *time.Location) *PostgresTenantDirectory {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &PostgresTenantDirectory{
		db:          db,
		table:       quoteQualified(registryTable),
		defaultLoc:  defaultLoc,
		locationFor: time.LoadLocation,
	}
}

func quoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

func (d *PostgresTenantDirectory) toTenant(schema string, tz sql.NullString) tenant.Tenant {
	t := tenant.Tenant{Schema: tenant.SchemaRef(schema), Location: d.defaultLoc}
	if tz.Valid && strings.TrimSpace(tz.String) != "" {
		if loc, err := d.locationFor(strings.TrimSpace(tz.String)); err == nil {
			t.Location = loc
		}
	}
	return t
}

func (d *PostgresTenantDirectory) ListActive(ctx context.Context) ([]tenant.Tenant, error) {
	query := fmt.Sprintf(`SELECT schema_name, timezone FROM %s WHERE is_active = TRUE ORDER BY schema_name`, d.table)
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing active tenants: %w", err)
	}
	defer rows.Close()

	tenants := make([]tenant.Tenant, 0)
	for rows.Next() {
		var schema string
		var tz sql.NullString
		if err := rows.Scan(&schema, &tz); err != nil {
			return nil, fmt.Errorf("error scanning tenant: %w", err)
		}
		tenants = append(tenants, d.toTenant(schema, tz))
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}
	return tenants, nil
}

func (d *PostgresTenantDirectory) Lookup(ctx context.Context, schema tenant.SchemaRef) (tenant.Tenant, error) {
	query := fmt.Sprintf(`SELECT schema_name, timezone FROM %s WHERE schema_name = $1 AND is_active = TRUE`, d.table)
	var name string
	var tz sql.NullString
	err := d.db.QueryRowContext(ctx, query, string(schema)).Scan(&name, &tz)
	if err != nil {
		if err == sql.ErrNoRows {
			return tenant.Tenant{}, ErrTenantNotFound
		}
		return tenant.Tenant{}, fmt.Errorf("error looking up tenant %q: %w", schema, err)
	}
	return d.toTenant(name, tz), nil
}
