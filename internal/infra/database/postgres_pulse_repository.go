// internal/infra/database/postgres_pulse_repository.go
package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq" // For pq.Array and pq.QuoteIdentifier

	"pulse_tracker/internal/domain/pulse"
	"pulse_tracker/internal/domain/tenant"
)

//go:embed section_pulse.sql
var sectionPulseDDL string

const pulseColumns = `id, society_id, pulse_date, first_collection_time, last_collection_time,
       section_end_time, pulse_status, total_collections, inactive_days, last_checked,
       created_at, updated_at`

type PostgresPulseRepository struct {
	db *sql.DB
}

func NewPostgresPulseRepository(db *sql.DB) *PostgresPulseRepository {
	return &PostgresPulseRepository{db: db}
}

// pulseTable returns the schema-qualified, quoted section_pulse table name.
func pulseTable(schema tenant.SchemaRef) string {
	return pq.QuoteIdentifier(string(schema)) + ".section_pulse"
}

// dateParam renders a civil date the way a DATE column expects it.
func dateParam(d time.Time) string {
	return d.Format("2006-01-02")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPulse(row rowScanner) (*pulse.Pulse, error) {
	p := &pulse.Pulse{}
	var status string
	err := row.Scan(
		&p.ID, &p.SocietyID, &p.PulseDate, &p.FirstCollectionTime, &p.LastCollectionTime,
		&p.SectionEndTime, &status, &p.TotalCollections, &p.InactiveDays, &p.LastChecked,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = pulse.Status(status)
	p.PulseDate = time.Date(p.PulseDate.Year(), p.PulseDate.Month(), p.PulseDate.Day(), 0, 0, 0, 0, time.UTC)
	return p, nil
}

func scanPulses(rows *sql.Rows) ([]*pulse.Pulse, error) {
	pulses := make([]*pulse.Pulse, 0)
	for rows.Next() {
		p, err := scanPulse(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning section pulse row: %w", err)
		}
		pulses = append(pulses, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating section pulse rows: %w", err)
	}
	return pulses, nil
}

// EnsureTable creates the section_pulse table in schema if it is missing.
func (r *PostgresPulseRepository) EnsureTable(ctx context.Context, schema tenant.SchemaRef) error {
	ddl := strings.ReplaceAll(sectionPulseDDL, "{{table}}", pulseTable(schema))
	_, err := r.db.ExecContext(ctx, ddl)
	switch {
	case err == nil, alreadyCreated(err):
		return nil
	case hasPQCode(err, pqInvalidSchemaName):
		return fmt.Errorf("creating section_pulse in %q: %w", schema, ErrTenantSchemaNotFound)
	default:
		return fmt.Errorf("error creating section_pulse table in %q: %w", schema, err)
	}
}

// withTable runs op and, if the table does not exist yet, creates it and runs op again.
func (r *PostgresPulseRepository) withTable(ctx context.Context, schema tenant.SchemaRef, op func() error) error {
	err := op()
	if hasPQCode(err, pqUndefinedTable) {
		if err := r.EnsureTable(ctx, schema); err != nil {
			return err
		}
		err = op()
	}
	if hasPQCode(err, pqInvalidSchemaName) {
		return fmt.Errorf("%w: %q: %v", ErrTenantSchemaNotFound, schema, err)
	}
	return err
}

func (r *PostgresPulseRepository) Apply(ctx context.Context, schema tenant.SchemaRef, societyID int64, date time.Time, fn pulse.MutateFunc) (*pulse.Pulse, bool, error) {
	var result *pulse.Pulse
	var written bool
	err := r.withTable(ctx, schema, func() error {
		var err error
		result, written, err = r.apply(ctx, schema, societyID, date, fn)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return result, written, nil
}

func (r *PostgresPulseRepository) apply(ctx context.Context, schema tenant.SchemaRef, societyID int64, date time.Time, fn pulse.MutateFunc) (*pulse.Pulse, bool, error) {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin section pulse transaction: %w", err)
	}
	defer txn.Rollback() // Rollback if not committed

	// A losing INSERT ... ON CONFLICT DO NOTHING means another writer created the
	// row between our lookup and insert; lock the new row and recompute once.
	for attempt := 0; attempt < 2; attempt++ {
		current, err := r.lockRow(ctx, txn, schema, societyID, date)
		if err != nil {
			return nil, false, err
		}

		next, err := fn(current.Clone())
		if err != nil {
			return nil, false, err
		}
		if next == nil {
			if err := txn.Commit(); err != nil {
				return nil, false, fmt.Errorf("failed to commit section pulse transaction: %w", err)
			}
			return current, false, nil
		}
		next.SocietyID = societyID
		next.PulseDate = date

		var stored *pulse.Pulse
		if current == nil {
			stored, err = r.insert(ctx, txn, schema, next)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
		} else {
			next.ID = current.ID
			stored, err = r.update(ctx, txn, schema, next)
		}
		if err != nil {
			return nil, false, err
		}
		if err := txn.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit section pulse transaction: %w", err)
		}
		return stored, true, nil
	}
	return nil, false, fmt.Errorf("society %d on %s: %w", societyID, dateParam(date), ErrConcurrentInsert)
}

func (r *PostgresPulseRepository) lockRow(ctx context.Context, txn *sql.Tx, schema tenant.SchemaRef, societyID int64, date time.Time) (*pulse.Pulse, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE society_id = $1 AND pulse_date = $2::date FOR UPDATE`,
		pulseColumns, pulseTable(schema))
	p, err := scanPulse(txn.QueryRowContext(ctx, query, societyID, dateParam(date)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error locking section pulse: %w", err)
	}
	return p, nil
}

// insert returns sql.ErrNoRows when a concurrent insert won the unique key.
func (r *PostgresPulseRepository) insert(ctx context.Context, txn *sql.Tx, schema tenant.SchemaRef, p *pulse.Pulse) (*pulse.Pulse, error) {
	query := fmt.Sprintf(`INSERT INTO %s (society_id, pulse_date, first_collection_time, last_collection_time,
               section_end_time, pulse_status, total_collections, inactive_days, last_checked, created_at, updated_at)
               VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
               ON CONFLICT (society_id, pulse_date) DO NOTHING
               RETURNING %s`, pulseTable(schema), pulseColumns)
	stored, err := scanPulse(txn.QueryRowContext(ctx, query,
		p.SocietyID, dateParam(p.PulseDate), p.FirstCollectionTime, p.LastCollectionTime,
		p.SectionEndTime, string(p.Status), p.TotalCollections, p.InactiveDays, p.LastChecked,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("error inserting section pulse: %w", err)
	}
	return stored, nil
}

func (r *PostgresPulseRepository) update(ctx context.Context, txn *sql.Tx, schema tenant.SchemaRef, p *pulse.Pulse) (*pulse.Pulse, error) {
	query := fmt.Sprintf(`UPDATE %s
               SET first_collection_time = $1, last_collection_time = $2, section_end_time = $3,
                   pulse_status = $4, total_collections = $5, inactive_days = $6, last_checked = $7,
                   updated_at = NOW()
               WHERE id = $8
               RETURNING %s`, pulseTable(schema), pulseColumns)
	stored, err := scanPulse(txn.QueryRowContext(ctx, query,
		p.FirstCollectionTime, p.LastCollectionTime, p.SectionEndTime, string(p.Status),
		p.TotalCollections, p.InactiveDays, p.LastChecked, p.ID,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPulseNotFound
		}
		return nil, fmt.Errorf("error updating section pulse: %w", err)
	}
	return stored, nil
}

func (r *PostgresPulseRepository) Get(ctx context.Context, schema tenant.SchemaRef, societyID int64, date time.Time) (*pulse.Pulse, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE society_id = $1 AND pulse_date = $2::date`, pulseColumns, pulseTable(schema))
	var p *pulse.Pulse
	err := r.withTable(ctx, schema, func() error {
		var err error
		p, err = scanPulse(r.db.QueryRowContext(ctx, query, societyID, dateParam(date)))
		return err
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPulseNotFound
		}
		if errors.Is(err, ErrTenantSchemaNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("error getting section pulse: %w", err)
	}
	return p, nil
}

func (r *PostgresPulseRepository) list(ctx context.Context, schema tenant.SchemaRef, what, query string, args ...any) ([]*pulse.Pulse, error) {
	var pulses []*pulse.Pulse
	err := r.withTable(ctx, schema, func() error {
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		pulses, err = scanPulses(rows)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrTenantSchemaNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("error listing section pulses %s: %w", what, err)
	}
	return pulses, nil
}

func (r *PostgresPulseRepository) ListByDate(ctx context.Context, schema tenant.SchemaRef, date time.Time) ([]*pulse.Pulse, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE pulse_date = $1::date ORDER BY society_id`, pulseColumns, pulseTable(schema))
	return r.list(ctx, schema, "by date", query, dateParam(date))
}

func (r *PostgresPulseRepository) ListByStatus(ctx context.Context, schema tenant.SchemaRef, statuses ...pulse.Status) ([]*pulse.Pulse, error) {
	if len(statuses) == 0 {
		return []*pulse.Pulse{}, nil
	}
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE pulse_status = ANY($1::text[]) ORDER BY pulse_date, society_id`,
		pulseColumns, pulseTable(schema))
	return r.list(ctx, schema, "by status", query, pq.Array(values))
}

func (r *PostgresPulseRepository) ListBySocietyRange(ctx context.Context, schema tenant.SchemaRef, societyID int64, from, to time.Time) ([]*pulse.Pulse, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
               WHERE society_id = $1 AND pulse_date BETWEEN $2::date AND $3::date
               ORDER BY pulse_date`, pulseColumns, pulseTable(schema))
	return r.list(ctx, schema, "by society", query, societyID, dateParam(from), dateParam(to))
}

func (r *PostgresPulseRepository) ListViolations(ctx context.Context, schema tenant.SchemaRef) ([]*pulse.Pulse, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
               WHERE (pulse_status = 'ended' AND section_end_time IS NULL)
                  OR (pulse_status <> 'ended' AND section_end_time IS NOT NULL)
                  OR (pulse_status = 'inactive' AND inactive_days = 0)
                  OR (pulse_status <> 'inactive' AND inactive_days > 0)
                  OR (first_collection_time > last_collection_time)
               ORDER BY pulse_date, society_id`, pulseColumns, pulseTable(schema))
	return r.list(ctx, schema, "violating invariants", query)
}
