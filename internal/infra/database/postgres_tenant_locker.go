package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"pulse_tracker/internal/domain/tenant"
)

const unlockTimeout = 5 * time.Second

// PostgresTenantLocker holds a session advisory lock per tenant schema, so
// that only one process reconciles a tenant at a time.
type PostgresTenantLocker struct {
	db     *sql.DB
	logger *logrus.Entry
}

func NewPostgresTenantLocker(db *sql.DB, logger *logrus.Entry) *PostgresTenantLocker {
	return &PostgresTenantLocker{db: db, logger: logger.WithField("component", "tenant_locker")}
}

// TryLock takes the tenant's advisory lock without waiting. The lock lives on
// a dedicated connection until unlock is called.
func (l *PostgresTenantLocker) TryLock(ctx context.Context, schema tenant.SchemaRef) (func(), bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reserve connection for tenant lock: %w", err)
	}

	var locked bool
	err = conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext('section_pulse:' || $1))`, string(schema)).Scan(&locked)
	if err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("error taking advisory lock for %q: %w", schema, err)
	}
	if !locked {
		conn.Close()
		return nil, false, nil
	}

	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		_, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext('section_pulse:' || $1))`, string(schema))
		if err != nil {
			l.logger.WithError(err).WithField("tenant", string(schema)).Warn("Failed to release tenant lock, dropping its connection")
			// A connection returned to the pool would keep the lock.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		conn.Close()
	}
	return unlock, true, nil
}
