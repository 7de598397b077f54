package database

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Custom errors shared by every pulse store implementation
var ErrPulseNotFound = fmt.Errorf("section pulse not found")
var ErrTenantNotFound = fmt.Errorf("tenant not found or inactive")
var ErrTenantSchemaNotFound = fmt.Errorf("tenant schema not found")
var ErrConcurrentInsert = fmt.Errorf("section pulse insert kept losing to concurrent writers")

// PostgreSQL error codes inspected by this package.
const (
	pqUndefinedTable    = pq.ErrorCode("42P01")
	pqInvalidSchemaName = pq.ErrorCode("3F000")
	pqDuplicateTable    = pq.ErrorCode("42P07")
	pqUniqueViolation   = pq.ErrorCode("23505")
)

func hasPQCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

// alreadyCreated reports whether a failed CREATE ... IF NOT EXISTS lost a race
// with a concurrent identical statement. Postgres reports that either as a
// duplicate table or as a unique violation on its catalog indexes.
func alreadyCreated(err error) bool {
	return hasPQCode(err, pqDuplicateTable) || hasPQCode(err, pqUniqueViolation)
}
