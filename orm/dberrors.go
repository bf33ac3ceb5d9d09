package orm

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes for constraint violations (class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry   = 1062
	mysqlForeignKeyParent = 1451 // cannot delete or update a parent row
	mysqlForeignKeyChild  = 1452 // cannot add or update a child row
	mysqlCheckViolation   = 3819
)

// IsConstraintError reports whether err resulted from any constraint
// violation. Driver errors are returned unchanged by every operation, so
// these helpers are the supported way to classify them.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// IsUniqueConstraintError reports whether err is a uniqueness violation.
func IsUniqueConstraintError(err error) bool {
	return matchConstraint(err, pgUniqueViolation,
		[]uint16{mysqlDuplicateEntry},
		"UNIQUE constraint failed")
}

// IsForeignKeyConstraintError reports whether err is a foreign-key violation.
func IsForeignKeyConstraintError(err error) bool {
	return matchConstraint(err, pgForeignKeyViolation,
		[]uint16{mysqlForeignKeyParent, mysqlForeignKeyChild},
		"FOREIGN KEY constraint failed")
}

// IsCheckConstraintError reports whether err is a check constraint violation.
func IsCheckConstraintError(err error) bool {
	return matchConstraint(err, pgCheckViolation,
		[]uint16{mysqlCheckViolation},
		"CHECK constraint failed")
}

func matchConstraint(err error, pgCode string, mysqlNumbers []uint16, sqliteMsg string) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCode
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		for _, n := range mysqlNumbers {
			if myErr.Number == n {
				return true
			}
		}
		return false
	}

	// modernc.org/sqlite reports constraint failures in the message only
	return strings.Contains(err.Error(), sqliteMsg)
}
