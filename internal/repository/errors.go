// Package repository defines error types that are reused across multiple
// repositories.  Not-found conditions are reported as sql.ErrNoRows so the
// service layer can use a single errors.Is check regardless of driver.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDuplicate is returned when an insert collides with a unique key
// (login email, roll number, institution name+location).
var ErrDuplicate = errors.New("duplicate key")

// ErrConflict signals that a conditional update found the row in a state
// other than the expected one (for example approving an approved record).
var ErrConflict = errors.New("conflict")

const mysqlDuplicateEntry = 1062

// isUniqueViolation recognizes duplicate-key errors from both supported
// drivers.
func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT: // extended codes disabled
			return strings.Contains(liteErr.Error(), "UNIQUE constraint")
		}
	}
	return false
}
