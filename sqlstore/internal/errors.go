package internal

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
)

// IsNotFound returns true if the given error indicates that a record
// could not be found.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsDup returns true if the given error indicates that we found
// a duplicate record.
func IsDup(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062 // Duplicate key error
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case 19, 1555, 2067: // SQLITE_CONSTRAINT and its PRIMARYKEY and UNIQUE variants
			return true
		}
	}
	return false
}

// IsDeadlock returns true if the given error indicates that we
// found a deadlock or the database was locked by another writer.
func IsDeadlock(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		// Error 1213: Deadlock found when trying to get lock; try restarting transaction
		return me.Number == 1213
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		// SQLITE_BUSY, SQLITE_LOCKED
		return se.Code()&0xff == 5 || se.Code()&0xff == 6
	}
	return false
}

// IsRetryable returns true for errors after which a transaction
// should simply be run again.
func IsRetryable(err error) bool {
	return IsDup(err) || IsDeadlock(err)
}
