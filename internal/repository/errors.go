package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"rxverify-service/internal/domain"
)

// MySQL: ER_LOCK_WAIT_TIMEOUT / ER_LOCK_DEADLOCK
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// PostgreSQL: deadlock_detected / lock_not_available / serialization_failure
const (
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
)

// translateLockError はドライバ固有のロック競合エラーを domain.ErrConcurrencyConflict に変換する。
// それ以外のエラーはそのまま返す。
func translateLockError(err error) error {
	if err == nil || !isLockConflict(err) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
}

func isLockConflict(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlLockWaitTimeout || myErr.Number == mysqlDeadlock
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgDeadlockDetected, pgLockNotAvailable, pgSerializationFailure:
			return true
		}
		return false
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}
