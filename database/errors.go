/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/tomoncle/contacts/types"
)

type SQLError int

const (
	UnknownErr SQLError = iota
	NoRowsErr
	NoIndexErr
	NoColumnErr
	ExistIndexErr
	ExistColumnErr
	NoTableErr
	ExistTableErr
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
	CheckConstraintViolationErr
	DataTruncatedErr
	InvalidTypeCastErr
	DeadlockErr
	SerializationErr
	LockTimeoutErr
	QueryCanceledErr
	ConnectionErr
)

// IsSqlError reports whether err came from the database server and which
// known condition it represents.
func IsSqlError(err error) (is bool, sqlErr SQLError) {
	if err == nil {
		return false, UnknownErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return true, NoRowsErr
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1091:
			return true, NoIndexErr
		case 1054:
			return true, NoColumnErr
		case 1061:
			return true, ExistIndexErr
		case 1060:
			return true, ExistColumnErr
		case 1146:
			return true, NoTableErr
		case 1050:
			return true, ExistTableErr
		case 1062:
			return true, DuplicateKeyErr
		case 1048:
			return true, NotNullViolationErr
		case 1216, 1217, 1451, 1452:
			return true, ForeignKeyViolationErr
		case 3819:
			return true, CheckConstraintViolationErr
		case 1265, 1406:
			return true, DataTruncatedErr
		case 1213:
			return true, DeadlockErr
		case 1205:
			return true, LockTimeoutErr
		case 3024, 1317:
			return true, QueryCanceledErr
		default:
			return true, UnknownErr
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return true, sqlStateError(string(pqErr.Code))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return true, sqlStateError(pgErr.Code)
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "sqlstate 42703") ||
		strings.Contains(s, "undefined column") ||
		strings.Contains(s, "no such column") {
		return true, NoColumnErr
	}
	if strings.Contains(s, "sqlstate 42704") ||
		strings.Contains(s, "no such index") ||
		(strings.Contains(s, "does not exist") && strings.Contains(s, "index")) {
		return true, NoIndexErr
	}
	if strings.Contains(s, "sqlstate 42p01") ||
		strings.Contains(s, "undefined table") ||
		strings.Contains(s, "no such table") {
		return true, NoTableErr
	}
	if strings.Contains(s, "already exists") &&
		strings.Contains(s, "index") {
		return true, ExistIndexErr
	}
	if strings.Contains(s, "already exists") &&
		strings.Contains(s, "table") ||
		strings.Contains(s, "relation") &&
			strings.Contains(s, "already exists") {
		return true, ExistTableErr
	}
	if strings.Contains(s, "duplicate key value") ||
		strings.Contains(s, "unique constraint failed") ||
		strings.Contains(s, "sqlstate 23505") {
		return true, DuplicateKeyErr
	}
	if strings.Contains(s, "not-null constraint") ||
		strings.Contains(s, "sqlstate 23502") ||
		strings.Contains(s, "not null constraint failed") {
		return true, NotNullViolationErr
	}
	if strings.Contains(s, "foreign key violation") ||
		strings.Contains(s, "foreign key constraint failed") ||
		strings.Contains(s, "sqlstate 23503") {
		return true, ForeignKeyViolationErr
	}
	if strings.Contains(s, "check constraint") ||
		strings.Contains(s, "sqlstate 23514") {
		return true, CheckConstraintViolationErr
	}
	if strings.Contains(s, "string data right truncation") ||
		strings.Contains(s, "sqlstate 22001") ||
		strings.Contains(s, "data truncated") {
		return true, DataTruncatedErr
	}
	if strings.Contains(s, "datatype mismatch") ||
		strings.Contains(s, "sqlstate 42804") {
		return true, InvalidTypeCastErr
	}
	if strings.Contains(s, "deadlock") {
		return true, DeadlockErr
	}
	// sqlite reports SQLITE_BUSY once busy_timeout has elapsed.
	if strings.Contains(s, "database is locked") ||
		strings.Contains(s, "sqlite_busy") {
		return true, LockTimeoutErr
	}
	return false, UnknownErr
}

func sqlStateError(code string) SQLError {
	switch {
	case code == "42703":
		return NoColumnErr
	case code == "42704":
		return NoIndexErr
	case code == "42P01":
		return NoTableErr
	case code == "42P07":
		return ExistTableErr
	case code == "42701":
		return ExistColumnErr
	case code == "23505":
		return DuplicateKeyErr
	case code == "23502":
		return NotNullViolationErr
	case code == "23503":
		return ForeignKeyViolationErr
	case code == "23514":
		return CheckConstraintViolationErr
	case code == "22001":
		return DataTruncatedErr
	case code == "42804", code == "22P02":
		return InvalidTypeCastErr
	case code == "40P01":
		return DeadlockErr
	case code == "40001":
		return SerializationErr
	case code == "55P03":
		return LockTimeoutErr
	case code == "57014":
		return QueryCanceledErr
	case strings.HasPrefix(code, "08"), code == "57P01", code == "57P02", code == "57P03":
		return ConnectionErr
	default:
		return UnknownErr
	}
}

// Classify maps a driver or database/sql error onto the error taxonomy in
// package types. Errors that already carry a kind are returned unchanged.
// The original error stays in the chain.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if types.KindOf(err) != nil {
		return err
	}
	kind := classifyKind(err)
	return fmt.Errorf("%w: %w", kind, err)
}

func classifyKind(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return types.ErrTimeout
	case errors.Is(err, sql.ErrNoRows):
		return types.ErrNotFound
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, mysql.ErrInvalidConn):
		return types.ErrConnection
	}

	if is, sqlErr := IsSqlError(err); is {
		switch sqlErr {
		case DeadlockErr, SerializationErr:
			return types.ErrConcurrency
		case LockTimeoutErr, QueryCanceledErr:
			return types.ErrTimeout
		case ConnectionErr:
			return types.ErrConnection
		default:
			return types.ErrQuery
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return types.ErrTimeout
		}
		return types.ErrConnection
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return types.ErrConnection
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "database is closed") {
		return types.ErrConnection
	}
	return types.ErrQuery
}
