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
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/tomoncle/contacts/types"
)

func TestIsSqlError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want SQLError
	}{
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, DuplicateKeyErr},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, DeadlockErr},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, LockTimeoutErr},
		{"pq unique", &pq.Error{Code: "23505"}, DuplicateKeyErr},
		{"pq admin shutdown", &pq.Error{Code: "57P01"}, ConnectionErr},
		{"pgx serialization", &pgconn.PgError{Code: "40001"}, SerializationErr},
		{"pgx canceled", &pgconn.PgError{Code: "57014"}, QueryCanceledErr},
		{"wrapped pgx", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23502"}), NotNullViolationErr},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: contacts.id"), DuplicateKeyErr},
		{"sqlite missing table", errors.New("SQL logic error: no such table: contacts (1)"), NoTableErr},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), LockTimeoutErr},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			is, got := IsSqlError(tc.err)
			assert.True(t, is)
			assert.Equal(t, tc.want, got)
		})
	}

	is, _ := IsSqlError(errors.New("something else"))
	assert.False(t, is)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, types.ErrNotFound},
		{"deadline", context.DeadlineExceeded, types.ErrTimeout},
		{"bad conn", driver.ErrBadConn, types.ErrConnection},
		{"conn done", sql.ErrConnDone, types.ErrConnection},
		{"mysql invalid conn", mysql.ErrInvalidConn, types.ErrConnection},
		{"refused", errors.New("dial tcp [::1]:3306: connect: connection refused"), types.ErrConnection},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, types.ErrConcurrency},
		{"pg lock timeout", &pq.Error{Code: "55P03"}, types.ErrTimeout},
		{"pg statement timeout", &pgconn.PgError{Code: "57014"}, types.ErrTimeout},
		{"constraint", &pq.Error{Code: "23505"}, types.ErrQuery},
		{"unknown", errors.New("syntax error at or near \"SELEC\""), types.ErrQuery},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify(tc.err)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, tc.err, "cause stays in the chain")
		})
	}
}

func TestClassifyKeepsKnownKinds(t *testing.T) {
	err := types.Errorf(types.ErrConcurrency, "version moved")
	assert.Same(t, err, Classify(err))
	assert.Nil(t, Classify(nil))
}
