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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomoncle/contacts/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Store runs units of work against a database. Every unit runs inside one
// transaction scope: either a scope carried by the context (see Tx.Context)
// or one the Store begins and finishes itself.
type Store struct {
	db          *bun.DB
	logger      Logger
	timeout     time.Duration
	lockTimeout time.Duration
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithTimeout bounds scopes whose context carries no deadline.
func WithTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.timeout = d }
}

// WithLockTimeout limits how long statements wait for row locks.
func WithLockTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.lockTimeout = d }
}

// WithLogger sets the logger used for rollbacks and connection failures.
func WithLogger(l Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore returns a Store over db.
func NewStore(db *bun.DB, opts ...StoreOption) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = GetLogger()
	}
	return s
}

// DB returns the underlying Bun database.
func (s *Store) DB() *bun.DB { return s.db }

// Dialect returns the name of the backend dialect.
func (s *Store) Dialect() dialect.Name { return s.db.Dialect().Name() }

type txKey struct{}

// Tx is an explicitly managed transaction scope. Bind it to a context with
// Context so Store and repository calls join it.
type Tx struct {
	store  *Store
	tx     bun.Tx
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	done         bool
	beforeCommit []func(ctx context.Context, db bun.IDB) error
}

// TxFromContext returns the scope bound to ctx, or nil.
func TxFromContext(ctx context.Context) *Tx {
	tx, _ := ctx.Value(txKey{}).(*Tx)
	return tx
}

// Begin starts a transaction scope.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok && s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	btx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		cancel()
		return nil, s.classify(ctx, err)
	}
	tx := &Tx{store: s, tx: btx, ctx: ctx, cancel: cancel}
	if err := s.applyLockTimeout(ctx, btx); err != nil {
		_ = tx.Rollback()
		return nil, s.classify(ctx, err)
	}
	return tx, nil
}

// applyLockTimeout limits row lock waits for the scope. Postgres scopes it to
// the transaction. MySQL and sqlite only offer a per-connection setting, so
// the value stays on the pooled connection after the scope ends and every
// Store sharing the pool should use the same lock timeout.
func (s *Store) applyLockTimeout(ctx context.Context, tx bun.Tx) error {
	if s.lockTimeout <= 0 {
		return nil
	}
	var err error
	switch s.Dialect() {
	case dialect.PG:
		_, err = tx.ExecContext(ctx, "SET LOCAL lock_timeout = ?", fmt.Sprintf("%dms", s.lockTimeout.Milliseconds()))
	case dialect.MySQL:
		secs := int64(s.lockTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		_, err = tx.ExecContext(ctx, "SET SESSION innodb_lock_wait_timeout = ?", secs)
	case dialect.SQLite:
		_, err = tx.ExecContext(ctx, "PRAGMA busy_timeout = ?", s.lockTimeout.Milliseconds())
	}
	return err
}

// Context returns a copy of ctx carrying the scope.
func (tx *Tx) Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// IDB exposes the transaction to Bun query builders.
func (tx *Tx) IDB() bun.IDB { return tx.tx }

// BeforeCommit registers fn to run inside the scope right before it commits.
// An error from fn rolls the scope back instead.
func (tx *Tx) BeforeCommit(fn func(ctx context.Context, db bun.IDB) error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.beforeCommit = append(tx.beforeCommit, fn)
}

// Commit finishes the scope.
func (tx *Tx) Commit() error {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return types.Errorf(types.ErrQuery, "transaction already finished")
	}
	hooks := tx.beforeCommit
	tx.beforeCommit = nil
	tx.mu.Unlock()

	for _, fn := range hooks {
		if err := fn(tx.ctx, tx.tx); err != nil {
			tx.rollback()
			return tx.store.classify(tx.ctx, err)
		}
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return types.Errorf(types.ErrQuery, "transaction already finished")
	}
	tx.done = true
	defer tx.cancel()
	if err := tx.tx.Commit(); err != nil {
		return tx.store.classify(tx.ctx, err)
	}
	return nil
}

// Rollback abandons the scope. Rolling back a finished scope is a no-op.
func (tx *Tx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil
	}
	tx.done = true
	defer tx.cancel()
	if err := tx.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return tx.store.classify(tx.ctx, err)
	}
	return nil
}

func (tx *Tx) rollback() {
	if err := tx.Rollback(); err != nil {
		tx.store.logger.Warn("Failed to rollback transaction", "error", err)
	}
}

func (tx *Tx) finished() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.done
}

// RunInTx runs fn in a transaction scope. When ctx carries a scope fn joins
// it and the owner of that scope decides the outcome. Otherwise a new scope
// is committed when fn returns nil and rolled back when fn fails or panics.
// Returned errors are classified.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, db bun.IDB) error) error {
	if outer := TxFromContext(ctx); outer != nil {
		if outer.finished() {
			return types.Errorf(types.ErrQuery, "transaction already finished")
		}
		return s.classify(outer.ctx, fn(ctx, outer.tx))
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	panicked := true
	defer func() {
		if panicked {
			tx.rollback()
		}
	}()

	if err := fn(tx.Context(tx.ctx), tx.tx); err != nil {
		panicked = false
		tx.rollback()
		s.logger.Debug("Transaction rolled back", "error", err)
		return s.classify(tx.ctx, err)
	}
	panicked = false
	return tx.Commit()
}

// Execute runs a parameterized read and returns all rows in order.
func (s *Store) Execute(ctx context.Context, stmt string, args ...interface{}) (*RowSet, error) {
	var rs *RowSet
	err := s.RunInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		rows, err := db.QueryContext(ctx, stmt, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rs, err = readRows(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// ScanRaw runs a parameterized read and scans the result into dest, which
// may be a slice of scalars, structs or Bun models.
func (s *Store) ScanRaw(ctx context.Context, dest interface{}, stmt string, args ...interface{}) error {
	return s.RunInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		return db.NewRaw(stmt, args...).Scan(ctx, dest)
	})
}

// ExecuteMutation runs a parameterized write and returns the number of rows
// it affected.
func (s *Store) ExecuteMutation(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	var affected int64
	err := s.RunInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		res, err := db.ExecContext(ctx, stmt, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// classify maps err onto the error taxonomy. An expired scope deadline wins
// over whatever the driver reported.
func (s *Store) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if types.KindOf(err) == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", types.ErrTimeout, err)
	}
	err = Classify(err)
	if errors.Is(err, types.ErrConnection) {
		s.logger.Error("Database connection failure", "error", err)
	}
	return err
}

// RowSet is the ordered result of Execute.
type RowSet struct {
	Columns []string
	Rows    [][]interface{}
}

// Len returns the number of rows.
func (rs *RowSet) Len() int { return len(rs.Rows) }

// Value returns the named column of row i.
func (rs *RowSet) Value(i int, column string) (interface{}, bool) {
	if i < 0 || i >= len(rs.Rows) {
		return nil, false
	}
	for j, c := range rs.Columns {
		if c == column {
			return rs.Rows[i][j], true
		}
	}
	return nil, false
}

func readRows(rows *sql.Rows) (*RowSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &RowSet{Columns: cols, Rows: make([][]interface{}, 0)}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		// Drivers reuse byte buffers between rows.
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	return rs, rows.Err()
}
