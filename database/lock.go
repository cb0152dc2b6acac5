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
	"github.com/tomoncle/contacts/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// LockMode selects how a read protects the rows it returns.
type LockMode int

const (
	// LockNone reads without any lock.
	LockNone LockMode = iota
	// LockOptimistic re-checks the row version when the scope ends.
	LockOptimistic
	// LockPessimisticWrite holds a write lock on the rows until the scope ends.
	LockPessimisticWrite
)

var _ types.BaseEnum = LockNone

var lockModeNames = map[LockMode]string{
	LockNone:             "NONE",
	LockOptimistic:       "OPTIMISTIC",
	LockPessimisticWrite: "PESSIMISTIC_WRITE",
}

// LockModes lists every lock mode.
func LockModes() []LockMode {
	return []LockMode{LockNone, LockOptimistic, LockPessimisticWrite}
}

func (m LockMode) IsValid() bool {
	_, ok := lockModeNames[m]
	return ok
}

func (m LockMode) Number() int {
	if !m.IsValid() {
		return types.IllegalValue
	}
	return int(m)
}

func (m LockMode) Name() string {
	if name, ok := lockModeNames[m]; ok {
		return name
	}
	return types.IllegalName
}

func (m LockMode) String() string { return m.Name() }

func (m LockMode) Desc() string {
	switch m {
	case LockNone:
		return "no lock"
	case LockOptimistic:
		return "version check at end of transaction"
	case LockPessimisticWrite:
		return "row write lock held until end of transaction"
	default:
		return types.IllegalDesc
	}
}

// ApplyLock adds the row lock clause mode needs to q. sqlite locks the whole
// database on write and has no row locks, so nothing is added there.
func ApplyLock(q *bun.SelectQuery, name dialect.Name, mode LockMode) *bun.SelectQuery {
	if mode != LockPessimisticWrite {
		return q
	}
	switch name {
	case dialect.PG, dialect.MySQL:
		return q.For("UPDATE")
	default:
		return q
	}
}
