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

package types

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the data-access layer. Every error returned by the
// store, the repositories and the query builder wraps exactly one of them, so
// callers branch with errors.Is.
var (
	// ErrConnection reports an unreachable backend or a lost connection.
	// It is never retried automatically.
	ErrConnection = errors.New("connection error")
	// ErrQuery reports a malformed statement or a constraint violation.
	ErrQuery = errors.New("query error")
	// ErrNotFound reports an expected absence.
	ErrNotFound = errors.New("not found")
	// ErrConcurrency reports an optimistic lock conflict. Retry with a fresh read.
	ErrConcurrency = errors.New("concurrency conflict")
	// ErrValidation reports a missing or invalid field on write.
	ErrValidation = errors.New("validation error")
	// ErrTimeout reports an operation that exceeded its time bound.
	ErrTimeout = errors.New("timeout")
	// ErrInvalidSpecification reports a malformed filter, sort, page or patch.
	ErrInvalidSpecification = errors.New("invalid specification")
)

var kinds = []error{
	ErrConnection,
	ErrQuery,
	ErrNotFound,
	ErrConcurrency,
	ErrValidation,
	ErrTimeout,
	ErrInvalidSpecification,
}

// Errorf formats a message and wraps it with kind.
func Errorf(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// KindOf returns the taxonomy error wrapped by err, or nil when err carries none.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case ErrConcurrency, ErrTimeout:
		return true
	default:
		return false
	}
}
