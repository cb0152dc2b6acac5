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

package repository

import "github.com/tomoncle/contacts/database"

type options struct {
	lock            database.LockMode
	includeDeleted  bool
	expectedVersion *int64
}

// Option tunes a single repository call.
type Option func(*options)

// WithLockMode selects how rows read by the call are locked.
func WithLockMode(mode database.LockMode) Option {
	return func(o *options) { o.lock = mode }
}

// IncludeDeleted makes reads return soft-deleted rows too.
func IncludeDeleted() Option {
	return func(o *options) { o.includeDeleted = true }
}

// WithExpectedVersion makes Update fail with a concurrency error unless the
// stored version equals v.
func WithExpectedVersion(v int64) Option {
	return func(o *options) { o.expectedVersion = &v }
}

func newOptions(opts []Option) *options {
	o := &options{lock: database.LockNone}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
