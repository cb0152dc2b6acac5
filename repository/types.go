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

import (
	"context"

	"github.com/tomoncle/contacts/query"
	"github.com/tomoncle/contacts/types"
)

// Validator is implemented by entities that check themselves before insert.
type Validator interface {
	Validate() error
}

// Versioned is implemented by entities exposing their optimistic lock token.
type Versioned interface {
	LockVersion() int64
}

// ReadRepository defines lookups and filtered reads.
type ReadRepository[T any] interface {
	FindByID(ctx context.Context, id any, opts ...Option) (*T, error)

	FindByIDs(ctx context.Context, ids []any, opts ...Option) ([]*T, error)

	FindAll(ctx context.Context, sel query.Selection, opts ...Option) ([]*T, error)

	Count(ctx context.Context, where query.Restriction, opts ...Option) (int, error)
}

// PageQueryRepository defines pagination functionality for listing entities.
type PageQueryRepository[T any] interface {
	Page(ctx context.Context, sel query.Selection, opts ...Option) (*types.Pagination[T], error)
}

// WriteRepository defines inserts, patches and soft deletes.
type WriteRepository[T any] interface {
	Create(ctx context.Context, entity *T) (*T, error)

	Update(ctx context.Context, id any, patch query.Patch, opts ...Option) (*T, error)

	Delete(ctx context.Context, id any) error

	BulkDelete(ctx context.Context, where query.Restriction) (int64, error)
}

// Interface combines reads, pagination and writes.
type Interface[T any] interface {
	ReadRepository[T]
	PageQueryRepository[T]
	WriteRepository[T]
}

var _ Interface[struct{}] = (*Repository[struct{}])(nil)
