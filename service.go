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

package contacts

import (
	"context"
	"sync"

	"github.com/uptrace/bun"

	"github.com/tomoncle/contacts/database"
	"github.com/tomoncle/contacts/query"
	"github.com/tomoncle/contacts/repository"
	"github.com/tomoncle/contacts/types"
)

type Service[T any] interface {
	// Get returns a single live entity by its identifier.
	Get(ctx context.Context, id any, opts ...repository.Option) (*T, error)

	// GetMany returns the live entities among ids, ordered by identifier.
	GetMany(ctx context.Context, ids ...any) ([]*T, error)

	// List returns entities selected by sel.
	List(ctx context.Context, sel query.Selection, opts ...repository.Option) ([]*T, error)

	// Page returns one page of entities with the total match count.
	Page(ctx context.Context, sel query.Selection, opts ...repository.Option) (*types.Pagination[T], error)

	// Count returns the number of live entities matching where.
	Count(ctx context.Context, where query.Restriction) (int, error)

	// Save validates and inserts a new entity.
	Save(ctx context.Context, model *T) (*T, error)

	// Update patches an existing entity.
	Update(ctx context.Context, id any, patch query.Patch, opts ...repository.Option) (*T, error)

	// Delete soft deletes an entity by its identifier.
	Delete(ctx context.Context, id any) error

	// DeleteWhere soft deletes every entity matching where.
	DeleteWhere(ctx context.Context, where query.Restriction) (int64, error)

	// InTransaction runs fn in one transaction. Service calls made with the
	// context passed to fn join it.
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Repository exposes the underlying repository.
	Repository() (*repository.Repository[T], error)
}

type baseServiceImpl[T any] struct {
	schema *query.Schema
	store  *database.Store

	mu   sync.Mutex
	repo *repository.Repository[T]
}

// NewService returns a Service for T mapped by schema, backed by the global
// database store. The store is resolved on first use, so the service may be
// built before InitDB.
func NewService[T any](schema *query.Schema) Service[T] {
	return &baseServiceImpl[T]{schema: schema}
}

// NewServiceWithStore returns a Service for T backed by store.
func NewServiceWithStore[T any](store *database.Store, schema *query.Schema) Service[T] {
	return &baseServiceImpl[T]{schema: schema, store: store}
}

// NewContactService returns the contact service over the global store.
func NewContactService() Service[Contact] {
	return NewService[Contact](ContactSchema())
}

// RegisterModels registers the contact table for schema bootstrap.
func RegisterModels() {
	database.RegisteredModel(database.NewModelAdapter(&Contact{}, 0))
}

func (s *baseServiceImpl[T]) baseRepo() (*repository.Repository[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repo != nil {
		return s.repo, nil
	}
	store := s.store
	if store == nil {
		store = database.GetStore()
	}
	if store == nil {
		return nil, types.Errorf(types.ErrConnection, "database not initialized")
	}
	s.repo = repository.New[T](store, s.schema)
	return s.repo, nil
}

func (s *baseServiceImpl[T]) Repository() (*repository.Repository[T], error) {
	return s.baseRepo()
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, id any, opts ...repository.Option) (*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.FindByID(ctx, id, opts...)
}

func (s *baseServiceImpl[T]) GetMany(ctx context.Context, ids ...any) ([]*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.FindByIDs(ctx, ids)
}

func (s *baseServiceImpl[T]) List(ctx context.Context, sel query.Selection, opts ...repository.Option) ([]*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.FindAll(ctx, sel, opts...)
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, sel query.Selection, opts ...repository.Option) (*types.Pagination[T], error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Page(ctx, sel, opts...)
}

func (s *baseServiceImpl[T]) Count(ctx context.Context, where query.Restriction) (int, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return 0, err
	}
	return repo.Count(ctx, where)
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, model *T) (*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Create(ctx, model)
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, id any, patch query.Patch, opts ...repository.Option) (*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Update(ctx, id, patch, opts...)
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, id any) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	return repo.Delete(ctx, id)
}

func (s *baseServiceImpl[T]) DeleteWhere(ctx context.Context, where query.Restriction) (int64, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return 0, err
	}
	return repo.BulkDelete(ctx, where)
}

func (s *baseServiceImpl[T]) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	return repo.Store().RunInTx(ctx, func(ctx context.Context, _ bun.IDB) error {
		return fn(ctx)
	})
}
