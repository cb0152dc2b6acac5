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
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/uptrace/bun"

	"github.com/tomoncle/contacts/database"
	"github.com/tomoncle/contacts/query"
	"github.com/tomoncle/contacts/types"
)

// Repository reads and writes the entity T, mapped to a table by schema.
type Repository[T any] struct {
	store   *database.Store
	schema  *query.Schema
	builder *query.Builder
}

// New returns a repository for T backed by store.
func New[T any](store *database.Store, schema *query.Schema) *Repository[T] {
	return &Repository[T]{
		store:   store,
		schema:  schema,
		builder: query.NewBuilder(schema, store.Dialect()),
	}
}

func (r *Repository[T]) Store() *database.Store { return r.store }

func (r *Repository[T]) Schema() *query.Schema { return r.schema }

// Builder exposes the query builder so callers can tune MaxLimit.
func (r *Repository[T]) Builder() *query.Builder { return r.builder }

// FindByID returns the entity identified by id. Soft-deleted rows are
// reported as not found unless IncludeDeleted is given. Under LockOptimistic
// the row version is checked again when the scope commits.
func (r *Repository[T]) FindByID(ctx context.Context, id any, opts ...Option) (*T, error) {
	o := newOptions(opts)
	if err := checkLock(o.lock); err != nil {
		return nil, err
	}
	var found *T
	err := r.store.RunInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		entity, err := r.findOne(ctx, db, id, o)
		if err != nil {
			return err
		}
		if err := r.watchVersions(ctx, db, o, entity); err != nil {
			return err
		}
		found = entity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// FindByIDs returns the entities matching ids ordered by identifier.
// Unknown and soft-deleted identifiers are skipped; duplicates collapse.
func (r *Repository[T]) FindByIDs(ctx context.Context, ids []any, opts ...Option) ([]*T, error) {
	o := newOptions(opts)
	if err := checkLock(o.lock); err != nil {
		return nil, err
	}
	items := make([]*T, 0, len(ids))
	if len(ids) == 0 {
		return items, nil
	}
	unique := dedupe(ids)
	err := r.store.RunInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		q := db.NewSelect().Model(&items).Where("? IN (?)", r.pk(), bun.In(unique))
		q = r.live(q, o).OrderExpr("? ASC", r.pk())
		if err := database.ApplyLock(q, r.store.Dialect(), o.lock).Scan(ctx); err != nil {
			return err
		}
		return r.watchVersions(ctx, db, o, items...)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// FindAll returns the entities selected by sel. Rows come in identifier
// order unless sel orders them; the identifier always breaks ties.
func (r *Repository[T]) FindAll(ctx context.Context, sel query.Selection, opts ...Option) ([]*T, error) {
	o := newOptions(opts)
	if err := checkLock(o.lock); err != nil {
		return nil, err
	}
	items := make([]*T, 0)
	err := r.store.RunInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		q, err := r.selectQuery(db.NewSelect().Model(&items), sel, o)
		if err != nil {
			return err
		}
		if err := q.Scan(ctx); err != nil {
			return err
		}
		return r.watchVersions(ctx, db, o, items...)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Page returns one page of the entities selected by sel together with the
// number of rows matching sel.Where.
func (r *Repository[T]) Page(ctx context.Context, sel query.Selection, opts ...Option) (*types.Pagination[T], error) {
	if sel.Page == nil {
		return nil, types.Errorf(types.ErrInvalidSpecification, "page request is required")
	}
	if err := sel.Page.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	if err := checkLock(o.lock); err != nil {
		return nil, err
	}
	pagination := types.NewPagination[T](sel.Page)
	err := r.store.RunInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		total, err := r.count(ctx, db, sel.Where, o)
		if err != nil || total == 0 {
			return err
		}
		q, err := r.selectQuery(db.NewSelect().Model(&pagination.Items), sel, o)
		if err != nil {
			return err
		}
		pagination.Total = total
		if err := q.Scan(ctx); err != nil {
			return err
		}
		return r.watchVersions(ctx, db, o, pagination.Items...)
	})
	if err != nil {
		return nil, err
	}
	return pagination, nil
}

// Count returns the number of entities matching where. A nil restriction
// counts every live row.
func (r *Repository[T]) Count(ctx context.Context, where query.Restriction, opts ...Option) (int, error) {
	o := newOptions(opts)
	var total int
	err := r.store.RunInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		total, err = r.count(ctx, db, where, o)
		return err
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Create validates entity, inserts a copy of it and returns the stored row
// with its assigned identifier.
func (r *Repository[T]) Create(ctx context.Context, entity *T) (*T, error) {
	if entity == nil {
		return nil, types.Errorf(types.ErrValidation, "nil %s entity", r.schema.Table)
	}
	if v, ok := any(entity).(Validator); ok {
		if err := v.Validate(); err != nil {
			if types.KindOf(err) == nil {
				err = fmt.Errorf("%w: %w", types.ErrValidation, err)
			}
			return nil, err
		}
	}
	created := new(T)
	*created = *entity
	err := r.store.RunInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		if _, err := db.NewInsert().Model(created).Exec(ctx); err != nil {
			return err
		}
		return db.NewSelect().Model(created).WherePK().Scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Update applies patch to the live entity identified by id, bumps its
// version and returns the stored row. WithExpectedVersion turns a version
// mismatch into a concurrency error.
func (r *Repository[T]) Update(ctx context.Context, id any, patch query.Patch, opts ...Option) (*T, error) {
	o := newOptions(opts)
	var updated *T
	err := r.store.RunInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		q, err := r.builder.Assign(db.NewUpdate().TableExpr("?", bun.Ident(r.schema.Table)), patch)
		if err != nil {
			return err
		}
		q = r.bump(q).Where("? = ?", r.pk(), id)
		if o.expectedVersion != nil && r.schema.VersionColumn() != "" {
			q = q.Where("? = ?", bun.Ident(r.schema.VersionColumn()), *o.expectedVersion)
		}
		q = r.liveUpdate(q)
		affected, err := rowsAffected(q.Exec(ctx))
		if err != nil {
			return err
		}
		if affected == 0 {
			return r.missedUpdate(ctx, db, id, o.expectedVersion)
		}
		updated, err = r.findOne(ctx, db, id, &options{lock: database.LockNone})
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete soft deletes the entity identified by id. Deleting an already
// deleted entity succeeds; an id that never existed is not found.
func (r *Repository[T]) Delete(ctx context.Context, id any) error {
	return r.store.RunInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		var affected int64
		var err error
		if sd := r.schema.SoftDeleteColumn(); sd != "" {
			q := db.NewUpdate().TableExpr("?", bun.Ident(r.schema.Table)).Set("? = ?", bun.Ident(sd), true)
			q = r.liveUpdate(r.bump(q).Where("? = ?", r.pk(), id))
			affected, err = rowsAffected(q.Exec(ctx))
		} else {
			q := db.NewDelete().TableExpr("?", bun.Ident(r.schema.Table)).Where("? = ?", r.pk(), id)
			affected, err = rowsAffected(q.Exec(ctx))
		}
		if err != nil || affected > 0 {
			return err
		}
		_, found, err := r.rowState(ctx, db, id)
		if err != nil {
			return err
		}
		if !found {
			return r.notFound(id)
		}
		return nil
	})
}

// BulkDelete soft deletes every live entity matching where in one statement
// and returns how many rows it deleted. A nil restriction is rejected.
func (r *Repository[T]) BulkDelete(ctx context.Context, where query.Restriction) (int64, error) {
	if where == nil {
		return 0, types.Errorf(types.ErrInvalidSpecification, "bulk delete without restriction")
	}
	var deleted int64
	err := r.store.RunInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		sd := r.schema.SoftDeleteColumn()
		if sd == "" {
			cond, args, err := r.builder.Where(where)
			if err != nil {
				return err
			}
			q := db.NewDelete().TableExpr("?", bun.Ident(r.schema.Table)).Where(cond, args...)
			deleted, err = rowsAffected(q.Exec(ctx))
			return err
		}
		q := db.NewUpdate().TableExpr("?", bun.Ident(r.schema.Table)).Set("? = ?", bun.Ident(sd), true)
		q, err = r.builder.Mutate(r.bump(q), where)
		if err != nil {
			return err
		}
		deleted, err = rowsAffected(r.liveUpdate(q).Exec(ctx))
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Project evaluates p over the live rows of repo matching where, in
// identifier order. V must be able to hold the projected value; use a
// pointer or sql.Null type when it can be NULL.
func Project[V any, T any](ctx context.Context, repo *Repository[T], p query.Projection, where query.Restriction, opts ...Option) ([]V, error) {
	o := newOptions(opts)
	out := make([]V, 0)
	err := repo.store.RunInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		q, err := repo.builder.Project(db.NewSelect().TableExpr("?", bun.Ident(repo.schema.Table)), p)
		if err != nil {
			return err
		}
		if where != nil {
			cond, args, err := repo.builder.Where(where)
			if err != nil {
				return err
			}
			q = q.Where(cond, args...)
		}
		q = repo.live(q, o).OrderExpr("? ASC", repo.pk())
		return q.Scan(ctx, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository[T]) pk() bun.Ident { return bun.Ident(r.schema.PrimaryKeyColumn()) }

func (r *Repository[T]) notFound(id any) error {
	return types.Errorf(types.ErrNotFound, "%s with id %v not found", r.schema.Table, id)
}

// live hides soft-deleted rows unless the call asked for them.
func (r *Repository[T]) live(q *bun.SelectQuery, o *options) *bun.SelectQuery {
	sd := r.schema.SoftDeleteColumn()
	if sd == "" || o.includeDeleted {
		return q
	}
	return q.Where("? = ?", bun.Ident(sd), false)
}

func (r *Repository[T]) liveUpdate(q *bun.UpdateQuery) *bun.UpdateQuery {
	if sd := r.schema.SoftDeleteColumn(); sd != "" {
		return q.Where("? = ?", bun.Ident(sd), false)
	}
	return q
}

// bump increments the lock token of every row q writes.
func (r *Repository[T]) bump(q *bun.UpdateQuery) *bun.UpdateQuery {
	if vc := r.schema.VersionColumn(); vc != "" {
		return q.Set("? = ? + 1", bun.Ident(vc), bun.Ident(vc))
	}
	return q
}

func (r *Repository[T]) selectQuery(q *bun.SelectQuery, sel query.Selection, o *options) (*bun.SelectQuery, error) {
	q, err := r.builder.Select(r.live(q, o), sel)
	if err != nil {
		return nil, err
	}
	if !r.ordersByID(sel.OrderBy) {
		q = q.OrderExpr("? ASC", r.pk())
	}
	return database.ApplyLock(q, r.store.Dialect(), o.lock), nil
}

func (r *Repository[T]) ordersByID(orders []query.Order) bool {
	for _, o := range orders {
		if f, err := r.schema.Field(o.Field); err == nil && f.Column == r.schema.PrimaryKeyColumn() {
			return true
		}
	}
	return false
}

func (r *Repository[T]) count(ctx context.Context, db bun.IDB, where query.Restriction, o *options) (int, error) {
	q := r.live(db.NewSelect().Model((*T)(nil)), o)
	if where != nil {
		cond, args, err := r.builder.Where(where)
		if err != nil {
			return 0, err
		}
		q = q.Where(cond, args...)
	}
	return q.Count(ctx)
}

func (r *Repository[T]) findOne(ctx context.Context, db bun.IDB, id any, o *options) (*T, error) {
	entity := new(T)
	q := r.live(db.NewSelect().Model(entity).Where("? = ?", r.pk(), id), o)
	q = database.ApplyLock(q, r.store.Dialect(), o.lock)
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.notFound(id)
		}
		return nil, err
	}
	return entity, nil
}

// watchVersions registers a check that every entity still carries the
// version it was read with when the enclosing scope commits. It only acts
// under LockOptimistic on a versioned schema.
func (r *Repository[T]) watchVersions(ctx context.Context, db bun.IDB, o *options, entities ...*T) error {
	vc := r.schema.VersionColumn()
	tx := database.TxFromContext(ctx)
	if o.lock != database.LockOptimistic || vc == "" || tx == nil || len(entities) == 0 {
		return nil
	}
	table := db.Dialect().Tables().Get(reflect.TypeOf((*T)(nil)).Elem())
	if len(table.PKs) != 1 {
		return types.Errorf(types.ErrInvalidSpecification, "optimistic lock on %s needs a single primary key", r.schema.Table)
	}
	versionField := table.FieldMap[vc]
	read := make([]readVersion, 0, len(entities))
	for _, entity := range entities {
		strct := reflect.ValueOf(entity).Elem()
		rv := readVersion{id: table.PKs[0].Value(strct).Interface()}
		switch v := any(entity).(type) {
		case Versioned:
			rv.version = v.LockVersion()
		default:
			if versionField == nil {
				return types.Errorf(types.ErrInvalidSpecification, "optimistic lock on %s needs a mapped %s field", r.schema.Table, vc)
			}
			n, ok := versionField.Value(strct).Interface().(int64)
			if !ok {
				return types.Errorf(types.ErrInvalidSpecification, "version field of %s must be int64", r.schema.Table)
			}
			rv.version = n
		}
		read = append(read, rv)
	}

	tx.BeforeCommit(func(ctx context.Context, db bun.IDB) error {
		q := db.NewSelect().TableExpr("?", bun.Ident(r.schema.Table)).ColumnExpr("count(*)")
		for _, rv := range read {
			q = q.WhereOr("? = ? AND ? = ?", r.pk(), rv.id, bun.Ident(vc), rv.version)
		}
		var unchanged int
		if err := q.Scan(ctx, &unchanged); err != nil {
			return err
		}
		if unchanged != len(read) {
			return types.Errorf(types.ErrConcurrency, "%d of %d %s rows were modified after they were read", len(read)-unchanged, len(read), r.schema.Table)
		}
		return nil
	})
	return nil
}

type readVersion struct {
	id      any
	version int64
}

type rowState struct {
	version int64
	deleted bool
}

// rowState reads the lock columns of the row identified by id, ignoring soft
// deletion.
func (r *Repository[T]) rowState(ctx context.Context, db bun.IDB, id any) (rowState, bool, error) {
	var (
		state rowState
		one   int
	)
	q := db.NewSelect().TableExpr("?", bun.Ident(r.schema.Table)).ColumnExpr("1").Where("? = ?", r.pk(), id)
	dest := []interface{}{&one}
	if vc := r.schema.VersionColumn(); vc != "" {
		q = q.ColumnExpr("?", bun.Ident(vc))
		dest = append(dest, &state.version)
	}
	if sd := r.schema.SoftDeleteColumn(); sd != "" {
		q = q.ColumnExpr("?", bun.Ident(sd))
		dest = append(dest, &state.deleted)
	}
	if err := q.Scan(ctx, dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state, false, nil
		}
		return state, false, err
	}
	return state, true, nil
}

// missedUpdate explains an update that matched no row.
func (r *Repository[T]) missedUpdate(ctx context.Context, db bun.IDB, id any, expected *int64) error {
	state, found, err := r.rowState(ctx, db, id)
	if err != nil {
		return err
	}
	if !found || state.deleted {
		return r.notFound(id)
	}
	if expected != nil {
		return types.Errorf(types.ErrConcurrency, "%s with id %v is at version %d, expected %d", r.schema.Table, id, state.version, *expected)
	}
	return types.Errorf(types.ErrConcurrency, "%s with id %v changed during update", r.schema.Table, id)
}

func checkLock(mode database.LockMode) error {
	if !mode.IsValid() {
		return types.Errorf(types.ErrInvalidSpecification, "unknown lock mode %d", int(mode))
	}
	return nil
}

func rowsAffected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func dedupe(ids []any) []any {
	seen := make(map[any]struct{}, len(ids))
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
