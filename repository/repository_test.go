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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/tomoncle/contacts/database"
	"github.com/tomoncle/contacts/query"
	"github.com/tomoncle/contacts/types"
)

type note struct {
	bun.BaseModel `bun:"table:notes"`

	ID       int64   `bun:"id,pk,autoincrement"`
	Title    *string `bun:"title"`
	Priority int64   `bun:"priority,notnull,default:0"`
	Deleted  bool    `bun:"deleted,notnull,default:false"`
	Version  int64   `bun:"version,notnull,default:1"`
}

func (n *note) Validate() error {
	if n.Title == nil || *n.Title == "" {
		return types.Errorf(types.ErrValidation, "title is required")
	}
	return nil
}

func (n *note) BeforeAppendModel(_ context.Context, q bun.Query) error {
	if n == nil {
		return nil
	}
	if _, ok := q.(*bun.InsertQuery); ok {
		n.Version = 1
		n.Deleted = false
	}
	return nil
}

func noteSchema() *query.Schema {
	return query.NewSchema("notes",
		query.IntField("id", "id"),
		query.TextField("title", "title"),
		query.IntField("priority", "priority"),
		query.BoolField("deleted", "deleted"),
		query.IntField("version", "version"),
	).SoftDelete("deleted").Version("version")
}

func title(s string) *string { return &s }

func newNoteRepo(t *testing.T) *Repository[note] {
	t.Helper()
	m := database.NewDatabaseManager(&database.ConnectionConfig{Type: "sqlite", DBName: ":memory:"})
	m.SetLogger(database.NopLogger())
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { _ = m.Disconnect() })

	db := m.GetDB()
	_, err := db.NewCreateTable().Model((*note)(nil)).Exec(context.Background())
	require.NoError(t, err)
	return New[note](database.NewStore(db, database.WithLogger(database.NopLogger())), noteSchema())
}

func seedNotes(t *testing.T, repo *Repository[note], titles ...string) []*note {
	t.Helper()
	out := make([]*note, 0, len(titles))
	for i, s := range titles {
		n, err := repo.Create(context.Background(), &note{Title: title(s), Priority: int64(i % 3)})
		require.NoError(t, err)
		out = append(out, n)
	}
	return out
}

func titles(notes []*note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = *n.Title
	}
	return out
}

func TestCreateAndFindByID(t *testing.T) {
	repo := newNoteRepo(t)
	ctx := context.Background()

	in := &note{Title: title("groceries"), Version: 7, Deleted: true}
	created, err := repo.Create(ctx, in)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, int64(1), created.Version)
	assert.False(t, created.Deleted)
	assert.Zero(t, in.ID, "caller's entity is left untouched")

	found, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, found)

	_, err = repo.FindByID(ctx, created.ID+100)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = repo.Create(ctx, &note{})
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = repo.Create(ctx, nil)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestIdentifiersAreNotReused(t *testing.T) {
	repo := newNoteRepo(t)
	ctx := context.Background()
	notes := seedNotes(t, repo, "a", "b")
	require.NoError(t, repo.Delete(ctx, notes[1].ID))

	c, err := repo.Create(ctx, &note{Title: title("c")})
	require.NoError(t, err)
	assert.Greater(t, c.ID, notes[1].ID)
}

func TestFindByIDsIsLenient(t *testing.T) {
	repo := newNoteRepo(t)
	ctx := context.Background()
	notes := seedNotes(t, repo, "one", "two", "three")
	require.NoError(t, repo.Delete(ctx, notes[1].ID))

	found, err := repo.FindByIDs(ctx, []any{notes[2].ID, notes[0].ID, notes[1].ID, int64(9999), notes[0].ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "three"}, titles(found))

	found, err = repo.FindByIDs(ctx, []any{notes[1].ID}, IncludeDeleted())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].Deleted)

	found, err = repo.FindByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFindAllOrdersAndPages(t *testing.T) {
	repo := newNoteRepo(t)
	ctx := context.Background()
	seedNotes(t, repo, "beta", "alpha", "bravo", "charlie", "banana")

	all, err := repo.FindAll(ctx, query.Selection{})
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "alpha", "bravo", "charlie", "banana"}, titles(all))

	bs, err := repo.FindAll(ctx, query.Selection{
		Where:   query.Prefix("title", "b"),
		OrderBy: []query.Order{query.Desc("title")},
		Page:    &types.PageRequest{Offset: 1, Limit: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "banana"}, titles(bs))

	// equal priorities fall back to identifier order
	byPriority, err := repo.FindAll(ctx, query.Selection{OrderBy: []query.Order{query.Asc("priority")}})
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "charlie", "alpha", "banana", "bravo"}, titles(byPriority))

	page, err := repo.Page(ctx, query.Selection{
		Where: query.Prefix("title", "b"),
		Page:  types.FirstPage(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, []string{"beta", "bravo"}, titles(page.Items))
	assert.True(t, page.HasMore())

	_, err = repo.Page(ctx, query.Selection{})
	assert.ErrorIs(t, err, types.ErrInvalidSpecification)
	_, err = repo.FindAll(ctx, query.Selection{Page: &types.PageRequest{Limit: 0}})
	assert.ErrorIs(t, err, types.ErrInvalidSpecification)
	_, err = repo.FindAll(ctx, query.Selection{Where: query.Eq("color", "red")})
	assert.ErrorIs(t, err, types.ErrInvalidSpecification)
}

func TestCount(t *testing.T) {
	repo := newNoteRepo(t)
	ctx := context.Background()
	notes := seedNotes(t, repo, "a1", "a2", "b1")
	require.NoError(t, repo.Delete(ctx, notes[0].ID))

	n, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.Count(ctx, query.Prefix("title", "a"), IncludeDeleted())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpdateChecksVersion(t *testing.T) {
	repo := newNoteRepo(t)
	ctx := context.Background()
	n := seedNotes(t, repo, "draft")[0]

	updated, err := repo.Update(ctx, n.ID, query.Patch{"title": "final"}, WithExpectedVersion(1))
	require.NoError(t, err)
	assert.Equal(t, "final", *updated.Title)
	assert.Equal(t, int64(2), updated.Version)

	_, err = repo.Update(ctx, n.ID, query.Patch{"title": "stale"}, WithExpectedVersion(1))
	assert.ErrorIs(t, err, types.ErrConcurrency)
	assert.True(t, types.IsRetryable(err))

	updated, err = repo.Update(ctx, n.ID, query.Patch{}.Set("title", nil))
	require.NoError(t, err)
	assert.Nil(t, updated.Title)
	assert.Equal(t, int64(3), updated.Version)

	_, err = repo.Update(ctx, n.ID, query.Patch{})
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = repo.Update(ctx, n.ID, query.Patch{"version": 10})
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = repo.Update(ctx, n.ID, query.Patch{"color": "red"})
	assert.ErrorIs(t, err, types.ErrInvalidSpecification)

	require.NoError(t, repo.Delete(ctx, n.ID))
	_, err = repo.Update(ctx, n.ID, query.Patch{"title": "ghost"})
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = repo.Update(ctx, int64(4242), query.Patch{"title": "ghost"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	repo := newNoteRepo(t)
	ctx := context.Background()
	n := seedNotes(t, repo, "temp")[0]

	require.NoError(t, repo.Delete(ctx, n.ID))
	require.NoError(t, repo.Delete(ctx, n.ID))

	_, err := repo.FindByID(ctx, n.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	gone, err := repo.FindByID(ctx, n.ID, IncludeDeleted())
	require.NoError(t, err)
	assert.True(t, gone.Deleted)
	assert.Equal(t, int64(2), gone.Version, "only the first delete writes")

	assert.ErrorIs(t, repo.Delete(ctx, int64(4242)), types.ErrNotFound)
}

func TestBulkDelete(t *testing.T) {
	repo := newNoteRepo(t)
	ctx := context.Background()
	notes := seedNotes(t, repo, "x1", "x2", "x3", "y1")
	require.NoError(t, repo.Delete(ctx, notes[0].ID))

	n, err := repo.BulkDelete(ctx, query.Prefix("title", "x"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.BulkDelete(ctx, query.Prefix("title", "x"))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = repo.BulkDelete(ctx, nil)
	assert.ErrorIs(t, err, types.ErrInvalidSpecification)

	left, err := repo.FindAll(ctx, query.Selection{})
	require.NoError(t, err)
	assert.Equal(t, []string{"y1"}, titles(left))

	all, err := repo.FindAll(ctx, query.Selection{Where: query.Prefix("title", "x")}, IncludeDeleted())
	require.NoError(t, err)
	require.Equal(t, []string{"x1", "x2", "x3"}, titles(all))
	for _, n := range all {
		assert.True(t, n.Deleted, *n.Title)
	}

	kept, err := repo.FindByIDs(ctx, []any{notes[1].ID, notes[3].ID}, IncludeDeleted())
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.True(t, kept[0].Deleted)
	assert.False(t, kept[1].Deleted)
}

func TestOptimisticReadFailsOnConcurrentWrite(t *testing.T) {
	repo := newNoteRepo(t)
	ctx := context.Background()
	n := seedNotes(t, repo, "shared")[0]

	tx, err := repo.Store().Begin(ctx)
	require.NoError(t, err)
	txCtx := tx.Context(ctx)

	_, err = repo.FindByID(txCtx, n.ID, WithLockMode(database.LockOptimistic))
	require.NoError(t, err)

	// another writer bumps the version before the scope ends
	_, err = tx.IDB().ExecContext(txCtx, "UPDATE notes SET version = version + 1 WHERE id = ?", n.ID)
	require.NoError(t, err)

	err = tx.Commit()
	assert.ErrorIs(t, err, types.ErrConcurrency)

	stored, err := repo.FindByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version, "scope was rolled back")
}

func TestOptimisticBatchReadsFailOnConcurrentWrite(t *testing.T) {
	reads := map[string]func(repo *Repository[note], ctx context.Context, ids []any) error{
		"FindByIDs": func(repo *Repository[note], ctx context.Context, ids []any) error {
			found, err := repo.FindByIDs(ctx, ids, WithLockMode(database.LockOptimistic))
			if err == nil && len(found) != len(ids) {
				return fmt.Errorf("read %d of %d notes", len(found), len(ids))
			}
			return err
		},
		"FindAll": func(repo *Repository[note], ctx context.Context, _ []any) error {
			_, err := repo.FindAll(ctx, query.Selection{}, WithLockMode(database.LockOptimistic))
			return err
		},
		"Page": func(repo *Repository[note], ctx context.Context, _ []any) error {
			_, err := repo.Page(ctx, query.Selection{Page: types.FirstPage(10)}, WithLockMode(database.LockOptimistic))
			return err
		},
	}
	for name, read := range reads {
		t.Run(name, func(t *testing.T) {
			repo := newNoteRepo(t)
			ctx := context.Background()
			notes := seedNotes(t, repo, "a", "b")
			ids := []any{notes[0].ID, notes[1].ID}

			tx, err := repo.Store().Begin(ctx)
			require.NoError(t, err)
			txCtx := tx.Context(ctx)
			require.NoError(t, read(repo, txCtx, ids))

			_, err = tx.IDB().ExecContext(txCtx, "UPDATE notes SET version = version + 1 WHERE id = ?", notes[1].ID)
			require.NoError(t, err)
			assert.ErrorIs(t, tx.Commit(), types.ErrConcurrency)

			stored, err := repo.FindByID(ctx, notes[1].ID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), stored.Version, "scope was rolled back")

			tx, err = repo.Store().Begin(ctx)
			require.NoError(t, err)
			require.NoError(t, read(repo, tx.Context(ctx), ids))
			assert.NoError(t, tx.Commit())
		})
	}
}

func TestOptimisticReadCommitsWhenUnchanged(t *testing.T) {
	repo := newNoteRepo(t)
	ctx := context.Background()
	n := seedNotes(t, repo, "quiet")[0]

	err := repo.Store().RunInTx(ctx, func(ctx context.Context, _ bun.IDB) error {
		_, err := repo.FindByID(ctx, n.ID, WithLockMode(database.LockOptimistic))
		return err
	})
	assert.NoError(t, err)

	_, err = repo.FindByID(ctx, n.ID, WithLockMode(database.LockPessimisticWrite))
	assert.NoError(t, err)
	_, err = repo.FindByID(ctx, n.ID, WithLockMode(database.LockMode(9)))
	assert.ErrorIs(t, err, types.ErrInvalidSpecification)
}

func TestOperationsJoinExternalScope(t *testing.T) {
	repo := newNoteRepo(t)
	ctx := context.Background()

	err := repo.Store().RunInTx(ctx, func(ctx context.Context, _ bun.IDB) error {
		n, err := repo.Create(ctx, &note{Title: title("inside")})
		if err != nil {
			return err
		}
		if _, err := repo.Update(ctx, n.ID, query.Patch{"priority": 5}); err != nil {
			return err
		}
		return types.Errorf(types.ErrValidation, "abort")
	})
	assert.ErrorIs(t, err, types.ErrValidation)

	n, err := repo.Count(ctx, nil, IncludeDeleted())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProjectIDs(t *testing.T) {
	repo := newNoteRepo(t)
	ctx := context.Background()
	notes := seedNotes(t, repo, "p1", "p2", "q1")

	ids, err := Project[int64](ctx, repo, query.ID(), query.Prefix("title", "p"))
	require.NoError(t, err)
	assert.Equal(t, []int64{notes[0].ID, notes[1].ID}, ids)

	lower, err := Project[string](ctx, repo, query.Left("title", 1), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "p", "q"}, lower)

	_, err = Project[string](ctx, repo, query.Left("priority", 1), nil)
	assert.ErrorIs(t, err, types.ErrInvalidSpecification)
}
