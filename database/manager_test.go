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
	"testing"
	"testing/fstest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/tomoncle/contacts/types"
)

type widget struct {
	bun.BaseModel `bun:"table:widgets"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull"`
}

func (*widget) Indexes() []Index {
	return []Index{{Name: "widgets_name_idx", Columns: []string{"name"}}}
}

func memoryConfig() *Config {
	cfg := DefaultConfig()
	cfg.ConnectionConfig.Type = "sqlite"
	cfg.ConnectionConfig.DBName = ":memory:"
	cfg.ConnectionConfig.HealthCheckInterval = 0
	cfg.ConnectionConfig.SlowQueryTime = 0
	return cfg
}

func TestInitDBWithMemorySqlite(t *testing.T) {
	InitLogger(NopLogger())
	RegisteredModel(NewModelAdapter(&widget{}, 1))

	cfg := memoryConfig()
	cfg.ConnectionConfig.EnableMetrics = true
	reg := prometheus.NewRegistry()
	db, err := InitDB(cfg, WithRegisterer(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseDB() })

	ctx := context.Background()
	_, err = db.NewInsert().Model(&widget{Name: "sprocket"}).Exec(ctx)
	require.NoError(t, err)

	var indexes []string
	err = db.NewRaw("SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ?", "widgets").Scan(ctx, &indexes)
	require.NoError(t, err)
	assert.Contains(t, indexes, "widgets_name_idx")

	// Bootstrap only adds what is missing.
	require.NoError(t, EnsureSchema(ctx))

	store := GetStore()
	require.NotNil(t, store)
	assert.Same(t, store, GetStore())
	assert.Equal(t, dialect.SQLite, store.Dialect())
	assert.Equal(t, cfg.ConnectionConfig.QueryTimeout, store.timeout)

	status := GetHealthStatus(ctx)
	assert.True(t, status.Healthy)
	assert.Equal(t, 1, GetDatabaseStats().MaxOpenConns)

	count, err := testutil.GatherAndCount(reg, "contacts_db_queries_total")
	require.NoError(t, err)
	assert.Positive(t, count)
	assert.Equal(t, 4, testutil.CollectAndCount(NewStatsCollector(GetDatabaseManager())))
}

func TestCloseDBForgetsGlobals(t *testing.T) {
	InitLogger(NopLogger())
	_, err := InitDB(memoryConfig())
	require.NoError(t, err)

	require.NoError(t, CloseDB())
	assert.Nil(t, GetDB())
	assert.Nil(t, GetStore())
	assert.False(t, GetHealthStatus(context.Background()).Healthy)
	assert.Error(t, EnsureSchema(context.Background()))
}

func TestManagerRejectsUnknownType(t *testing.T) {
	m := NewDatabaseManager(&ConnectionConfig{Type: "oracle"})
	err := m.Connect(context.Background())
	assert.ErrorContains(t, err, "unsupported database type")
	assert.Error(t, m.Ping(context.Background()))
	assert.False(t, m.HealthCheck(context.Background()).Healthy)
}

func connectMemory(t *testing.T) *bun.DB {
	t.Helper()
	m := NewDatabaseManager(&ConnectionConfig{Type: "sqlite", DBName: ":memory:"})
	m.SetLogger(NopLogger())
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { _ = m.Disconnect() })
	return m.GetDB()
}

func TestSQLInitManagerOrdersFiles(t *testing.T) {
	db := connectMemory(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, "CREATE TABLE seeds (id INTEGER PRIMARY KEY, label TEXT NOT NULL)")
	require.NoError(t, err)

	fsys := fstest.MapFS{
		"common/002_more.sql":               {Data: []byte("INSERT INTO seeds (id, label) VALUES (2, 'common-2');\n")},
		"common/001_first.sql":              {Data: []byte("-- base rows\nINSERT INTO seeds (id, label)\nVALUES (1, 'common-1');\n")},
		"common/README.md":                  {Data: []byte("not sql")},
		"environments/test/001_env.sql":     {Data: []byte("INSERT INTO seeds (id, label) VALUES (3, 'test-1');\nUPDATE seeds SET label = 'common-1b' WHERE id = 1;\n")},
		"environments/prod/001_ignored.sql": {Data: []byte("INSERT INTO seeds (id, label) VALUES (9, 'prod');\n")},
	}
	seeder := NewSQLInitManager(NewStore(db), fsys, "test")
	seeder.SetLogger(NopLogger())

	results, err := seeder.ExecuteInitialization(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "common/001_first.sql", results[0].File)
	assert.Equal(t, "common/002_more.sql", results[1].File)
	assert.Equal(t, "environments/test/001_env.sql", results[2].File)
	assert.EqualValues(t, 2, results[2].RowsAffected)

	var labels []string
	require.NoError(t, db.NewRaw("SELECT label FROM seeds ORDER BY id").Scan(ctx, &labels))
	assert.Equal(t, []string{"common-1b", "common-2", "test-1"}, labels)
}

func TestSQLInitManagerStopsAtFailingFile(t *testing.T) {
	db := connectMemory(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, "CREATE TABLE seeds (id INTEGER PRIMARY KEY, label TEXT NOT NULL)")
	require.NoError(t, err)

	fsys := fstest.MapFS{
		"common/001_ok.sql":  {Data: []byte("INSERT INTO seeds (id, label) VALUES (1, 'ok');")},
		"common/002_bad.sql": {Data: []byte("INSERT INTO seeds (id, label) VALUES (2, 'partial');\nINSERT INTO seeds (id, label) VALUES (2, 'dup');")},
		"common/003_not.sql": {Data: []byte("INSERT INTO seeds (id, label) VALUES (3, 'never');")},
	}
	seeder := NewSQLInitManager(NewStore(db), fsys, "")
	seeder.SetLogger(NopLogger())

	results, err := seeder.ExecuteInitialization(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrQuery)
	require.Len(t, results, 2)
	assert.False(t, results[1].Success)

	var ids []int64
	require.NoError(t, db.NewRaw("SELECT id FROM seeds ORDER BY id").Scan(ctx, &ids))
	assert.Equal(t, []int64{1}, ids, "the failing file is rolled back as a whole")
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements("-- comment\nSELECT 1;\n\nINSERT INTO t\nVALUES (1);\nSELECT 2")
	assert.Equal(t, []string{"SELECT 1;", "INSERT INTO t VALUES (1);", "SELECT 2"}, stmts)
	assert.Equal(t, 7, parseFileOrder("007_seed.sql"))
	assert.Equal(t, 999, parseFileOrder("seed.sql"))
}

type gadget struct {
	ID int64 `bun:"id,pk"`
}

func TestModelRegistryOrder(t *testing.T) {
	reg := newModelRegistry()
	reg.Register(NewModelAdapter(&widget{}, 2))
	reg.Register(NewModelAdapter(&gadget{}, 2))
	reg.Register(NewModelAdapter(&widget{}, 0))
	reg.Register(NewModelAdapter(gadget{}, 0))

	models := reg.Models()
	require.Len(t, models, 2)
	assert.IsType(t, &gadget{}, models[0].Instance())
	assert.IsType(t, &widget{}, models[1].Instance())
}
