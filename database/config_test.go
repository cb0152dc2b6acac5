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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

const sampleConfig = `
connection:
  type: postgres
  driver: pgx
  host: db.internal
  port: 5432
  username: contacts
  dbname: contacts
  query_timeout: 3s
  lock_timeout: 5000ms
schema:
  ensure_on_startup: false
data_init:
  auto_init_on_startup: true
  environment: test
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	conn := cfg.ConnectionConfig
	assert.Equal(t, "postgres", conn.Type)
	assert.Equal(t, "pgx", conn.Driver)
	assert.Equal(t, "db.internal", conn.Host)
	assert.Equal(t, 5432, conn.Port)
	assert.Equal(t, 3*time.Second, conn.QueryTimeout)
	assert.Equal(t, 5*time.Second, conn.LockTimeout)
	assert.Equal(t, 100, conn.MaxOpenConns, "unset keys keep their defaults")
	assert.False(t, cfg.SchemaConfig.EnsureOnStartup)
	assert.True(t, cfg.DataInitConfig.AutoInitOnStartup)
	assert.Equal(t, "test", cfg.DataInitConfig.Environment)
	assert.Equal(t, "configs/sql", cfg.DataInitConfig.Filepath)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	_, err = ParseConfig([]byte("connection: [not, a, map]"))
	assert.Error(t, err)
}

func TestFactoryEnvOverrides(t *testing.T) {
	t.Setenv("DB_TYPE", "sqlite")
	t.Setenv("DB_HOST", "override.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_QUERY_TIMEOUT", "7")
	t.Setenv("DB_LOCK_TIMEOUT", "250ms")
	t.Setenv("DB_ENABLE_METRICS", "true")

	cfg := DefaultConnectionConfig()
	cfg.Type = "postgres"
	f := NewDatabaseFactory()
	f.SetLogger(NopLogger())
	m, err := f.CreateFromConfig(cfg)
	require.NoError(t, err)
	assert.NotNil(t, m)
	assert.Equal(t, "sqlite", cfg.Type)
	assert.Equal(t, "override.internal", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, 7*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.True(t, cfg.EnableMetrics)
}

func TestFactoryRejectsUnsupportedSettings(t *testing.T) {
	f := NewDatabaseFactory()
	_, err := f.CreateFromConfig(&ConnectionConfig{Type: "oracle"})
	assert.ErrorContains(t, err, "unsupported database type")

	_, err = f.CreateFromConfig(&ConnectionConfig{Type: "postgres", Driver: "odbc"})
	assert.ErrorContains(t, err, "unsupported postgres driver")

	_, err = f.CreateFromConfig(nil)
	assert.Error(t, err)
	assert.Error(t, f.InitializeDatabase(context.Background(), false))
}

func TestQueryHookEchoesStatements(t *testing.T) {
	t.Setenv(QueryLogEnv, "2")
	var buf bytes.Buffer
	store, mock := newMockStore(t)
	store.DB().AddQueryHook(NewQueryHook(&buf, false, false))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM contacts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	_, err := store.ExecuteMutation(context.Background(), "DELETE FROM contacts WHERE id = ?", 42)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "DELETE FROM contacts WHERE id = 42")

	buf.Reset()
	EnableBunSqlSilent(true)
	defer EnableBunSqlSilent(false)
	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, _ bun.IDB) error { return nil }))
	assert.Empty(t, buf.String())
}

func TestMetricsHookCountsStatements(t *testing.T) {
	reg := prometheus.NewRegistry()
	hook, err := NewMetricsHook(reg)
	require.NoError(t, err)
	again, err := NewMetricsHook(reg)
	require.NoError(t, err, "collectors already registered are reused")

	store, mock := newMockStore(t)
	store.DB().AddQueryHook(hook)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE contacts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	_, err = store.ExecuteMutation(context.Background(), "UPDATE contacts SET deleted = TRUE WHERE id = 1")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(hook.queries.WithLabelValues("UPDATE", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(again.queries.WithLabelValues("UPDATE", "ok")))
}

func TestDefaultLoggerFields(t *testing.T) {
	fields := toFields([]interface{}{"id", 7, map[string]interface{}{"table": "contacts"}, "dangling"})
	assert.Equal(t, 7, fields["id"])
	assert.Equal(t, "contacts", fields["table"])
	assert.Equal(t, "dangling", fields["extra"])
}

type recordingLogger struct {
	nopLogger
	warnings []string
}

func (l *recordingLogger) Warn(msg string, _ ...interface{}) {
	l.warnings = append(l.warnings, msg)
}

func TestSlowQueryHook(t *testing.T) {
	logger := &recordingLogger{}
	hook := NewSlowQueryHook(time.Millisecond, logger)

	hook.AfterQuery(context.Background(), &bun.QueryEvent{Query: "SELECT 1", StartTime: time.Now()})
	assert.Empty(t, logger.warnings)

	slow := &bun.QueryEvent{Query: "SELECT pg_sleep(1)", StartTime: time.Now().Add(-time.Second)}
	hook.AfterQuery(context.Background(), slow)
	assert.Equal(t, []string{"Database slow query detected"}, logger.warnings)

	t.Setenv(SlowQueryLogEnv, "0")
	hook.AfterQuery(context.Background(), slow)
	assert.Len(t, logger.warnings, 1)
}
