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
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/uptrace/bun"
)

// BaseDatabaseFactory creates and manages a configured database manager and
// provides helpers for initialization, health checks, and statistics.
type BaseDatabaseFactory struct {
	manager AbstractDatabaseManager
	logger  Logger
}

// NewDatabaseFactory returns a new database factory using the global logger.
func NewDatabaseFactory() *BaseDatabaseFactory {
	return &BaseDatabaseFactory{
		logger: GetLogger(),
	}
}

// CreateFromConfig constructs a database manager from the given connection
// configuration, applying environment overrides and setting the factory logger.
func (f *BaseDatabaseFactory) CreateFromConfig(cfg *ConnectionConfig, opts ...ManagerOption) (AbstractDatabaseManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}

	applyEnvOverrides(cfg)

	if _, ok := backends[cfg.Type]; !ok {
		return nil, fmt.Errorf("unsupported database type: %s, supported types: %v", cfg.Type, supportedTypes())
	}
	if cfg.Driver != "" && cfg.Driver != "pq" && cfg.Driver != "pgx" {
		return nil, fmt.Errorf("unsupported postgres driver: %s, supported drivers: [pq pgx]", cfg.Driver)
	}

	// Create manager
	manager := NewDatabaseManager(cfg, opts...)
	manager.SetLogger(f.logger)

	f.manager = manager
	return manager, nil
}

func supportedTypes() []string {
	out := make([]string, 0, len(backends))
	for name := range backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// envBinding copies one environment variable into the config when it is set
// and parses.
type envBinding struct {
	key   string
	apply func(cfg *ConnectionConfig, raw string) bool
}

func envString(key string, field func(*ConnectionConfig) *string) envBinding {
	return envBinding{key, func(cfg *ConnectionConfig, raw string) bool {
		*field(cfg) = raw
		return true
	}}
}

func envInt(key string, field func(*ConnectionConfig) *int) envBinding {
	return envBinding{key, func(cfg *ConnectionConfig, raw string) bool {
		v, err := strconv.Atoi(raw)
		if err == nil {
			*field(cfg) = v
		}
		return err == nil
	}}
}

func envBool(key string, field func(*ConnectionConfig) *bool) envBinding {
	return envBinding{key, func(cfg *ConnectionConfig, raw string) bool {
		v, err := strconv.ParseBool(raw)
		if err == nil {
			*field(cfg) = v
		}
		return err == nil
	}}
}

func envDuration(key string, field func(*ConnectionConfig) *time.Duration) envBinding {
	return envBinding{key, func(cfg *ConnectionConfig, raw string) bool {
		v, ok := parseDuration(raw)
		if ok {
			*field(cfg) = v
		}
		return ok
	}}
}

var envBindings = []envBinding{
	envString("DB_TYPE", func(c *ConnectionConfig) *string { return &c.Type }),
	envString("DB_DRIVER", func(c *ConnectionConfig) *string { return &c.Driver }),
	envString("DB_HOST", func(c *ConnectionConfig) *string { return &c.Host }),
	envInt("DB_PORT", func(c *ConnectionConfig) *int { return &c.Port }),
	envString("DB_USERNAME", func(c *ConnectionConfig) *string { return &c.Username }),
	envString("DB_PASSWORD", func(c *ConnectionConfig) *string { return &c.Password }),
	envString("DB_NAME", func(c *ConnectionConfig) *string { return &c.DBName }),
	envString("DB_SSLMODE", func(c *ConnectionConfig) *string { return &c.SSLMode }),
	envInt("DB_MAX_IDLE_CONNS", func(c *ConnectionConfig) *int { return &c.MaxIdleConns }),
	envInt("DB_MAX_OPEN_CONNS", func(c *ConnectionConfig) *int { return &c.MaxOpenConns }),
	envDuration("DB_CONN_MAX_LIFETIME", func(c *ConnectionConfig) *time.Duration { return &c.ConnMaxLifetime }),
	envDuration("DB_QUERY_TIMEOUT", func(c *ConnectionConfig) *time.Duration { return &c.QueryTimeout }),
	envDuration("DB_LOCK_TIMEOUT", func(c *ConnectionConfig) *time.Duration { return &c.LockTimeout }),
	envBool("DB_ENABLE_RECONNECT", func(c *ConnectionConfig) *bool { return &c.EnableReconnect }),
	envDuration("DB_RECONNECT_INTERVAL", func(c *ConnectionConfig) *time.Duration { return &c.ReconnectInterval }),
	envBool("DB_ENABLE_QUERY_LOG", func(c *ConnectionConfig) *bool { return &c.EnableQueryLog }),
	envBool("DB_ENABLE_METRICS", func(c *ConnectionConfig) *bool { return &c.EnableMetrics }),
}

// applyEnvOverrides lets DB_* environment variables win over file config.
// Unparsable values are ignored.
func applyEnvOverrides(cfg *ConnectionConfig) {
	for _, b := range envBindings {
		if raw := os.Getenv(b.key); raw != "" {
			b.apply(cfg, raw)
		}
	}
}

// parseDuration accepts a Go duration ("5s") or plain seconds ("5").
func parseDuration(raw string) (time.Duration, bool) {
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, true
	}
	return 0, false
}

// InitializeDatabase connects to the database and optionally ensures the schema.
func (f *BaseDatabaseFactory) InitializeDatabase(ctx context.Context, ensureSchema bool) error {
	if f.manager == nil {
		return fmt.Errorf("database manager not created")
	}

	// Connect to database
	if err := f.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if ensureSchema {
		if err := f.manager.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to ensure database schema: %w", err)
		}
	}
	f.logger.Info("Database initialization completed!")
	return nil
}

// GetManager returns the underlying database manager.
func (f *BaseDatabaseFactory) GetManager() AbstractDatabaseManager {
	return f.manager
}

// GetDB returns the Bun database instance, or nil if not initialized.
func (f *BaseDatabaseFactory) GetDB() *bun.DB {
	if f.manager == nil {
		return nil
	}
	return f.manager.GetDB()
}

// SetLogger sets the logger on the factory and the underlying manager.
func (f *BaseDatabaseFactory) SetLogger(logger Logger) {
	f.logger = logger
	if f.manager != nil {
		f.manager.SetLogger(logger)
	}
}

// Close closes the database connection managed by the factory.
func (f *BaseDatabaseFactory) Close() error {
	if f.manager == nil {
		return nil
	}
	return f.manager.Disconnect()
}

// GetHealthStatus returns the current database health status from the manager.
func (f *BaseDatabaseFactory) GetHealthStatus(ctx context.Context) *HealthStatus {
	if f.manager == nil {
		return &HealthStatus{
			Healthy:       false,
			Connected:     false,
			LastError:     "Database manager not initialized",
			LastCheckTime: time.Now(),
		}
	}
	return f.manager.HealthCheck(ctx)
}

// GetStats returns database connection statistics from the manager.
func (f *BaseDatabaseFactory) GetStats() *DBStats {
	if f.manager == nil {
		return &DBStats{}
	}
	return f.manager.GetStats()
}
