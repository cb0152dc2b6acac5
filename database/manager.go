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
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/tomoncle/contacts/types"
)

const (
	defaultConnectTimeout = 30 * time.Second
	healthPingTimeout     = 5 * time.Second
	maxReconnectBackoff   = time.Minute
)

type defaultDatabaseManager struct {
	config     *ConnectionConfig
	registerer prometheus.Registerer
	logger     Logger

	mu         sync.RWMutex
	db         *bun.DB
	sqlDB      *sql.DB
	stopHealth context.CancelFunc
}

// ManagerOption customizes a manager created by NewDatabaseManager.
type ManagerOption func(*defaultDatabaseManager)

// WithRegisterer sets where query metrics are registered when
// ConnectionConfig.EnableMetrics is on.
func WithRegisterer(reg prometheus.Registerer) ManagerOption {
	return func(dm *defaultDatabaseManager) {
		dm.registerer = reg
	}
}

// NewDatabaseManager returns an AbstractDatabaseManager backed by Bun.
// If config is nil, a sensible default configuration is used.
func NewDatabaseManager(config *ConnectionConfig, opts ...ManagerOption) AbstractDatabaseManager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	dm := &defaultDatabaseManager{
		config: config,
		logger: NopLogger(),
	}
	for _, opt := range opts {
		opt(dm)
	}
	return dm
}

// Connect opens the pool and verifies it with a ping. Connecting a connected
// manager is a no-op.
func (dm *defaultDatabaseManager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.db != nil {
		return nil
	}

	if dm.config.ConnectTimeout <= 0 {
		dm.config.ConnectTimeout = defaultConnectTimeout
	}
	sqlDB, db, err := openDB(dm.config)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	dm.configurePool(sqlDB)

	pingCtx, cancel := context.WithTimeout(ctx, dm.config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("%w: database connection test failed: %w", types.ErrConnection, err)
	}

	if err := dm.installHooks(db); err != nil {
		_ = db.Close()
		return err
	}

	dm.db, dm.sqlDB = db, sqlDB
	if dm.config.HealthCheckInterval > 0 && dm.stopHealth == nil {
		healthCtx, stop := context.WithCancel(context.Background())
		dm.stopHealth = stop
		go dm.watchHealth(healthCtx)
	}
	dm.logger.Info("Database connected successfully", "type", dm.config.Type, "host", dm.config.Host, "dbname", dm.config.DBName)
	return nil
}

func (dm *defaultDatabaseManager) installHooks(db *bun.DB) error {
	if dm.config.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	db.AddQueryHook(NewQueryHook(nil, false, false))
	if dm.config.SlowQueryTime > 0 {
		db.AddQueryHook(NewSlowQueryHook(dm.config.SlowQueryTime, dm.logger))
	}
	if dm.config.EnableMetrics {
		hook, err := NewMetricsHook(dm.registerer)
		if err != nil {
			return fmt.Errorf("failed to register query metrics: %w", err)
		}
		db.AddQueryHook(hook)
	}
	return nil
}

func (dm *defaultDatabaseManager) configurePool(sqlDB *sql.DB) {
	// An in-memory sqlite database lives exactly as long as its connection.
	if dm.config.IsMemory() {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
		return
	}
	sqlDB.SetMaxIdleConns(dm.config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(dm.config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(dm.config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(dm.config.ConnMaxIdleTime)
}

// Disconnect stops health checks and closes the pool.
func (dm *defaultDatabaseManager) Disconnect() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.stopHealth != nil {
		dm.stopHealth()
		dm.stopHealth = nil
	}
	return dm.closeLocked()
}

func (dm *defaultDatabaseManager) closeLocked() error {
	if dm.db == nil {
		return nil
	}
	err := dm.db.Close()
	dm.db, dm.sqlDB = nil, nil
	if err != nil {
		dm.logger.Error("Failed to close database connection", "error", err)
		return err
	}
	dm.logger.Info("Database connection closed")
	return nil
}

// Reconnect replaces the pool. A running health watcher survives it.
func (dm *defaultDatabaseManager) Reconnect(ctx context.Context) error {
	dm.logger.Info("Attempting to reconnect to the database")
	dm.mu.Lock()
	err := dm.closeLocked()
	dm.mu.Unlock()
	if err != nil {
		dm.logger.Warn("Error disconnecting existing connection", "error", err)
	}
	return dm.Connect(ctx)
}

func (dm *defaultDatabaseManager) Ping(ctx context.Context) error {
	db := dm.GetDB()
	if db == nil {
		return types.Errorf(types.ErrConnection, "database not connected")
	}
	if err := db.PingContext(ctx); err != nil {
		return Classify(err)
	}
	return nil
}

func (dm *defaultDatabaseManager) GetDB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

func (dm *defaultDatabaseManager) GetSQLDB() *sql.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.sqlDB
}

// HealthCheck pings the database and reports the pool state.
func (dm *defaultDatabaseManager) HealthCheck(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{LastCheckTime: start}

	dm.mu.RLock()
	db, sqlDB := dm.db, dm.sqlDB
	dm.mu.RUnlock()

	if db == nil {
		status.LastError = "Database not initialized"
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
		err := db.PingContext(pingCtx)
		cancel()
		status.ResponseTime = time.Since(start)
		status.Healthy = err == nil
		status.Connected = err == nil
		if err != nil {
			status.LastError = err.Error()
		}
		stats := sqlDB.Stats()
		status.ActiveConns = stats.InUse
		status.IdleConns = stats.Idle
		status.MaxOpenConns = stats.MaxOpenConnections
	}
	return status
}

// watchHealth checks the database every HealthCheckInterval until ctx ends
// and reconnects when a check fails.
func (dm *defaultDatabaseManager) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(dm.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if status := dm.HealthCheck(ctx); !status.Healthy && dm.config.EnableReconnect {
			dm.logger.Warn("Database health check failed", "error", status.LastError)
			dm.reconnectWithBackoff(ctx)
		}
	}
}

// reconnectWithBackoff retries Reconnect up to MaxReconnectTries times,
// doubling the wait between attempts.
func (dm *defaultDatabaseManager) reconnectWithBackoff(ctx context.Context) {
	wait := dm.config.ReconnectInterval
	for try := 1; try <= dm.config.MaxReconnectTries; try++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		connectCtx, cancel := context.WithTimeout(ctx, dm.config.ConnectTimeout)
		err := dm.Reconnect(connectCtx)
		cancel()
		if err == nil {
			dm.logger.Info("Reconnect succeeded", "try", try)
			return
		}
		dm.logger.Error("Reconnect failed", "error", err, "try", try)
		if wait *= 2; wait > maxReconnectBackoff {
			wait = maxReconnectBackoff
		}
	}
	dm.logger.Error("Max reconnect attempts reached, stopping", "tries", dm.config.MaxReconnectTries)
}

func (dm *defaultDatabaseManager) GetStats() *DBStats {
	sqlDB := dm.GetSQLDB()
	if sqlDB == nil {
		return &DBStats{}
	}
	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

func (dm *defaultDatabaseManager) EnsureSchema(ctx context.Context) error {
	db := dm.GetDB()
	if db == nil {
		return types.Errorf(types.ErrConnection, "database not initialized")
	}
	return NewSchemaManager(db, dm.logger).EnsureSchema(ctx)
}

func (dm *defaultDatabaseManager) SetLogger(logger Logger) {
	if logger == nil {
		logger = NopLogger()
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.logger = logger
}
