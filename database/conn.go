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
	"io/fs"
	"os"
	"sync"

	"github.com/uptrace/bun"

	"github.com/tomoncle/contacts/types"
)

var (
	globalMu      sync.RWMutex
	globalFactory *BaseDatabaseFactory
	globalConfig  *Config
	globalStore   *Store
	DB            *bun.DB
)

// GetDB returns the global Bun database instance.
func GetDB() *bun.DB {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalFactory != nil {
		return globalFactory.GetDB()
	}
	return DB
}

// GetStore returns a Store over the global database configured with the
// query and lock timeouts of the global config. It returns nil before InitDB.
func GetStore() *Store {
	globalMu.RLock()
	store := globalStore
	globalMu.RUnlock()
	if store != nil {
		return store
	}

	db := GetDB()
	if db == nil {
		return nil
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalStore == nil {
		var opts []StoreOption
		if globalConfig != nil {
			opts = append(opts,
				WithTimeout(globalConfig.ConnectionConfig.QueryTimeout),
				WithLockTimeout(globalConfig.ConnectionConfig.LockTimeout),
			)
		}
		globalStore = NewStore(db, opts...)
	}
	return globalStore
}

// GetDatabaseManager returns the global database manager.
func GetDatabaseManager() AbstractDatabaseManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalFactory != nil {
		return globalFactory.GetManager()
	}
	return nil
}

// GetDatabaseFactory returns the global database factory.
func GetDatabaseFactory() *BaseDatabaseFactory {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalFactory
}

// InitDB initializes the global database using the provided configuration:
// connect, ensure the schema and seed data as the config asks.
func InitDB(cfg *Config, opts ...ManagerOption) (*bun.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	db, err := InitDatabaseWithOptions(cfg, cfg.SchemaConfig.EnsureOnStartup, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.DataInitConfig.AutoInitOnStartup {
		if err := InitData(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to initialize data: %w", err)
		}
	}
	return db, nil
}

// InitDatabaseWithOptions initializes the database and optionally ensures the schema.
func InitDatabaseWithOptions(cfg *Config, ensureSchema bool, opts ...ManagerOption) (*bun.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	factory := NewDatabaseFactory()
	manager, err := factory.CreateFromConfig(&cfg.ConnectionConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}

	ctx := context.Background()
	if err := factory.InitializeDatabase(ctx, ensureSchema); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	db := manager.GetDB()
	db.RegisterModel(RegisteredModelInstances()...)

	globalMu.Lock()
	previous := globalFactory
	globalFactory = factory
	globalConfig = cfg
	globalStore = nil
	DB = db
	globalMu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return db, nil
}

// CloseDB closes the global database connection and forgets it.
func CloseDB() error {
	globalMu.Lock()
	factory := globalFactory
	globalFactory = nil
	globalStore = nil
	DB = nil
	globalMu.Unlock()

	if factory != nil {
		return factory.Close()
	}
	return nil
}

// GetHealthStatus returns the current database health status.
func GetHealthStatus(ctx context.Context) *HealthStatus {
	if factory := GetDatabaseFactory(); factory != nil {
		return factory.GetHealthStatus(ctx)
	}
	return &HealthStatus{
		Healthy:   false,
		Connected: false,
		LastError: "Database not initialized",
	}
}

// GetDatabaseStats returns global database statistics.
func GetDatabaseStats() *DBStats {
	if factory := GetDatabaseFactory(); factory != nil {
		return factory.GetStats()
	}
	return &DBStats{}
}

// EnsureSchema creates the tables and indexes of the registered models.
func EnsureSchema(ctx context.Context) error {
	manager := GetDatabaseManager()
	if manager == nil {
		return types.Errorf(types.ErrConnection, "database not initialized")
	}
	return manager.EnsureSchema(ctx)
}

// InitData seeds data from the configured SQL directory and environment.
func InitData(ctx context.Context) error {
	env := "prod"
	root := "configs/sql"

	globalMu.RLock()
	if globalConfig != nil {
		if globalConfig.DataInitConfig.Environment != "" {
			env = globalConfig.DataInitConfig.Environment
		}
		if globalConfig.DataInitConfig.Filepath != "" {
			root = globalConfig.DataInitConfig.Filepath
		}
	}
	globalMu.RUnlock()

	return InitDataWithSQL(ctx, os.DirFS(root), env)
}

// InitDataWithSQL seeds data by executing the SQL files of fsys for the environment.
func InitDataWithSQL(ctx context.Context, fsys fs.FS, environment string) error {
	store := GetStore()
	if store == nil {
		return types.Errorf(types.ErrConnection, "database not initialized")
	}
	_, err := NewSQLInitManager(store, fsys, environment).ExecuteInitialization(ctx)
	return err
}
