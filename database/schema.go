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
	"reflect"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Index describes a secondary index a model wants.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// IndexedModel is implemented by models that declare secondary indexes.
type IndexedModel interface {
	Indexes() []Index
}

// SchemaManager creates the tables and indexes of registered models. It only
// adds what is missing and never alters or drops anything.
type SchemaManager struct {
	db     *bun.DB
	logger Logger
}

// NewSchemaManager constructs a SchemaManager using the provided Bun
// database and logger.
func NewSchemaManager(db *bun.DB, logger Logger) *SchemaManager {
	if logger == nil {
		logger = GetLogger()
	}
	return &SchemaManager{db: db, logger: logger}
}

// EnsureSchema creates every registered model's table and indexes if they
// do not exist yet.
func (sm *SchemaManager) EnsureSchema(ctx context.Context) error {
	if sm.db == nil {
		return fmt.Errorf("database not initialized")
	}
	// silent bootstrap
	if _, ok := os.LookupEnv("BUNDEBUG_MIGRATION"); !ok {
		EnableBunSqlSilent(true)
		defer EnableBunSqlSilent(false)
	}

	for _, model := range RegisteredModelInstances() {
		if err := sm.ensureTable(ctx, model); err != nil {
			return err
		}
		if indexed, ok := model.(IndexedModel); ok {
			for _, idx := range indexed.Indexes() {
				if err := sm.ensureIndex(ctx, model, idx); err != nil {
					return err
				}
			}
		}
	}

	sm.logger.Info("Database schema ensured!", "models", len(RegisteredModelInstances()))
	return nil
}

func (sm *SchemaManager) ensureTable(ctx context.Context, model interface{}) error {
	_, err := sm.db.NewCreateTable().
		Model(model).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		if is, sqlErr := IsSqlError(err); is && sqlErr == ExistTableErr {
			return nil
		}
		return fmt.Errorf("failed to create table %s: %w", getModelName(model), err)
	}
	return nil
}

func (sm *SchemaManager) ensureIndex(ctx context.Context, model interface{}, idx Index) error {
	q := sm.db.NewCreateIndex().
		Model(model).
		Index(idx.Name).
		Column(idx.Columns...)
	if idx.Unique {
		q = q.Unique()
	}
	// MySQL has no CREATE INDEX IF NOT EXISTS; a duplicate is reported instead.
	if sm.db.Dialect().Name() != dialect.MySQL {
		q = q.IfNotExists()
	}
	if _, err := q.Exec(ctx); err != nil {
		if is, sqlErr := IsSqlError(err); is && sqlErr == ExistIndexErr {
			return nil
		}
		return fmt.Errorf("failed to create index %s on %s: %w", idx.Name, getModelName(model), err)
	}
	sm.logger.Debug("Index ensured", "index", idx.Name, "model", getModelName(model))
	return nil
}

func getModelName(model interface{}) string {
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
