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
	"reflect"
	"sort"
	"sync"
)

// SQLModel is a table the schema bootstrap creates. Instance returns a Bun
// struct pointer; tables with a lower Priority are created first.
type SQLModel interface {
	Instance() interface{}
	Priority() int
}

// ModelRegistry stores SQL models and exposes them in a deterministic order.
type ModelRegistry interface {
	Register(model SQLModel)
	Models() []SQLModel
}

var defaultRegistry = newModelRegistry()

type modelRegistry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]SQLModel
}

func newModelRegistry() ModelRegistry {
	return &modelRegistry{byType: make(map[reflect.Type]SQLModel)}
}

// Register adds model. Models that are not struct pointers, and a second
// model of an already registered type, are ignored.
func (r *modelRegistry) Register(model SQLModel) {
	typ := reflect.TypeOf(model.Instance())
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		GetLogger().Warn("Ignoring model that is not a struct pointer", "type", typ)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byType[typ]; !dup {
		r.byType[typ] = model
	}
}

// Models returns the models ordered by priority, then by type name.
func (r *modelRegistry) Models() []SQLModel {
	r.mu.RLock()
	out := make([]SQLModel, 0, len(r.byType))
	for _, m := range r.byType {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if pi, pj := out[i].Priority(), out[j].Priority(); pi != pj {
			return pi < pj
		}
		return getModelName(out[i].Instance()) < getModelName(out[j].Instance())
	})
	return out
}

type ModelAdapter struct {
	instance interface{}
	priority int
}

// NewModelAdapter wraps a struct pointer and priority into an SQLModel.
func NewModelAdapter(instance interface{}, priority int) SQLModel {
	return &ModelAdapter{instance: instance, priority: priority}
}

func (a *ModelAdapter) Instance() interface{} { return a.instance }

func (a *ModelAdapter) Priority() int { return a.priority }

// GetRegisteredModels returns the models of the default registry.
func GetRegisteredModels() []SQLModel {
	return defaultRegistry.Models()
}

// RegisteredModel adds a model to the default registry.
func RegisteredModel(model SQLModel) {
	defaultRegistry.Register(model)
}

func RegisteredModelInstances() []interface{} {
	models := GetRegisteredModels()
	out := make([]interface{}, len(models))
	for i, m := range models {
		out[i] = m.Instance()
	}
	return out
}
