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

package query

import (
	"github.com/tomoncle/contacts/types"
)

// Kind is the value category of a field. It decides which restrictions,
// orders and projections the field accepts.
type Kind int

const (
	KindInt Kind = iota
	KindText
	KindBool
	KindEnum
	KindJSON
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	case KindJSON:
		return "json"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Field binds an entity field name to its column.
type Field struct {
	Name     string
	Column   string
	Kind     Kind
	Sortable bool
}

// IntField declares a sortable integer field.
func IntField(name, column string) Field {
	return Field{Name: name, Column: column, Kind: KindInt, Sortable: true}
}

// TextField declares a sortable text field.
func TextField(name, column string) Field {
	return Field{Name: name, Column: column, Kind: KindText, Sortable: true}
}

// BoolField declares a boolean field.
func BoolField(name, column string) Field {
	return Field{Name: name, Column: column, Kind: KindBool, Sortable: true}
}

// EnumField declares an enum field stored as its ordinal.
func EnumField(name, column string) Field {
	return Field{Name: name, Column: column, Kind: KindEnum, Sortable: true}
}

// TimeField declares a sortable timestamp field.
func TimeField(name, column string) Field {
	return Field{Name: name, Column: column, Kind: KindTime, Sortable: true}
}

// JSONField declares an opaque document field. It can only be tested for
// NULL and cannot be sorted.
func JSONField(name, column string) Field {
	return Field{Name: name, Column: column, Kind: KindJSON}
}

// Schema is the field vocabulary of one table.
type Schema struct {
	Table string

	primaryKey string
	softDelete string
	version    string
	fields     map[string]Field
	names      []string
}

// NewSchema creates a schema for table. The field named "id" is the primary
// key unless PrimaryKey says otherwise.
func NewSchema(table string, fields ...Field) *Schema {
	s := &Schema{
		Table:      table,
		primaryKey: "id",
		fields:     make(map[string]Field, len(fields)),
	}
	for _, f := range fields {
		if _, dup := s.fields[f.Name]; !dup {
			s.names = append(s.names, f.Name)
		}
		s.fields[f.Name] = f
	}
	return s
}

// PrimaryKey names the identifier field.
func (s *Schema) PrimaryKey(field string) *Schema {
	s.primaryKey = field
	return s
}

// SoftDelete names the boolean column marking logically deleted rows.
func (s *Schema) SoftDelete(column string) *Schema {
	s.softDelete = column
	return s
}

// Version names the integer column holding the optimistic lock token.
func (s *Schema) Version(column string) *Schema {
	s.version = column
	return s
}

// Field resolves a field by name.
func (s *Schema) Field(name string) (Field, error) {
	f, ok := s.fields[name]
	if !ok {
		return Field{}, types.Errorf(types.ErrInvalidSpecification, "unknown field %q on %s", name, s.Table)
	}
	return f, nil
}

// Fields returns the fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.fields[name])
	}
	return out
}

// PrimaryKeyColumn returns the column of the identifier field.
func (s *Schema) PrimaryKeyColumn() string {
	if f, ok := s.fields[s.primaryKey]; ok {
		return f.Column
	}
	return s.primaryKey
}

// SoftDeleteColumn returns the soft-delete column, empty when the table has none.
func (s *Schema) SoftDeleteColumn() string { return s.softDelete }

// VersionColumn returns the lock token column, empty when the table has none.
func (s *Schema) VersionColumn() string { return s.version }

// isManaged reports whether column is maintained by the data-access layer
// and therefore closed to patches.
func (s *Schema) isManaged(column string) bool {
	return column == s.PrimaryKeyColumn() ||
		(s.softDelete != "" && column == s.softDelete) ||
		(s.version != "" && column == s.version)
}
