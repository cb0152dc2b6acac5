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

import "github.com/tomoncle/contacts/types"

// Restriction is a node of a filter tree. The set of nodes is closed: the
// builder switches over exactly the types declared here.
type Restriction interface {
	restriction()
}

// Equal matches rows whose field equals Value.
type Equal struct {
	Field string
	Value interface{}
}

// StartsWith matches text fields beginning with Prefix. Wildcards in Prefix
// match literally.
type StartsWith struct {
	Field  string
	Prefix string
}

// Between matches values within [Lower, Upper]. A nil bound leaves that side
// of the range open.
type Between struct {
	Field string
	Lower interface{}
	Upper interface{}
}

// In matches rows whose field equals one of Values.
type In struct {
	Field  string
	Values []interface{}
}

// Null matches rows whose field is NULL, or not NULL when Not is set.
type Null struct {
	Field string
	Not   bool
}

// And matches rows satisfying every child.
type And struct {
	Restrictions []Restriction
}

// Or matches rows satisfying at least one child.
type Or struct {
	Restrictions []Restriction
}

func (Equal) restriction()      {}
func (StartsWith) restriction() {}
func (Between) restriction()    {}
func (In) restriction()         {}
func (Null) restriction()       {}
func (And) restriction()        {}
func (Or) restriction()         {}

func Eq(field string, value interface{}) Restriction {
	return Equal{Field: field, Value: value}
}

func Prefix(field, prefix string) Restriction {
	return StartsWith{Field: field, Prefix: prefix}
}

func Range(field string, lower, upper interface{}) Restriction {
	return Between{Field: field, Lower: lower, Upper: upper}
}

func AnyOf(field string, values ...interface{}) Restriction {
	return In{Field: field, Values: values}
}

// InValues is AnyOf for a typed slice.
func InValues[V any](field string, values []V) Restriction {
	vals := make([]interface{}, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return In{Field: field, Values: vals}
}

func IsNull(field string) Restriction {
	return Null{Field: field}
}

func NotNull(field string) Restriction {
	return Null{Field: field, Not: true}
}

// All combines restrictions with AND, dropping nil children.
func All(restrictions ...Restriction) Restriction {
	return And{Restrictions: compact(restrictions)}
}

// Any combines restrictions with OR, dropping nil children.
func Any(restrictions ...Restriction) Restriction {
	return Or{Restrictions: compact(restrictions)}
}

func compact(restrictions []Restriction) []Restriction {
	out := make([]Restriction, 0, len(restrictions))
	for _, r := range restrictions {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Selection is a complete read specification.
type Selection struct {
	Where   Restriction
	OrderBy []Order
	Page    *types.PageRequest
}

// Patch assigns new values to fields, keyed by field name. A nil value
// clears the field.
type Patch map[string]interface{}

// Set returns p with field assigned to value.
func (p Patch) Set(field string, value interface{}) Patch {
	if p == nil {
		p = Patch{}
	}
	p[field] = value
	return p
}
