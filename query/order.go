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

// NullPrecedence places NULLs relative to other values in a sort.
type NullPrecedence int

const (
	NullsDefault NullPrecedence = iota
	NullsFirst
	NullsLast
)

// Order sorts by one field.
type Order struct {
	Field      string
	Descending bool
	Nulls      NullPrecedence
	IgnoreCase bool
}

func Asc(field string) Order {
	return Order{Field: field}
}

func Desc(field string) Order {
	return Order{Field: field, Descending: true}
}

// NullsFirst returns o sorting NULLs ahead of values.
func (o Order) NullsFirst() Order {
	o.Nulls = NullsFirst
	return o
}

// NullsLast returns o sorting NULLs after values.
func (o Order) NullsLast() Order {
	o.Nulls = NullsLast
	return o
}

// CaseInsensitive returns o comparing text by its lower-case form.
func (o Order) CaseInsensitive() Order {
	o.IgnoreCase = true
	return o
}

func (o Order) direction() string {
	if o.Descending {
		return "DESC"
	}
	return "ASC"
}
