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

type projectionOp int

const (
	opColumn projectionOp = iota
	opID
	opLeft
	opRight
	opReplace
	opLower
	opCastInt
)

// Projection selects one scalar expression per row.
type Projection struct {
	op    projectionOp
	field string
	n     int
	from  string
	to    string
}

// Column projects a field as stored.
func Column(field string) Projection {
	return Projection{op: opColumn, field: field}
}

// ID projects the primary key.
func ID() Projection {
	return Projection{op: opID}
}

// Left projects the first n characters of a text field.
func Left(field string, n int) Projection {
	return Projection{op: opLeft, field: field, n: n}
}

// Right projects the last n characters of a text field.
func Right(field string, n int) Projection {
	return Projection{op: opRight, field: field, n: n}
}

// Replace projects a text field with every occurrence of from replaced by to.
func Replace(field, from, to string) Projection {
	return Projection{op: opReplace, field: field, from: from, to: to}
}

// Lower projects a text field in lower case.
func Lower(field string) Projection {
	return Projection{op: opLower, field: field}
}

// CastInt projects a field converted to an integer.
func CastInt(field string) Projection {
	return Projection{op: opCastInt, field: field}
}
