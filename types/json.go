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

package types

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONDocument is an opaque JSON value stored as text. The layer enforces
// well-formedness only, never a schema.
//
// The zero value is an absent document and is stored as NULL.
type JSONDocument []byte

var (
	_ driver.Valuer    = JSONDocument(nil)
	_ json.Marshaler   = JSONDocument(nil)
	_ json.Unmarshaler = (*JSONDocument)(nil)
)

// ParseJSONDocument validates text and returns it as a document.
func ParseJSONDocument(text string) (JSONDocument, error) {
	doc := JSONDocument(bytes.TrimSpace([]byte(text)))
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// MustJSONDocument is like ParseJSONDocument but panics on invalid input.
func MustJSONDocument(text string) JSONDocument {
	doc, err := ParseJSONDocument(text)
	if err != nil {
		panic(err)
	}
	return doc
}

// NewJSONDocument marshals v into a document.
func NewJSONDocument(v interface{}) (JSONDocument, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, Errorf(ErrValidation, "payload: %v", err)
	}
	return JSONDocument(b), nil
}

// IsZero reports whether the document is absent.
func (d JSONDocument) IsZero() bool {
	return len(d) == 0
}

// Validate reports a validation error when the document is present but not
// valid JSON text.
func (d JSONDocument) Validate() error {
	if d.IsZero() {
		return nil
	}
	if !json.Valid(d) {
		return Errorf(ErrValidation, "payload is not valid JSON")
	}
	return nil
}

// Decode unmarshals the document into v.
func (d JSONDocument) Decode(v interface{}) error {
	if d.IsZero() {
		return fmt.Errorf("decode payload: %w", ErrNotFound)
	}
	return json.Unmarshal(d, v)
}

// Object decodes the document as a key/value tree.
func (d JSONDocument) Object() (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := d.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// Equal compares two documents semantically, ignoring whitespace and key order.
func (d JSONDocument) Equal(other JSONDocument) bool {
	if d.IsZero() || other.IsZero() {
		return d.IsZero() == other.IsZero()
	}
	var a, b interface{}
	if json.Unmarshal(d, &a) != nil || json.Unmarshal(other, &b) != nil {
		return bytes.Equal(d, other)
	}
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return bytes.Equal(ab, bb)
}

func (d JSONDocument) String() string {
	return string(d)
}

// Value implements driver.Valuer. Documents are bound as text so that json,
// jsonb and text columns all accept them.
func (d JSONDocument) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return string(d), nil
}

// Scan implements sql.Scanner.
func (d *JSONDocument) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*d = nil
		return nil
	case []byte:
		*d = append((*d)[:0], v...)
	case string:
		*d = JSONDocument(v)
	default:
		return fmt.Errorf("scan payload: unsupported type %T", value)
	}
	return d.Validate()
}

// MarshalJSON embeds the document verbatim.
func (d JSONDocument) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON keeps the raw document text.
func (d *JSONDocument) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*d = nil
		return nil
	}
	*d = append((*d)[:0], data...)
	return nil
}
