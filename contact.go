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

package contacts

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"github.com/tomoncle/contacts/database"
	"github.com/tomoncle/contacts/query"
	"github.com/tomoncle/contacts/types"
)

// ContactType classifies a contact. It is stored as its ordinal.
type ContactType int

const (
	Personal ContactType = iota
	Business
)

var (
	_ types.BaseEnum = Personal
	_ driver.Valuer  = Personal
)

var contactTypeNames = [...]string{"PERSONAL", "BUSINESS"}

// ContactTypes lists every contact type.
func ContactTypes() []ContactType {
	return []ContactType{Personal, Business}
}

// ParseContactType resolves a contact type by name, ignoring case.
func ParseContactType(name string) (ContactType, error) {
	if t, ok := types.LookupEnum(ContactTypes(), name); ok {
		return t, nil
	}
	return ContactType(types.IllegalValue), types.Errorf(types.ErrValidation, "unknown contact type %q", name)
}

func (t ContactType) IsValid() bool {
	return t >= Personal && int(t) < len(contactTypeNames)
}

func (t ContactType) Number() int {
	if !t.IsValid() {
		return types.IllegalValue
	}
	return int(t)
}

func (t ContactType) Name() string {
	if !t.IsValid() {
		return types.IllegalName
	}
	return contactTypeNames[t]
}

func (t ContactType) String() string { return t.Name() }

func (t ContactType) Desc() string {
	switch t {
	case Personal:
		return "private person"
	case Business:
		return "company or organization"
	default:
		return types.IllegalDesc
	}
}

func (t ContactType) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, types.Errorf(types.ErrValidation, "invalid contact type %d", int(t))
	}
	return []byte(t.Name()), nil
}

func (t *ContactType) UnmarshalText(text []byte) error {
	v, err := ParseContactType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t ContactType) Value() (driver.Value, error) {
	if !t.IsValid() {
		return nil, types.Errorf(types.ErrValidation, "invalid contact type %d", int(t))
	}
	return int64(t), nil
}

func (t *ContactType) Scan(src interface{}) error {
	var n int64
	switch v := src.(type) {
	case int64:
		n = v
	case int32:
		n = int64(v)
	case []byte:
		if _, err := fmt.Sscan(string(v), &n); err != nil {
			return fmt.Errorf("scan contact type %q: %w", v, err)
		}
	case string:
		if _, err := fmt.Sscan(v, &n); err != nil {
			return fmt.Errorf("scan contact type %q: %w", v, err)
		}
	default:
		return fmt.Errorf("scan contact type: unsupported source %T", src)
	}
	*t = ContactType(n)
	return nil
}

// Contact field names understood by ContactSchema.
const (
	FieldID          = "id"
	FieldName        = "name"
	FieldPhoneNumber = "phoneNumber"
	FieldType        = "type"
	FieldPayload     = "payload"
	FieldDeleted     = "deleted"
	FieldVersion     = "version"
)

// Contact is a person or organization in the address book.
type Contact struct {
	bun.BaseModel `bun:"table:contacts,alias:c"`

	ID          int64              `bun:"id,pk,autoincrement" json:"id"`
	Name        *string            `bun:"name" json:"name,omitempty"`
	PhoneNumber *string            `bun:"phone_number" json:"phoneNumber,omitempty"`
	Type        *ContactType       `bun:"type,type:integer" json:"type,omitempty"`
	Payload     types.JSONDocument `bun:"payload,type:json" json:"payload,omitempty"`
	Deleted     bool               `bun:"deleted,notnull,default:false" json:"deleted"`
	Version     int64              `bun:"version,notnull,default:1" json:"version"`
}

var (
	_ bun.BeforeAppendModelHook = (*Contact)(nil)
	_ database.IndexedModel     = (*Contact)(nil)
)

// ContactSchema maps Contact fields to the contacts table.
func ContactSchema() *query.Schema {
	return query.NewSchema("contacts",
		query.IntField(FieldID, "id"),
		query.TextField(FieldName, "name"),
		query.TextField(FieldPhoneNumber, "phone_number"),
		query.EnumField(FieldType, "type"),
		query.JSONField(FieldPayload, "payload"),
		query.BoolField(FieldDeleted, "deleted"),
		query.IntField(FieldVersion, "version"),
	).SoftDelete("deleted").Version("version")
}

// Validate checks a contact before it is created.
func (c *Contact) Validate() error {
	if c.ID != 0 {
		return types.Errorf(types.ErrValidation, "id is assigned on insert, got %d", c.ID)
	}
	if blank(c.Name) && blank(c.PhoneNumber) {
		return types.Errorf(types.ErrValidation, "contact needs a name or a phone number")
	}
	if c.Type != nil && !c.Type.IsValid() {
		return types.Errorf(types.ErrValidation, "invalid contact type %d", int(*c.Type))
	}
	return c.Payload.Validate()
}

// BeforeAppendModel starts every inserted row live at version 1.
func (c *Contact) BeforeAppendModel(_ context.Context, q bun.Query) error {
	if c == nil {
		return nil
	}
	if _, ok := q.(*bun.InsertQuery); ok {
		c.Version = 1
		c.Deleted = false
	}
	return nil
}

func (c *Contact) LockVersion() int64 { return c.Version }

func (c *Contact) Indexes() []database.Index {
	return []database.Index{
		{Name: "idx_contacts_name", Columns: []string{"name"}},
		{Name: "idx_contacts_phone_number", Columns: []string{"phone_number"}},
	}
}

func (c *Contact) String() string {
	return fmt.Sprintf("Contact<%d %s %s v%d>", c.ID, deref(c.Name), deref(c.PhoneNumber), c.Version)
}

// Ptr returns a pointer to v, for optional contact fields.
func Ptr[V any](v V) *V { return &v }

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
