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
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/tomoncle/contacts/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// likeEscape is the LIKE escape character. Backslash is avoided because
// MySQL treats it as a string escape inside literals.
const likeEscape = "!"

var likeEscaper = strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")

// Builder applies selections, mutations and projections to Bun queries. It
// keeps no state between calls.
type Builder struct {
	schema  *Schema
	dialect dialect.Name

	// MaxLimit caps page sizes when positive.
	MaxLimit int
}

// NewBuilder returns a builder for schema rendering SQL for the named dialect.
func NewBuilder(schema *Schema, name dialect.Name) *Builder {
	return &Builder{schema: schema, dialect: name}
}

// Schema returns the schema the builder resolves fields against.
func (b *Builder) Schema() *Schema { return b.schema }

// Where compiles r into a Bun condition with ? placeholders and its arguments.
func (b *Builder) Where(r Restriction) (string, []interface{}, error) {
	if r == nil {
		return "", nil, types.Errorf(types.ErrInvalidSpecification, "nil restriction")
	}
	switch node := r.(type) {
	case Equal:
		return b.equal(node)
	case *Equal:
		return b.equal(*node)
	case StartsWith:
		return b.startsWith(node)
	case *StartsWith:
		return b.startsWith(*node)
	case Between:
		return b.between(node)
	case *Between:
		return b.between(*node)
	case In:
		return b.in(node)
	case *In:
		return b.in(*node)
	case Null:
		return b.null(node)
	case *Null:
		return b.null(*node)
	case And:
		return b.junction("AND", node.Restrictions)
	case *And:
		return b.junction("AND", node.Restrictions)
	case Or:
		return b.junction("OR", node.Restrictions)
	case *Or:
		return b.junction("OR", node.Restrictions)
	default:
		return "", nil, types.Errorf(types.ErrInvalidSpecification, "unsupported restriction %T", r)
	}
}

func (b *Builder) equal(eq Equal) (string, []interface{}, error) {
	f, err := b.comparable(eq.Field)
	if err != nil {
		return "", nil, err
	}
	v, err := bindValue(f, eq.Value)
	if err != nil {
		return "", nil, err
	}
	if v == nil {
		return "", nil, types.Errorf(types.ErrInvalidSpecification, "field %q: equality with nil, use IsNull", f.Name)
	}
	return "? = ?", []interface{}{bun.Ident(f.Column), v}, nil
}

func (b *Builder) startsWith(sw StartsWith) (string, []interface{}, error) {
	f, err := b.schema.Field(sw.Field)
	if err != nil {
		return "", nil, err
	}
	if f.Kind != KindText {
		return "", nil, types.Errorf(types.ErrInvalidSpecification, "field %q: prefix match on %s field", f.Name, f.Kind)
	}
	pattern := likeEscaper.Replace(sw.Prefix) + "%"
	return "? LIKE ? ESCAPE '" + likeEscape + "'", []interface{}{bun.Ident(f.Column), pattern}, nil
}

func (b *Builder) between(bt Between) (string, []interface{}, error) {
	f, err := b.comparable(bt.Field)
	if err != nil {
		return "", nil, err
	}
	if f.Kind == KindBool {
		return "", nil, types.Errorf(types.ErrInvalidSpecification, "field %q: range over bool field", f.Name)
	}
	lower, err := bindValue(f, bt.Lower)
	if err != nil {
		return "", nil, err
	}
	upper, err := bindValue(f, bt.Upper)
	if err != nil {
		return "", nil, err
	}
	col := bun.Ident(f.Column)
	switch {
	case lower != nil && upper != nil:
		return "? BETWEEN ? AND ?", []interface{}{col, lower, upper}, nil
	case lower != nil:
		return "? >= ?", []interface{}{col, lower}, nil
	case upper != nil:
		return "? <= ?", []interface{}{col, upper}, nil
	default:
		return "", nil, types.Errorf(types.ErrInvalidSpecification, "field %q: range without bounds", f.Name)
	}
}

func (b *Builder) in(in In) (string, []interface{}, error) {
	f, err := b.comparable(in.Field)
	if err != nil {
		return "", nil, err
	}
	if len(in.Values) == 0 {
		return "", nil, types.Errorf(types.ErrInvalidSpecification, "field %q: empty value set", f.Name)
	}
	values := make([]interface{}, 0, len(in.Values))
	for _, raw := range in.Values {
		v, err := bindValue(f, raw)
		if err != nil {
			return "", nil, err
		}
		if v == nil {
			return "", nil, types.Errorf(types.ErrInvalidSpecification, "field %q: nil in value set", f.Name)
		}
		values = append(values, v)
	}
	return "? IN (?)", []interface{}{bun.Ident(f.Column), bun.In(values)}, nil
}

func (b *Builder) null(n Null) (string, []interface{}, error) {
	f, err := b.schema.Field(n.Field)
	if err != nil {
		return "", nil, err
	}
	if n.Not {
		return "? IS NOT NULL", []interface{}{bun.Ident(f.Column)}, nil
	}
	return "? IS NULL", []interface{}{bun.Ident(f.Column)}, nil
}

func (b *Builder) junction(op string, children []Restriction) (string, []interface{}, error) {
	if len(children) == 0 {
		return "", nil, types.Errorf(types.ErrInvalidSpecification, "empty %s", op)
	}
	parts := make([]string, 0, len(children))
	var args []interface{}
	for _, child := range children {
		sql, childArgs, err := b.Where(child)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		args = append(args, childArgs...)
	}
	if len(parts) == 1 {
		return parts[0], args, nil
	}
	return strings.Join(parts, " "+op+" "), args, nil
}

// comparable resolves a field that takes part in value comparisons.
func (b *Builder) comparable(name string) (Field, error) {
	f, err := b.schema.Field(name)
	if err != nil {
		return Field{}, err
	}
	if f.Kind == KindJSON {
		return Field{}, types.Errorf(types.ErrInvalidSpecification, "field %q: documents can only be tested for NULL", f.Name)
	}
	return f, nil
}

// Select applies the restriction, orders and page of sel to q.
func (b *Builder) Select(q *bun.SelectQuery, sel Selection) (*bun.SelectQuery, error) {
	if sel.Where != nil {
		sql, args, err := b.Where(sel.Where)
		if err != nil {
			return nil, err
		}
		q = q.Where(sql, args...)
	}
	q, err := b.Order(q, sel.OrderBy...)
	if err != nil {
		return nil, err
	}
	return b.Page(q, sel.Page)
}

// Order appends orders to q. NULL precedence is emulated where the dialect
// has no NULLS FIRST/LAST.
func (b *Builder) Order(q *bun.SelectQuery, orders ...Order) (*bun.SelectQuery, error) {
	for _, o := range orders {
		f, err := b.schema.Field(o.Field)
		if err != nil {
			return nil, err
		}
		if !f.Sortable {
			return nil, types.Errorf(types.ErrInvalidSpecification, "field %q is not sortable", f.Name)
		}
		if o.IgnoreCase && f.Kind != KindText {
			return nil, types.Errorf(types.ErrInvalidSpecification, "field %q: case-insensitive order on %s field", f.Name, f.Kind)
		}
		expr := "?"
		if o.IgnoreCase {
			expr = "lower(?)"
		}
		col := bun.Ident(f.Column)
		switch {
		case o.Nulls == NullsDefault:
			q = q.OrderExpr(expr+" "+o.direction(), col)
		case b.dialect == dialect.MySQL:
			nullsDir := "ASC"
			if o.Nulls == NullsFirst {
				nullsDir = "DESC"
			}
			q = q.OrderExpr("? IS NULL "+nullsDir, col).OrderExpr(expr+" "+o.direction(), col)
		case o.Nulls == NullsFirst:
			q = q.OrderExpr(expr+" "+o.direction()+" NULLS FIRST", col)
		default:
			q = q.OrderExpr(expr+" "+o.direction()+" NULLS LAST", col)
		}
	}
	return q, nil
}

// Page bounds q by page. A nil page leaves q unbounded.
func (b *Builder) Page(q *bun.SelectQuery, page *types.PageRequest) (*bun.SelectQuery, error) {
	if page == nil {
		return q, nil
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if b.MaxLimit > 0 && page.Limit > b.MaxLimit {
		return nil, types.Errorf(types.ErrInvalidSpecification, "page limit %d exceeds %d", page.Limit, b.MaxLimit)
	}
	return q.Offset(page.Offset).Limit(page.Limit), nil
}

// Mutate restricts a bulk update to the rows matching r. Unlike reads, a bulk
// mutation requires a restriction.
func (b *Builder) Mutate(q *bun.UpdateQuery, r Restriction) (*bun.UpdateQuery, error) {
	if r == nil {
		return nil, types.Errorf(types.ErrInvalidSpecification, "bulk mutation without restriction")
	}
	sql, args, err := b.Where(r)
	if err != nil {
		return nil, err
	}
	return q.Where(sql, args...), nil
}

// Assign adds one SET clause per patched field. Identifier, soft-delete and
// version columns are maintained by the repository and cannot be patched.
func (b *Builder) Assign(q *bun.UpdateQuery, patch Patch) (*bun.UpdateQuery, error) {
	if len(patch) == 0 {
		return nil, types.Errorf(types.ErrValidation, "no values to be updated")
	}
	for name := range patch {
		if _, err := b.schema.Field(name); err != nil {
			return nil, err
		}
	}
	// Walk schema order so the statement text is stable.
	for _, f := range b.schema.Fields() {
		raw, ok := patch[f.Name]
		if !ok {
			continue
		}
		if b.schema.isManaged(f.Column) {
			return nil, types.Errorf(types.ErrValidation, "field %q cannot be updated", f.Name)
		}
		v, err := assignValue(f, raw)
		if err != nil {
			return nil, err
		}
		if v == nil {
			q = q.Set("? = NULL", bun.Ident(f.Column))
			continue
		}
		q = q.Set("? = ?", bun.Ident(f.Column), v)
	}
	return q, nil
}

// Project replaces the selected columns of q with the projection expression.
func (b *Builder) Project(q *bun.SelectQuery, p Projection) (*bun.SelectQuery, error) {
	if p.op == opID {
		return q.ColumnExpr("?", bun.Ident(b.schema.PrimaryKeyColumn())), nil
	}
	f, err := b.schema.Field(p.field)
	if err != nil {
		return nil, err
	}
	col := bun.Ident(f.Column)
	switch p.op {
	case opColumn:
		return q.ColumnExpr("?", col), nil
	case opCastInt:
		if f.Kind != KindText && f.Kind != KindInt {
			return nil, types.Errorf(types.ErrInvalidSpecification, "field %q: integer cast of %s field", f.Name, f.Kind)
		}
		switch b.dialect {
		case dialect.MySQL:
			return q.ColumnExpr("CAST(? AS SIGNED)", col), nil
		default:
			return q.ColumnExpr("CAST(? AS INTEGER)", col), nil
		}
	}
	if f.Kind != KindText {
		return nil, types.Errorf(types.ErrInvalidSpecification, "field %q: text function on %s field", f.Name, f.Kind)
	}
	switch p.op {
	case opLeft, opRight:
		if p.n < 0 {
			return nil, types.Errorf(types.ErrInvalidSpecification, "field %q: negative length %d", f.Name, p.n)
		}
		if b.dialect == dialect.SQLite {
			if p.op == opLeft {
				return q.ColumnExpr("substr(?, 1, ?)", col, p.n), nil
			}
			return q.ColumnExpr("substr(?, -?)", col, p.n), nil
		}
		if p.op == opLeft {
			return q.ColumnExpr("left(?, ?)", col, p.n), nil
		}
		return q.ColumnExpr("right(?, ?)", col, p.n), nil
	case opReplace:
		return q.ColumnExpr("replace(?, ?, ?)", col, p.from, p.to), nil
	case opLower:
		return q.ColumnExpr("lower(?)", col), nil
	default:
		return nil, types.Errorf(types.ErrInvalidSpecification, "unsupported projection")
	}
}

// bindValue converts a restriction operand to the value bound for f. Nil and
// nil pointers yield nil.
func bindValue(f Field, value interface{}) (interface{}, error) {
	value = deref(value)
	if value == nil {
		return nil, nil
	}
	mismatch := func() error {
		return types.Errorf(types.ErrInvalidSpecification, "field %q: %T is not a %s value", f.Name, value, f.Kind)
	}
	switch f.Kind {
	case KindInt:
		n, ok := toInt64(value)
		if !ok {
			return nil, mismatch()
		}
		return n, nil
	case KindText:
		s, ok := value.(string)
		if !ok {
			return nil, mismatch()
		}
		return s, nil
	case KindBool:
		v, ok := value.(bool)
		if !ok {
			return nil, mismatch()
		}
		return v, nil
	case KindEnum:
		if e, ok := value.(types.BaseEnum); ok {
			if !e.IsValid() {
				return nil, types.Errorf(types.ErrInvalidSpecification, "field %q: invalid enum value %v", f.Name, value)
			}
			return int64(e.Number()), nil
		}
		n, ok := toInt64(value)
		if !ok {
			return nil, mismatch()
		}
		return n, nil
	case KindTime:
		t, ok := value.(time.Time)
		if !ok {
			return nil, mismatch()
		}
		return t, nil
	default:
		return nil, mismatch()
	}
}

// assignValue is bindValue for patches, which may also carry documents.
func assignValue(f Field, value interface{}) (interface{}, error) {
	if f.Kind != KindJSON {
		return bindValue(f, value)
	}
	value = deref(value)
	var doc types.JSONDocument
	switch v := value.(type) {
	case nil:
		return nil, nil
	case types.JSONDocument:
		doc = v
	case json.RawMessage:
		doc = types.JSONDocument(v)
	case string:
		doc = types.JSONDocument(v)
	case []byte:
		doc = types.JSONDocument(v)
	default:
		var err error
		if doc, err = types.NewJSONDocument(v); err != nil {
			return nil, err
		}
	}
	if doc.IsZero() {
		return nil, nil
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func deref(value interface{}) interface{} {
	if value == nil {
		return nil
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

func toInt64(value interface{}) (int64, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	default:
		return 0, false
	}
}
