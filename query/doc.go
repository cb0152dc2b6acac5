// Package query describes reads and bulk writes as data: a field schema, a
// restriction tree, sort orders, pages, patches and scalar projections. A
// Builder resolves them against a schema and applies them to Bun queries, so
// callers never hand-write SQL.
package query
