// Package repository provides typed repositories over a database.Store:
// lookups by identifier with lock modes, filtered and paged reads, validated
// creates, optimistically locked updates, idempotent soft deletes and
// scalar projections. Every operation runs in one store scope and joins the
// scope carried by its context.
package repository
