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

// PageRequest bounds a read to Limit rows after skipping Offset rows.
// Limit is mandatory: a page without one is rejected rather than turned into
// an unbounded scan.
type PageRequest struct {
	Offset int
	Limit  int
}

// FirstPage returns the page holding the first limit rows.
func FirstPage(limit int) *PageRequest {
	return &PageRequest{Offset: 0, Limit: limit}
}

// NewPageRequest constructs a PageRequest from a 1-based page number and a
// page size.
func NewPageRequest(page int, pageSize int) *PageRequest {
	if page < 1 {
		page = 1
	}
	return &PageRequest{Offset: (page - 1) * pageSize, Limit: pageSize}
}

// Validate reports an invalid specification for a missing limit or a
// negative offset.
func (p *PageRequest) Validate() error {
	if p == nil {
		return nil
	}
	if p.Limit <= 0 {
		return Errorf(ErrInvalidSpecification, "page limit must be positive, got %d", p.Limit)
	}
	if p.Offset < 0 {
		return Errorf(ErrInvalidSpecification, "page offset must not be negative, got %d", p.Offset)
	}
	return nil
}

// Next returns the page following p.
func (p *PageRequest) Next() *PageRequest {
	return &PageRequest{Offset: p.Offset + p.Limit, Limit: p.Limit}
}

// Number returns the 1-based page number of p.
func (p *PageRequest) Number() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

// Pagination holds paged result items along with pagination metadata.
type Pagination[T any] struct {
	Offset int
	Limit  int
	Total  int
	Items  []*T
}

// NewPagination constructs an empty pagination container for page.
func NewPagination[T any](page *PageRequest) *Pagination[T] {
	return &Pagination[T]{Offset: page.Offset, Limit: page.Limit, Items: make([]*T, 0)}
}

// HasMore reports whether rows exist beyond this page.
func (p *Pagination[T]) HasMore() bool {
	return p.Offset+len(p.Items) < p.Total
}
