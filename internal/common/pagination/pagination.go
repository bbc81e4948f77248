// Package pagination pages list responses by page number and page size.
package pagination

import (
	"net/http"
	"strconv"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Params are the parsed page query parameters
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Offset is the index of the first item on the page
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Response is one page of results
type Response[T any] struct {
	Page         int `json:"page"`
	PerPage      int `json:"per_page"`
	TotalPages   int `json:"total_pages"`
	TotalResults int `json:"total_results"`
	Results      []T `json:"results"`
}

// ParseParams reads page and per_page, clamping them to valid values
func ParseParams(r *http.Request) Params {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	switch {
	case perPage < 1:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}
	return Params{Page: page, PerPage: perPage}
}

// Slice pages items that are already loaded in full. Results is never nil.
func Slice[T any](items []T, p Params) Response[T] {
	start := p.Offset()
	if start > len(items) {
		start = len(items)
	}
	end := start + p.PerPage
	if end > len(items) {
		end = len(items)
	}

	results := make([]T, end-start)
	copy(results, items[start:end])
	return Response[T]{
		Page:         p.Page,
		PerPage:      p.PerPage,
		TotalPages:   TotalPages(len(items), p.PerPage),
		TotalResults: len(items),
		Results:      results,
	}
}

// TotalPages is at least 1 for a positive page size
func TotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	if pages := (total + perPage - 1) / perPage; pages > 1 {
		return pages
	}
	return 1
}
