package shared

import (
	"net/url"
	"strconv"
)

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

// Pagination describes a page request for listings.
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
}

// NewPagination clamps page and perPage into valid ranges.
func NewPagination(page, perPage int) Pagination {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page <= 0 {
		page = 1
	}
	return Pagination{Page: page, PerPage: perPage}
}

// PaginationFromQuery reads page and per_page query parameters.
func PaginationFromQuery(values url.Values) Pagination {
	page, _ := strconv.Atoi(values.Get("page"))
	perPage, _ := strconv.Atoi(values.Get("per_page"))
	return NewPagination(page, perPage)
}

// Offset returns the number of rows to skip.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}
