package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PaginationParams is a page request read from ?page=&limit=.
type PaginationParams struct {
	Page     int
	PageSize int
	Offset   int
}

// Page is one slice of a listing plus the total it was cut from.
type Page[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}

// GetPaginationParams extracts pagination parameters from request
func GetPaginationParams(c echo.Context) PaginationParams {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("limit"))
	return NewPaginationParams(page, pageSize)
}

func NewPaginationParams(page, pageSize int) PaginationParams {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	return PaginationParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   (page - 1) * pageSize,
	}
}

// Paginate cuts p out of items. A page past the end is empty, never nil.
func Paginate[T any](items []T, p PaginationParams) Page[T] {
	out := Page[T]{Items: []T{}, Page: p.Page, PageSize: p.PageSize, Total: len(items)}
	if p.Offset >= len(items) {
		return out
	}
	end := p.Offset + p.PageSize
	if end > len(items) {
		end = len(items)
	}
	out.Items = items[p.Offset:end]
	return out
}
