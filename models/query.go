package models

import (
	"net/url"
	"strconv"
	"strings"
)

// Pagination defaults for the listing routes.
const (
	DefaultPage          = 1
	DefaultPageSize      = 10
	DefaultFeaturedLimit = 5
)

// ArticleQuery is the store-agnostic filter/sort/page plan. Every adapter
// (the postgres service and the in-memory store) translates the same plan, so
// the filter semantics cannot drift between them.
//
// The base predicate published=true is applied unconditionally by every
// adapter and cannot be disabled by any parameter combination.
type ArticleQuery struct {
	Search   string
	Category string
	Type     string
	Year     int // 0 means no year filter
	Featured bool
	Page     int
	Limit    int
}

// ParseArticleQuery builds a plan from request query parameters. Malformed
// numeric parameters are treated as absent rather than rejected, so bad
// client filters degrade to default-paginated results instead of a 4xx.
func ParseArticleQuery(values url.Values) ArticleQuery {
	q := ArticleQuery{Page: DefaultPage, Limit: DefaultPageSize}
	q.Search = strings.TrimSpace(values.Get("search"))
	q.Category = strings.TrimSpace(values.Get("category"))
	q.Type = strings.TrimSpace(values.Get("type"))
	if y, err := strconv.Atoi(values.Get("year")); err == nil {
		q.Year = y
	}
	q.Featured = values.Get("featured") == "true"
	if p, err := strconv.Atoi(values.Get("page")); err == nil && p > 0 {
		q.Page = p
	}
	if l, err := strconv.Atoi(values.Get("limit")); err == nil && l > 0 {
		q.Limit = l
	}
	return q
}

// ParseLimit reads a bare limit parameter with a permissive fallback.
func ParseLimit(raw string, fallback int) int {
	if l, err := strconv.Atoi(raw); err == nil && l > 0 {
		return l
	}
	return fallback
}

// Offset returns the number of matching rows to skip after filter and sort.
func (q ArticleQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}
