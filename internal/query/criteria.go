package query

import (
	"strings"

	"postkeeper/internal/model"
)

type FilterOperator string

const (
	Contains    FilterOperator = "contains"
	NotContains FilterOperator = "notContains"
	Equals      FilterOperator = "equals"
	NotEquals   FilterOperator = "notEquals"
	StartsWith  FilterOperator = "startsWith"
	EndsWith    FilterOperator = "endsWith"
)

// Operators lists the recognised filter operators.
var Operators = []FilterOperator{Contains, NotContains, Equals, NotEquals, StartsWith, EndsWith}

type SortDirection string

const (
	Asc  SortDirection = "asc"
	Desc SortDirection = "desc"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
)

type Pagination struct {
	Page  int
	Limit int
}

func NewPagination(page, limit int) (Pagination, error) {
	if page < 1 {
		return Pagination{}, model.Invalid("page", "must be greater than 0, got %d", page)
	}
	if limit < 1 {
		return Pagination{}, model.Invalid("limit", "must be greater than 0, got %d", limit)
	}
	return Pagination{Page: page, Limit: limit}, nil
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

type SortCriteria struct {
	Field     string
	Direction SortDirection
}

func NewSortCriteria(field string, direction SortDirection) (SortCriteria, error) {
	if strings.TrimSpace(field) == "" {
		return SortCriteria{}, model.Invalid("sort", "field cannot be empty")
	}
	switch direction {
	case Asc, Desc:
	default:
		return SortCriteria{}, model.Invalid("order", "direction must be %q or %q, got %q", Asc, Desc, direction)
	}
	return SortCriteria{Field: field, Direction: direction}, nil
}

func (s SortCriteria) Ascending() bool {
	return s.Direction == Asc
}

type FilterCriteria struct {
	Field    string
	Operator FilterOperator
	Value    string
}

// NewFilterCriteria only rejects an empty field. An unknown operator is kept
// and matches nothing.
func NewFilterCriteria(field string, op FilterOperator, value string) (FilterCriteria, error) {
	if strings.TrimSpace(field) == "" {
		return FilterCriteria{}, model.Invalid("filter", "field cannot be empty")
	}
	return FilterCriteria{Field: field, Operator: op, Value: value}, nil
}

// Matches tests data, the string form of a field, case-insensitively.
func (f FilterCriteria) Matches(data string) bool {
	want := strings.ToLower(f.Value)
	got := strings.ToLower(data)

	switch f.Operator {
	case Contains:
		return strings.Contains(got, want)
	case NotContains:
		return !strings.Contains(got, want)
	case Equals:
		return got == want
	case NotEquals:
		return got != want
	case StartsWith:
		return strings.HasPrefix(got, want)
	case EndsWith:
		return strings.HasSuffix(got, want)
	default:
		return false
	}
}

// Query bundles the parameters of one read.
type Query struct {
	Pagination Pagination
	Sort       *SortCriteria
	Filters    []FilterCriteria
}
