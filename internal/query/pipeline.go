package query

import (
	"cmp"

	"golang.org/x/exp/slices"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Page is the paginated answer to a Query.
type Page[T any] struct {
	Data       []T `json:"data"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// Pipeline reads fields through a Registry and orders text with the
// collation rules of lang.
type Pipeline[T any] struct {
	fields Registry[T]
	lang   language.Tag
}

func NewPipeline[T any](fields Registry[T], lang language.Tag) *Pipeline[T] {
	return &Pipeline[T]{fields: fields, lang: lang}
}

func (p *Pipeline[T]) Fields() Registry[T] {
	return p.fields
}

// Run applies filter, sort and paginate in that order.
func (p *Pipeline[T]) Run(records []T, q Query) Page[T] {
	filtered := p.Filter(records, q.Filters)
	sorted := p.Sort(filtered, q.Sort)
	return Paginate(sorted, q.Pagination)
}

// Filter keeps the records that satisfy every criterion.
func (p *Pipeline[T]) Filter(records []T, filters []FilterCriteria) []T {
	if len(filters) == 0 {
		return records
	}
	out := make([]T, 0, len(records))
	for _, rec := range records {
		if p.matchesAll(rec, filters) {
			out = append(out, rec)
		}
	}
	return out
}

func (p *Pipeline[T]) matchesAll(rec T, filters []FilterCriteria) bool {
	for _, f := range filters {
		if !f.Matches(p.fields.Lookup(rec, f.Field).String()) {
			return false
		}
	}
	return true
}

// Sort returns a sorted copy; with no criteria the input order is kept.
func (p *Pipeline[T]) Sort(records []T, s *SortCriteria) []T {
	if s == nil {
		return records
	}
	out := slices.Clone(records)
	// a Collator keeps scratch buffers, one per call
	col := collate.New(p.lang)
	slices.SortStableFunc(out, func(a, b T) int {
		c := compareValues(col, p.fields.Lookup(a, s.Field), p.fields.Lookup(b, s.Field))
		if s.Ascending() {
			return c
		}
		return -c
	})
	return out
}

func compareValues(col *collate.Collator, a, b Value) int {
	if a.Numeric && b.Numeric {
		return cmp.Compare(a.Num, b.Num)
	}
	return col.CompareString(a.String(), b.String())
}

// Paginate slices out [offset, offset+limit). Pages past the end are empty
// but still report the total.
func Paginate[T any](records []T, pg Pagination) Page[T] {
	total := len(records)
	totalPages := total / pg.Limit
	if total%pg.Limit != 0 {
		totalPages++
	}

	data := []T{}
	if pg.Page <= totalPages {
		start := pg.Offset()
		end := min(start+pg.Limit, total)
		data = append(data, records[start:end]...)
	}
	return Page[T]{
		Data:       data,
		Total:      total,
		Page:       pg.Page,
		Limit:      pg.Limit,
		TotalPages: totalPages,
	}
}
