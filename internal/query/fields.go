package query

import (
	"sort"
	"strconv"

	"postkeeper/internal/model"
)

// Value is a field read through a Registry: either a number or a string.
type Value struct {
	Num     float64
	Str     string
	Numeric bool
}

func Number(n int) Value { return Value{Num: float64(n), Numeric: true} }

func Text(s string) Value { return Value{Str: s} }

func (v Value) String() string {
	if v.Numeric {
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	}
	return v.Str
}

// Registry maps a field name to its extractor.
type Registry[T any] map[string]func(T) Value

// Lookup returns the field's value, or the empty string for an unknown field.
func (r Registry[T]) Lookup(rec T, field string) Value {
	extract, ok := r[field]
	if !ok {
		return Text("")
	}
	return extract(rec)
}

func (r Registry[T]) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check rejects sort and filter fields the registry does not know.
func (r Registry[T]) Check(q Query) error {
	if q.Sort != nil {
		if _, ok := r[q.Sort.Field]; !ok {
			return model.Invalid("sort", "unknown field %q (known: %v)", q.Sort.Field, r.Names())
		}
	}
	for _, f := range q.Filters {
		if _, ok := r[f.Field]; !ok {
			return model.Invalid("filter", "unknown field %q (known: %v)", f.Field, r.Names())
		}
	}
	return nil
}

var PostFields = Registry[model.Post]{
	"id":     func(p model.Post) Value { return Number(p.ID) },
	"userId": func(p model.Post) Value { return Number(p.UserID) },
	"title":  func(p model.Post) Value { return Text(p.Title) },
	"body":   func(p model.Post) Value { return Text(p.Body) },
}

var UserFields = Registry[model.User]{
	"id":       func(u model.User) Value { return Number(u.ID) },
	"name":     func(u model.User) Value { return Text(u.Name) },
	"username": func(u model.User) Value { return Text(u.Username) },
	"email":    func(u model.User) Value { return Text(u.Email) },
	"phone":    func(u model.User) Value { return Text(u.Phone) },
	"website":  func(u model.User) Value { return Text(u.Website) },
	"city":     func(u model.User) Value { return Text(u.Address.City) },
	"company":  func(u model.User) Value { return Text(u.Company.Name) },
}
