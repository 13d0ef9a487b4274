package api

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"dataman/internal/dataman"
	"dataman/internal/jsonvalue"
	"dataman/internal/psqltype"
	"dataman/internal/registry"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

const (
	ErrRequired      = "required"
	ErrTypeMismatch  = "type_mismatch"
	ErrUnknownColumn = "unknown_column"
	ErrTooLong       = "too_long"
	ErrNotFound      = "not_found"
)

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

func statusForErrors(errs []FieldError) int {
	for _, e := range errs {
		if e.Code == ErrNotFound {
			return http.StatusNotFound
		}
	}
	return http.StatusBadRequest
}

// ValidateRequest сверяет запрос с таблицей реестра. Имена колонок попадают в SQL как есть,
// поэтому неизвестные колонки в values/criteria/order отклоняются.
func ValidateRequest(t *registry.Table, req dataman.Request) []FieldError {
	var errs []FieldError

	known := func(name string) bool { _, ok := t.Column(name); return ok }

	if _, err := dataman.ParseOperation(string(req.Operation)); err != nil {
		errs = append(errs, ferr(ErrRequired, "operation", "operation must be one of fetch, create, update, delete"))
	}

	// типы колонок зарегистрированной таблицы задаёт реестр, cast-суффикс уходит в SQL
	typed := make([]string, 0, len(req.FieldTypes))
	for name := range req.FieldTypes {
		typed = append(typed, name)
	}
	sort.Strings(typed)
	for _, name := range typed {
		col, ok := t.Column(name)
		if !ok {
			errs = append(errs, ferr(ErrUnknownColumn, name, fmt.Sprintf("fieldTypes refers to unknown column '%s'", name)))
			continue
		}
		if got := req.FieldTypes[name]; !got.Equal(col.Type) {
			errs = append(errs, ferr(ErrTypeMismatch, name,
				fmt.Sprintf("Field '%s' is declared as %s, fieldTypes says %s", name, col.Type.SQLName(), got.String())))
		}
	}

	for _, name := range criteriaColumns(req.Criteria) {
		if !known(name) {
			errs = append(errs, ferr(ErrUnknownColumn, name, fmt.Sprintf("criteria refers to unknown column '%s'", name)))
		}
	}
	for _, e := range orderEntries(req.Order) {
		if !known(e.Key) {
			errs = append(errs, ferr(ErrUnknownColumn, e.Key, fmt.Sprintf("order refers to unknown column '%s'", e.Key)))
			continue
		}
		// направление тоже уходит в SQL текстом
		if dir, err := e.Value.StringValue(); err != nil || !orderDirection.MatchString(dir) {
			errs = append(errs, ferr(ErrTypeMismatch, e.Key, "order direction must be asc or desc, optionally with nulls first|last"))
		}
	}

	if req.Values != nil && req.Values.IsObject() {
		_ = req.Values.Each(func(name string, v jsonvalue.Value) error {
			col, ok := t.Column(name)
			if !ok {
				errs = append(errs, ferr(ErrUnknownColumn, name, fmt.Sprintf("unknown column '%s'", name)))
				return nil
			}
			if fe, bad := checkValue(col, v); bad {
				errs = append(errs, fe)
			}
			return nil
		})
	}

	if req.Operation == dataman.OpCreate && req.Values != nil {
		for _, col := range t.Columns {
			if !col.Required || col.Identity || col.Default != "" {
				continue
			}
			v, ok := req.Values.Get(col.Name)
			if !ok || v.IsNull() {
				errs = append(errs, ferr(ErrRequired, col.Name, "Field '"+col.Name+"' is required"))
			}
		}
	}
	return errs
}

// checkValue: строки пропускаем почти везде (Postgres сам приведёт "10.00", даты, uuid),
// грубые несовпадения вида {"age": true} ловим здесь.
func checkValue(col registry.Column, v jsonvalue.Value) (FieldError, bool) {
	if v.IsNull() {
		if col.Required && col.Default == "" && !col.Identity {
			return ferr(ErrRequired, col.Name, "Field '"+col.Name+"' cannot be null"), true
		}
		return FieldError{}, false
	}
	mismatch := func(want string) (FieldError, bool) {
		return ferr(ErrTypeMismatch, col.Name, fmt.Sprintf("Field '%s' expected %s, got %s", col.Name, want, v.Kind())), true
	}

	switch col.Type.Kind {
	case psqltype.Integer, psqltype.SmallInt, psqltype.BigInt:
		if v.Kind() != jsonvalue.Int && v.Kind() != jsonvalue.String {
			return mismatch("integer")
		}
	case psqltype.Real, psqltype.DoublePrecision, psqltype.Numeric:
		if v.Kind() != jsonvalue.Int && v.Kind() != jsonvalue.Double && v.Kind() != jsonvalue.String {
			return mismatch("number")
		}
	case psqltype.Boolean:
		if v.Kind() != jsonvalue.Bool && v.Kind() != jsonvalue.String {
			return mismatch("bool")
		}
	case psqltype.Text, psqltype.Varchar, psqltype.Char, psqltype.UUID, psqltype.Bytea,
		psqltype.Timestamp, psqltype.Timestamptz, psqltype.Date, psqltype.Time, psqltype.TimeTZ:
		if v.IsArray() || v.IsObject() {
			return mismatch(col.Type.SQLName())
		}
		if col.Type.Length != nil && v.Kind() == jsonvalue.String {
			s, _ := v.StringValue()
			if n := utf8.RuneCountInString(s); n > *col.Type.Length {
				return ferr(ErrTooLong, col.Name, fmt.Sprintf("Field '%s' is longer than %d characters", col.Name, *col.Type.Length)), true
			}
		}
	case psqltype.Array:
		if !v.IsArray() {
			return mismatch("array")
		}
	}
	return FieldError{}, false
}

// criteriaColumns — имена полей в дереве criteria (без операторов).
func criteriaColumns(criteria *jsonvalue.Value) []string {
	if criteria == nil {
		return nil
	}
	var out []string
	var walk func(v jsonvalue.Value)
	walk = func(v jsonvalue.Value) {
		switch {
		case v.IsArray():
			items, _ := v.ArrayValue()
			for _, it := range items {
				walk(it)
			}
		case v.IsObject():
			_ = v.Each(func(k string, child jsonvalue.Value) error {
				if k == "$and" || k == "$or" {
					walk(child)
					return nil
				}
				if !strings.HasPrefix(k, "$") {
					out = append(out, k)
				}
				return nil
			})
		}
	}
	walk(*criteria)
	return out
}

var orderDirection = regexp.MustCompile(`(?i)^(asc|desc)( nulls (first|last))?$`)

func orderEntries(order *jsonvalue.Value) []jsonvalue.Pair {
	if order == nil {
		return nil
	}
	var out []jsonvalue.Pair
	collect := func(v jsonvalue.Value) {
		_ = v.Each(func(k string, dir jsonvalue.Value) error {
			out = append(out, jsonvalue.Pair{Key: k, Value: dir})
			return nil
		})
	}
	if order.IsArray() {
		items, _ := order.ArrayValue()
		for _, it := range items {
			collect(it)
		}
	} else {
		collect(*order)
	}
	return out
}
