package api

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"dataman/internal/dataman"
	"dataman/internal/jsonvalue"
	"dataman/internal/psqltype"
	"dataman/internal/registry"
)

// ==== Типы сортировки и параметров листинга ====

type SortKey struct {
	Field string
	Desc  bool
}

type ListParams struct {
	Limit   int
	Sort    []SortKey
	Filters map[string][]string
	Nulls   string // "" (как решит Postgres) | "first" | "last"
}

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// ==== Парсинг query-параметров ====

func parseListParams(q url.Values) ListParams {
	limit := defaultListLimit
	lv := q.Get("_limit")
	if lv == "" {
		lv = q.Get("limit")
	}
	if lv != "" {
		if n, err := strconv.Atoi(lv); err == nil && n > 0 && n <= maxListLimit {
			limit = n
		}
	}

	var sortKeys []SortKey
	sv := strings.TrimSpace(q.Get("_sort"))
	if sv == "" {
		sv = strings.TrimSpace(q.Get("sort"))
	}
	for _, p := range strings.Split(sv, ",") {
		p = strings.TrimSpace(p)
		desc := false
		if strings.HasPrefix(p, "-") {
			desc = true
			p = strings.TrimPrefix(p, "-")
		} else {
			p = strings.TrimPrefix(p, "+")
		}
		if p != "" {
			sortKeys = append(sortKeys, SortKey{Field: p, Desc: desc})
		}
	}

	nulls := strings.ToLower(strings.TrimSpace(q.Get("nulls")))
	if nulls != "first" && nulls != "last" {
		nulls = ""
	}

	// фильтры (исключаем служебные ключи)
	filters := make(map[string][]string)
	for key, vals := range q {
		switch key {
		case "limit", "sort", "_limit", "_sort", "nulls":
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				clean = append(clean, v)
			}
		}
		if len(clean) > 0 {
			filters[key] = clean
		}
	}

	return ListParams{Limit: limit, Sort: sortKeys, Filters: filters, Nulls: nulls}
}

// Request — fetch-запрос по параметрам листинга. Значение фильтра приводится к типу колонки:
// одно значение — равенство, несколько — $in, "null" — IS NULL.
func (p ListParams) Request(t *registry.Table) (dataman.Request, []FieldError) {
	var errs []FieldError

	names := make([]string, 0, len(p.Filters))
	for name := range p.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	var pairs []jsonvalue.Pair
	for _, name := range names {
		col, ok := t.Column(name)
		if !ok {
			errs = append(errs, ferr(ErrUnknownColumn, name, fmt.Sprintf("filter refers to unknown column '%s'", name)))
			continue
		}
		raw := p.Filters[name]
		if len(raw) == 1 && strings.EqualFold(raw[0], "null") {
			pairs = append(pairs, jsonvalue.Pair{Key: name, Value: jsonvalue.NewObject(
				jsonvalue.Pair{Key: "$is", Value: jsonvalue.NewNull()})})
			continue
		}
		vals := make([]jsonvalue.Value, 0, len(raw))
		for _, s := range raw {
			v, err := filterValue(col.Type, s)
			if err != nil {
				errs = append(errs, ferr(ErrTypeMismatch, name, fmt.Sprintf("Field '%s': %v", name, err)))
				break
			}
			vals = append(vals, v)
		}
		if len(vals) != len(raw) {
			continue
		}
		if len(vals) == 1 {
			pairs = append(pairs, jsonvalue.Pair{Key: name, Value: vals[0]})
		} else {
			pairs = append(pairs, jsonvalue.Pair{Key: name, Value: jsonvalue.NewObject(
				jsonvalue.Pair{Key: "$in", Value: jsonvalue.NewArray(vals...)})})
		}
	}

	var order []jsonvalue.Value
	for _, k := range p.Sort {
		if _, ok := t.Column(k.Field); !ok {
			errs = append(errs, ferr(ErrUnknownColumn, k.Field, fmt.Sprintf("sort refers to unknown column '%s'", k.Field)))
			continue
		}
		dir := "asc"
		if k.Desc {
			dir = "desc"
		}
		if p.Nulls != "" {
			dir += " nulls " + p.Nulls
		}
		order = append(order, jsonvalue.NewObject(jsonvalue.Pair{Key: k.Field, Value: jsonvalue.NewString(dir)}))
	}

	req := dataman.Request{
		Operation: dataman.OpFetch,
		Database:  t.Database,
		Table:     t.Qualified(),
		Limit:     dataman.Limit(p.Limit),
	}
	if len(pairs) > 0 {
		req.Criteria = dataman.Ptr(jsonvalue.NewObject(pairs...))
	}
	if len(order) > 0 {
		req.Order = dataman.Ptr(jsonvalue.NewArray(order...))
	}
	return req, errs
}

func filterValue(typ psqltype.Type, s string) (jsonvalue.Value, error) {
	switch typ.Kind {
	case psqltype.Integer, psqltype.SmallInt, psqltype.BigInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return jsonvalue.Value{}, fmt.Errorf("expected integer, got %q", s)
		}
		return jsonvalue.NewInt(n), nil
	case psqltype.Real, psqltype.DoublePrecision:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return jsonvalue.Value{}, fmt.Errorf("expected number, got %q", s)
		}
		return jsonvalue.NewDouble(f), nil
	case psqltype.Boolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return jsonvalue.Value{}, fmt.Errorf("expected bool, got %q", s)
		}
		return jsonvalue.NewBool(b), nil
	case psqltype.Array, psqltype.JSON, psqltype.JSONB:
		return jsonvalue.Value{}, fmt.Errorf("%s columns cannot be filtered from a query string", typ.SQLName())
	}
	// numeric, даты, uuid, текст — строкой, Postgres приведёт по cast
	return jsonvalue.NewString(s), nil
}

// GET /api/dataman/rows/:database/:table?sort=-created_at&limit=20&ip_address=10.0.0.1
func ListHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := s.Registry().Table(c.Param("database"), c.Param("table"))
		if err != nil {
			abortWith(c, err)
			return
		}
		req, errs := parseListParams(c.Request.URL.Query()).Request(t)
		if len(errs) > 0 {
			c.JSON(statusForErrors(errs), gin.H{"error": "invalid request", "errors": errs})
			return
		}
		if !s.prepare(c, &req) {
			return
		}
		res, err := s.Sender.Send(c.Request.Context(), req)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
