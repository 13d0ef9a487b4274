package dataman

import (
	"fmt"
	"strings"

	"dataman/internal/jsonvalue"
)

// Query — готовый SQL и бинды в порядке $1..$n.
type Query struct {
	SQL    string
	Params []Bind
}

// IsEmpty — «пустой» запрос: builder отказался его строить (нет values/criteria).
// Исполнять такой запрос нельзя.
func (q Query) IsEmpty() bool { return strings.TrimSpace(q.SQL) == "" }

// Args — параметры для pgx.
func (q Query) Args() []any { return Args(q.Params) }

var emptyQuery = Query{SQL: "", Params: []Bind{}}

// Builder собирает четыре формы запроса. Все они возвращают строки одной колонкой json_row.
type Builder struct {
	Strict bool
}

// Build выбирает форму по операции.
func (b Builder) Build(req Request) (Query, error) {
	switch req.Operation {
	case OpFetch:
		return b.BuildSelect(req)
	case OpCreate:
		return b.BuildInsert(req)
	case OpUpdate:
		return b.BuildUpdate(req)
	case OpDelete:
		return b.BuildDelete(req)
	}
	return Query{}, fmt.Errorf("%w %q", ErrUnknownOperation, req.Operation)
}

func (b Builder) compiler(req Request) Compiler {
	return Compiler{FieldTypes: req.FieldTypes, Strict: b.Strict}
}

func joinSQL(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ") + ";"
}

func whereSQL(expr string) string {
	if expr == "" {
		return ""
	}
	return "WHERE " + expr
}

// BuildSelect:
// SELECT row_to_json(t) AS json_row FROM <table> t [WHERE] [ORDER BY] [LIMIT];
func (b Builder) BuildSelect(req Request) (Query, error) {
	ph := NewPlaceholders(1)
	where, params, err := b.compiler(req).Where(req.Criteria, ph)
	if err != nil {
		return Query{}, err
	}
	order, err := b.orderBy(req.Order)
	if err != nil {
		return Query{}, err
	}
	limit := ""
	if req.Limit != nil {
		limit = fmt.Sprintf("LIMIT %d", *req.Limit)
	}
	sql := joinSQL(
		"SELECT row_to_json(t) AS json_row FROM "+req.Table+" t",
		whereSQL(where),
		order,
		limit,
	)
	return Query{SQL: sql, Params: nonNil(params)}, nil
}

// orderBy: объект {col: dir} или массив [{col: dir}, ...] (порядок важен — массив).
// Направление просто переводится в верхний регистр.
func (b Builder) orderBy(order *jsonvalue.Value) (string, error) {
	if order == nil || order.IsNull() {
		return "", nil
	}
	var parts []string
	add := func(obj jsonvalue.Value) error {
		return obj.Each(func(col string, dir jsonvalue.Value) error {
			s, err := dir.StringValue()
			if err != nil {
				if b.Strict {
					return fmt.Errorf("dataman: order direction for %s: %w", col, err)
				}
				return nil
			}
			parts = append(parts, col+" "+strings.ToUpper(s))
			return nil
		})
	}
	switch order.Kind() {
	case jsonvalue.Object:
		if err := add(*order); err != nil {
			return "", err
		}
	case jsonvalue.Array:
		items, _ := order.ArrayValue()
		for _, it := range items {
			if !it.IsObject() {
				if b.Strict {
					return "", fmt.Errorf("dataman: order entries must be objects, got %s", it.Kind())
				}
				continue
			}
			if err := add(it); err != nil {
				return "", err
			}
		}
	default:
		if b.Strict {
			return "", fmt.Errorf("dataman: order must be an object or array, got %s", order.Kind())
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

// valueColumns — колонки values в их порядке и плейсхолдеры с cast-суффиксами.
func (b Builder) valueColumns(req Request, ph *Placeholders) (cols, phs []string, params []Bind, ok bool) {
	if req.Values == nil || !req.Values.IsObject() || req.Values.Len() == 0 {
		return nil, nil, nil, false
	}
	for _, col := range req.Values.Keys() {
		v, _ := req.Values.Get(col)
		p := ph.Next()
		bind := BindFromValue(v)
		if t, declared := req.FieldTypes[col]; declared {
			tt := t
			bind = bind.WithHint(&tt)
			p += t.CastSuffix()
		}
		cols = append(cols, col)
		phs = append(phs, p)
		params = append(params, bind)
	}
	return cols, phs, params, true
}

// BuildInsert:
// WITH inserted AS (INSERT ... RETURNING *) SELECT row_to_json(inserted) AS json_row FROM inserted;
// Без values — пустой запрос.
func (b Builder) BuildInsert(req Request) (Query, error) {
	cols, phs, params, ok := b.valueColumns(req, NewPlaceholders(1))
	if !ok {
		return emptyQuery, nil
	}
	sql := joinSQL(
		"WITH inserted AS (INSERT INTO "+req.Table+" ("+strings.Join(cols, ", ")+")",
		"VALUES ("+strings.Join(phs, ", ")+")",
		"RETURNING *)",
		"SELECT row_to_json(inserted) AS json_row FROM inserted",
	)
	return Query{SQL: sql, Params: params}, nil
}

// BuildUpdate: сначала SET ($1..$k), потом WHERE с $k+1 — общий счётчик.
// Без values или без criteria (в т.ч. если criteria ничего не дали) — пустой запрос.
func (b Builder) BuildUpdate(req Request) (Query, error) {
	if req.Criteria == nil || req.Criteria.IsNull() {
		return emptyQuery, nil
	}
	ph := NewPlaceholders(1)
	cols, phs, params, ok := b.valueColumns(req, ph)
	if !ok {
		return emptyQuery, nil
	}
	where, whereParams, err := b.compiler(req).Where(req.Criteria, ph)
	if err != nil {
		return Query{}, err
	}
	if where == "" {
		// UPDATE без WHERE задел бы всю таблицу
		return emptyQuery, nil
	}

	sets := make([]string, len(cols))
	for i := range cols {
		sets[i] = cols[i] + " = " + phs[i]
	}
	params = append(params, whereParams...)

	sql := joinSQL(
		"UPDATE "+req.Table+" AS t",
		"SET "+strings.Join(sets, ", "),
		whereSQL(where),
		"RETURNING row_to_json(t) AS json_row",
	)
	return Query{SQL: sql, Params: params}, nil
}

// BuildDelete: DELETE FROM <table> AS t WHERE ... RETURNING row_to_json(t) AS json_row;
// Без criteria — пустой запрос (DELETE без WHERE не строим).
func (b Builder) BuildDelete(req Request) (Query, error) {
	where, params, err := b.compiler(req).Where(req.Criteria, NewPlaceholders(1))
	if err != nil {
		return Query{}, err
	}
	if where == "" {
		return emptyQuery, nil
	}
	sql := joinSQL(
		"DELETE FROM "+req.Table+" AS t",
		whereSQL(where),
		"RETURNING row_to_json(t) AS json_row",
	)
	return Query{SQL: sql, Params: params}, nil
}

func nonNil(p []Bind) []Bind {
	if p == nil {
		return []Bind{}
	}
	return p
}
