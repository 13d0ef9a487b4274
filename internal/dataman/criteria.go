package dataman

import (
	"fmt"
	"strconv"
	"strings"

	"dataman/internal/jsonvalue"
)

// Placeholders — счётчик $n. Один счётчик на запрос: SET и WHERE в UPDATE берут из него по очереди.
type Placeholders struct {
	next int
}

// NewPlaceholders — счётчик, начинающийся с start (обычно 1).
func NewPlaceholders(start int) *Placeholders {
	if start < 1 {
		start = 1
	}
	return &Placeholders{next: start}
}

// Next выдаёт очередной "$n".
func (p *Placeholders) Next() string {
	n := p.next
	p.next++
	return "$" + strconv.Itoa(n)
}

// Peek — номер, который будет выдан следующим.
func (p *Placeholders) Peek() int { return p.next }

// CriteriaError — дерево criteria не разобрать (в строгом режиме ещё и неизвестный оператор).
type CriteriaError struct {
	Path   string
	Reason string
}

func (e *CriteriaError) Error() string {
	if e.Path == "" {
		return "criteria: " + e.Reason
	}
	return fmt.Sprintf("criteria at %s: %s", e.Path, e.Reason)
}

// Compiler — criteria -> (WHERE-выражение, бинды).
//
// По умолчанию мягкий: неизвестные операторы и кривые $between/$in пропускаются,
// а любая ошибка разбора даёт пустой WHERE без параметров. Strict превращает это в ошибки.
type Compiler struct {
	FieldTypes FieldTypes
	Strict     bool
}

// Where компилирует criteria в выражение без ключевого слова WHERE.
// nil/null criteria -> "", nil. Счётчик продвигается только на успешно выданные бинды.
func (c Compiler) Where(criteria *jsonvalue.Value, ph *Placeholders) (string, []Bind, error) {
	if criteria == nil || criteria.IsNull() {
		return "", nil, nil
	}
	start := ph.Peek()
	st := &compileState{c: c, ph: ph}
	sql, err := st.node(*criteria, "$")
	if err != nil {
		// откатываемся целиком: никаких частично связанных запросов
		ph.next = start
		if c.Strict {
			return "", nil, err
		}
		return "", nil, nil
	}
	return sql, st.params, nil
}

type compileState struct {
	c      Compiler
	ph     *Placeholders
	params []Bind
}

func (st *compileState) fail(path, format string, args ...any) error {
	return &CriteriaError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// bind выдаёт плейсхолдер с cast-суффиксом объявленного типа поля.
func (st *compileState) bind(field string, v jsonvalue.Value, cast bool) string {
	ph := st.ph.Next()
	b := BindFromValue(v)
	if t, ok := st.c.FieldTypes[field]; ok {
		tt := t
		b = b.WithHint(&tt)
		if cast {
			ph += t.CastSuffix()
		}
	}
	st.params = append(st.params, b)
	return ph
}

// node — объект criteria: $and/$or группы и поля, всё через AND, в скобках.
func (st *compileState) node(v jsonvalue.Value, path string) (string, error) {
	if !v.IsObject() {
		return "", st.fail(path, "expected object, got %s", v.Kind())
	}
	var frags []string
	for _, key := range v.Keys() {
		val, _ := v.Get(key)
		sub := path + "." + key
		switch key {
		case "$and", "$or":
			frag, err := st.group(key, val, sub)
			if err != nil {
				return "", err
			}
			if frag != "" {
				frags = append(frags, frag)
			}
		default:
			if strings.HasPrefix(key, "$") {
				if st.c.Strict {
					return "", st.fail(sub, "unknown logical operator %q", key)
				}
				continue
			}
			fieldFrags, err := st.field(key, val, sub)
			if err != nil {
				return "", err
			}
			frags = append(frags, fieldFrags...)
		}
	}
	if len(frags) == 0 {
		return "", nil
	}
	return "(" + strings.Join(frags, " AND ") + ")", nil
}

func (st *compileState) group(op string, v jsonvalue.Value, path string) (string, error) {
	items, err := v.ArrayValue()
	if err != nil {
		return "", st.fail(path, "%s expects an array", op)
	}
	joiner := " AND "
	if op == "$or" {
		joiner = " OR "
	}
	var frags []string
	for i, it := range items {
		frag, err := st.node(it, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return "", err
		}
		if frag != "" {
			frags = append(frags, frag)
		}
	}
	if len(frags) == 0 {
		return "", nil
	}
	return "(" + strings.Join(frags, joiner) + ")", nil
}

var comparisons = map[string]string{
	"$eq":  "=",
	"$ne":  "<>",
	"$gt":  ">",
	"$gte": ">=",
	"$lt":  "<",
	"$lte": "<=",
}

// field — один ключ field-map: скаляр -> "=", объект -> операторы.
func (st *compileState) field(name string, v jsonvalue.Value, path string) ([]string, error) {
	if !v.IsObject() {
		return []string{name + " = " + st.bind(name, v, true)}, nil
	}

	var frags []string
	for _, op := range v.Keys() {
		rhs, _ := v.Get(op)
		sub := path + "." + op

		if sqlOp, ok := comparisons[op]; ok {
			frags = append(frags, fmt.Sprintf("%s %s %s", name, sqlOp, st.bind(name, rhs, true)))
			continue
		}

		switch op {
		case "$between":
			items, err := rhs.ArrayValue()
			if err != nil || len(items) != 2 {
				if st.c.Strict {
					return nil, st.fail(sub, "$between expects a 2-element array")
				}
				continue // кривой $between просто выпадает
			}
			lo := st.bind(name, items[0], true)
			hi := st.bind(name, items[1], true)
			frags = append(frags, fmt.Sprintf("%s BETWEEN %s AND %s", name, lo, hi))

		case "$in":
			items, err := rhs.ArrayValue()
			if err != nil {
				if st.c.Strict {
					return nil, st.fail(sub, "$in expects an array")
				}
				continue
			}
			if len(items) == 0 {
				// пустой IN ничего не матчит и не тратит плейсхолдеров
				frags = append(frags, "FALSE")
				continue
			}
			phs := make([]string, 0, len(items))
			for _, it := range items {
				phs = append(phs, st.bind(name, it, true))
			}
			frags = append(frags, fmt.Sprintf("%s IN (%s)", name, strings.Join(phs, ", ")))

		case "$like":
			frags = append(frags, fmt.Sprintf("%s LIKE %s", name, st.bind(name, rhs, false)))
		case "$ilike":
			frags = append(frags, fmt.Sprintf("%s ILIKE %s", name, st.bind(name, rhs, false)))

		case "$is":
			if rhs.IsNull() {
				frags = append(frags, name+" IS NULL")
				continue
			}
			frags = append(frags, fmt.Sprintf("%s IS %s", name, st.bind(name, rhs, true)))

		case "$not":
			inner, err := st.node(jsonvalue.NewObject(jsonvalue.Pair{Key: name, Value: rhs}), sub)
			if err != nil {
				return nil, err
			}
			if inner != "" {
				frags = append(frags, "NOT "+inner)
			}

		default:
			if st.c.Strict {
				return nil, st.fail(sub, "unknown operator %q", op)
			}
			// неизвестный оператор — «нет фильтра»
		}
	}
	return frags, nil
}
