// Package jsonvalue — закрытая модель JSON-значений, через которую ходят criteria/values/результаты.
package jsonvalue

import (
	"fmt"
	"sort"
)

type Kind uint8

const (
	Null Kind = iota
	String
	Int
	Double
	Bool
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case String:
		return "string"
	case Int:
		return "int"
	case Double:
		return "double"
	case Bool:
		return "bool"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value — неизменяемое значение. Нулевое Value == null.
type Value struct {
	kind Kind
	s    string
	i    int64
	d    float64
	b    bool
	arr  []Value
	obj  map[string]Value
	keys []string // порядок ключей объекта (как пришло по сети)
}

// Pair — ключ/значение для конструктора объекта с явным порядком.
type Pair struct {
	Key   string
	Value Value
}

func NewNull() Value             { return Value{} }
func NewString(s string) Value   { return Value{kind: String, s: s} }
func NewInt(i int64) Value       { return Value{kind: Int, i: i} }
func NewDouble(d float64) Value  { return Value{kind: Double, d: d} }
func NewBool(b bool) Value       { return Value{kind: Bool, b: b} }
func NewArray(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: Array, arr: cp}
}

// NewObject сохраняет порядок пар; повторный ключ заменяет значение, позиция остаётся первой.
func NewObject(pairs ...Pair) Value {
	v := Value{kind: Object, obj: make(map[string]Value, len(pairs)), keys: make([]string, 0, len(pairs))}
	for _, p := range pairs {
		if _, dup := v.obj[p.Key]; !dup {
			v.keys = append(v.keys, p.Key)
		}
		v.obj[p.Key] = p.Value
	}
	return v
}

// ObjectFromMap — порядок ключей из Go-map не определён, поэтому сортируем.
func ObjectFromMap(m map[string]Value) Value {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]Pair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, Pair{Key: k, Value: m[k]})
	}
	return NewObject(pairs...)
}

// Strings — удобный конструктор массива строк.
func Strings(ss ...string) Value {
	items := make([]Value, len(ss))
	for i, s := range ss {
		items[i] = NewString(s)
	}
	return Value{kind: Array, arr: items}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == Null }
func (v Value) IsObject() bool { return v.kind == Object }
func (v Value) IsArray() bool  { return v.kind == Array }

// MismatchError — запрошенный вариант не совпал с фактическим.
type MismatchError struct {
	Want Kind
	Got  Kind
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("jsonvalue: expected %s, got %s", e.Want, e.Got)
}

func (v Value) mismatch(want Kind) error { return &MismatchError{Want: want, Got: v.kind} }

func (v Value) StringValue() (string, error) {
	if v.kind != String {
		return "", v.mismatch(String)
	}
	return v.s, nil
}

func (v Value) IntValue() (int64, error) {
	if v.kind != Int {
		return 0, v.mismatch(Int)
	}
	return v.i, nil
}

// DoubleValue принимает и int: JSON не различает 1 и 1.0 на уровне семантики.
func (v Value) DoubleValue() (float64, error) {
	switch v.kind {
	case Double:
		return v.d, nil
	case Int:
		return float64(v.i), nil
	}
	return 0, v.mismatch(Double)
}

func (v Value) BoolValue() (bool, error) {
	if v.kind != Bool {
		return false, v.mismatch(Bool)
	}
	return v.b, nil
}

// ArrayValue возвращает копию элементов.
func (v Value) ArrayValue() ([]Value, error) {
	if v.kind != Array {
		return nil, v.mismatch(Array)
	}
	out := make([]Value, len(v.arr))
	copy(out, v.arr)
	return out, nil
}

// ObjectValue возвращает копию map; порядок ключей — через Keys().
func (v Value) ObjectValue() (map[string]Value, error) {
	if v.kind != Object {
		return nil, v.mismatch(Object)
	}
	out := make(map[string]Value, len(v.obj))
	for k, x := range v.obj {
		out[k] = x
	}
	return out, nil
}

// Keys — ключи объекта в исходном порядке; для не-объекта nil.
func (v Value) Keys() []string {
	if v.kind != Object {
		return nil
	}
	return append([]string(nil), v.keys...)
}

// Get — поле объекта; ok=false, если это не объект или ключа нет.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	x, ok := v.obj[key]
	return x, ok
}

// Len — число элементов массива/ключей объекта.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.arr)
	case Object:
		return len(v.keys)
	}
	return 0
}

// Each обходит объект в исходном порядке ключей.
func (v Value) Each(fn func(key string, val Value) error) error {
	if v.kind != Object {
		return v.mismatch(Object)
	}
	for _, k := range v.keys {
		if err := fn(k, v.obj[k]); err != nil {
			return err
		}
	}
	return nil
}

// Equal — структурное сравнение (порядок ключей объекта не важен).
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case String:
		return v.s == o.s
	case Int:
		return v.i == o.i
	case Double:
		return v.d == o.d
	case Bool:
		return v.b == o.b
	case Array:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, x := range v.obj {
			y, ok := o.obj[k]
			if !ok || !x.Equal(y) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface — обычное Go-представление (map/slice/примитивы) для fmt и json.
func (v Value) Interface() any {
	switch v.kind {
	case String:
		return v.s
	case Int:
		return v.i
	case Double:
		return v.d
	case Bool:
		return v.b
	case Array:
		out := make([]any, len(v.arr))
		for i, x := range v.arr {
			out[i] = x.Interface()
		}
		return out
	case Object:
		out := make(map[string]any, len(v.obj))
		for k, x := range v.obj {
			out[k] = x.Interface()
		}
		return out
	}
	return nil
}

func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return string(b)
}
