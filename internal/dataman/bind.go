package dataman

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"dataman/internal/jsonvalue"
	"dataman/internal/psqltype"
)

// BindKind — явный дискриминант типизированного бинда.
type BindKind uint8

const (
	BindNull BindKind = iota
	BindText
	BindBool
	BindInt64
	BindDouble
	BindDate
	BindUUID
	BindDecimal
	BindJSON
	BindJSONB
	BindBytea
	BindInet
	BindArray
)

// BindValue — типизированное значение. Используется только поле, соответствующее Kind.
type BindValue struct {
	Kind    BindKind
	Text    string    // text, decimal, inet
	Bool    bool      // bool
	Int64   int64     // int64
	Double  float64   // double
	Date    time.Time // date
	UUID    uuid.UUID // uuid
	Raw     []byte    // json/jsonb (закодированный payload), bytea
	Items   []BindValue
	Element *psqltype.Type // тип элементов массива (cast — на стороне SQL)
}

// Bind — либо Typed, либо Opaque (стёртый путь через JSON).
type Bind struct {
	Typed  *BindValue
	Opaque any
	Hint   *psqltype.Type
}

// ==== конструкторы ====

func NullBind() Bind                { return Bind{Typed: &BindValue{Kind: BindNull}} }
func TextBind(s string) Bind        { return Bind{Typed: &BindValue{Kind: BindText, Text: s}} }
func BoolBind(b bool) Bind          { return Bind{Typed: &BindValue{Kind: BindBool, Bool: b}} }
func Int64Bind(i int64) Bind        { return Bind{Typed: &BindValue{Kind: BindInt64, Int64: i}} }
func DoubleBind(d float64) Bind     { return Bind{Typed: &BindValue{Kind: BindDouble, Double: d}} }
func DateBind(t time.Time) Bind     { return Bind{Typed: &BindValue{Kind: BindDate, Date: t}} }
func UUIDBind(u uuid.UUID) Bind     { return Bind{Typed: &BindValue{Kind: BindUUID, UUID: u}} }
func DecimalBind(dec string) Bind   { return Bind{Typed: &BindValue{Kind: BindDecimal, Text: dec}} }
func JSONBind(payload []byte) Bind  { return Bind{Typed: &BindValue{Kind: BindJSON, Raw: payload}} }
func JSONBBind(payload []byte) Bind { return Bind{Typed: &BindValue{Kind: BindJSONB, Raw: payload}} }
func ByteaBind(data []byte) Bind    { return Bind{Typed: &BindValue{Kind: BindBytea, Raw: data}} }
func InetBind(addr string) Bind     { return Bind{Typed: &BindValue{Kind: BindInet, Text: addr}} }

func ArrayBind(element *psqltype.Type, items ...BindValue) Bind {
	return Bind{Typed: &BindValue{Kind: BindArray, Items: items, Element: element}}
}

// OpaqueBind — значение без дискриминанта, пойдёт через JSON-пробинг.
func OpaqueBind(v any) Bind { return Bind{Opaque: v} }

// WithHint — тип колонки, к которой относится бинд.
func (b Bind) WithHint(t *psqltype.Type) Bind {
	b.Hint = t
	return b
}

// BindFromValue — детерминированное отображение JSONValue в типизированный бинд.
func BindFromValue(v jsonvalue.Value) Bind {
	bv := bindValueFrom(v)
	return Bind{Typed: &bv}
}

func bindValueFrom(v jsonvalue.Value) BindValue {
	switch v.Kind() {
	case jsonvalue.String:
		s, _ := v.StringValue()
		return BindValue{Kind: BindText, Text: s}
	case jsonvalue.Int:
		i, _ := v.IntValue()
		return BindValue{Kind: BindInt64, Int64: i}
	case jsonvalue.Double:
		d, _ := v.DoubleValue()
		return BindValue{Kind: BindDouble, Double: d}
	case jsonvalue.Bool:
		b, _ := v.BoolValue()
		return BindValue{Kind: BindBool, Bool: b}
	case jsonvalue.Array:
		items, _ := v.ArrayValue()
		out := make([]BindValue, 0, len(items))
		for _, it := range items {
			out = append(out, bindValueFrom(it))
		}
		return BindValue{Kind: BindArray, Items: out}
	case jsonvalue.Object:
		raw, err := v.MarshalJSON()
		if err != nil {
			return BindValue{Kind: BindText, Text: encodeErrorPayload(err)}
		}
		return BindValue{Kind: BindJSONB, Raw: raw}
	}
	return BindValue{Kind: BindNull}
}

// Native — параметр в том виде, в каком его примет pgx.
func (b Bind) Native() any {
	if b.Typed != nil {
		return nativeTyped(*b.Typed, b.Hint)
	}
	return nativeErased(b.Opaque)
}

// Args — параметры для pgx в порядке плейсхолдеров.
func Args(binds []Bind) []any {
	out := make([]any, len(binds))
	for i, b := range binds {
		out[i] = b.Native()
	}
	return out
}

// разрядность «родного» int; переменная — чтобы в тестах проверить 32-битный случай
var nativeIntBits = strconv.IntSize

func fitsNativeInt(i int64) bool {
	if nativeIntBits >= 64 {
		return true
	}
	lim := int64(1) << (nativeIntBits - 1)
	return i >= -lim && i <= lim-1
}

func nativeInt(i int64) any {
	if fitsNativeInt(i) {
		return int(i)
	}
	// не влезает — текстом, без усечения
	return strconv.FormatInt(i, 10)
}

// ISO-8601 UTC с миллисекундами
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

func isoUTC(t time.Time) string { return t.UTC().Format(isoLayout) }

func nativeTyped(v BindValue, hint *psqltype.Type) any {
	switch v.Kind {
	case BindNull:
		return nil
	case BindText:
		return v.Text
	case BindBool:
		return v.Bool
	case BindInt64:
		return nativeInt(v.Int64)
	case BindDouble:
		return v.Double
	case BindDate:
		// текстом; к timestamptz приводит SQL (::timestamptz)
		return isoUTC(v.Date)
	case BindUUID:
		return v.UUID.String()
	case BindDecimal:
		// строка как есть: никакого округления
		return v.Text
	case BindJSON, BindJSONB:
		if v.Raw == nil {
			return "null"
		}
		return string(v.Raw)
	case BindBytea:
		return `\x` + hex.EncodeToString(v.Raw)
	case BindInet:
		return v.Text
	case BindArray:
		elem := v.Element
		if elem == nil && hint != nil && hint.Kind == psqltype.Array {
			elem = hint.Elem
		}
		return arrayLiteral(v.Items, elem)
	}
	return nil
}

// arrayLiteral — тело литерала массива PG: {1,2,"a b",NULL}. Тип массива задаёт SQL.
func arrayLiteral(items []BindValue, elem *psqltype.Type) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		switch it.Kind {
		case BindNull:
			parts = append(parts, "NULL")
		case BindText:
			parts = append(parts, quoteArrayElem(it.Text))
		case BindInt64:
			parts = append(parts, strconv.FormatInt(it.Int64, 10))
		case BindDouble:
			parts = append(parts, strconv.FormatFloat(it.Double, 'g', -1, 64))
		case BindBool:
			if it.Bool {
				parts = append(parts, "t")
			} else {
				parts = append(parts, "f")
			}
		default:
			// составные/прочие — текстовая форма в кавычках
			parts = append(parts, quoteArrayElem(fmt.Sprint(nativeTyped(it, elem))))
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func quoteArrayElem(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// ==== стёртый путь ====

// nativeErased кодирует значение в JSON один раз и пробует примитивы строго по порядку:
// string -> bool -> int -> int64 -> double -> null -> сырой JSON-текст.
func nativeErased(x any) any {
	data, err := encodeErased(x)
	if err != nil {
		// не молчаливый NULL, а видимая диагностика
		return encodeErrorPayload(err)
	}
	if len(data) == 0 {
		return nil
	}

	var tok any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&tok); err != nil {
		return string(data)
	}

	switch t := tok.(type) {
	case string:
		return t
	case bool:
		return t
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return nativeInt(i)
		}
		if f, err := t.Float64(); err == nil && !math.IsInf(f, 0) {
			return f
		}
		return t.String()
	case nil:
		return nil
	}
	// массивы/объекты — JSON-текстом
	return string(data)
}

func encodeErased(x any) ([]byte, error) {
	switch t := x.(type) {
	case time.Time:
		return json.Marshal(isoUTC(t))
	case *time.Time:
		if t == nil {
			return []byte("null"), nil
		}
		return json.Marshal(isoUTC(*t))
	case jsonvalue.Value:
		return t.MarshalJSON()
	}
	return json.Marshal(x)
}

func encodeErrorPayload(err error) string {
	b, mErr := json.Marshal(map[string]string{"_bind_encode_error": err.Error()})
	if mErr != nil {
		return `{"_bind_encode_error":"unencodable"}`
	}
	return string(b)
}

// ==== для логов/ответа compile ====

// Describe — JSON-дружелюбное представление бинда (значение + тип-подсказка).
func (b Bind) Describe() map[string]any {
	out := map[string]any{"value": b.Native()}
	if b.Hint != nil {
		out["type"] = b.Hint.SQLName()
	}
	return out
}
