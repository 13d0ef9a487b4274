// Package psqltype — закрытый перечень типов колонок Postgres и их cast-суффиксы.
package psqltype

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Kind uint8

const (
	Integer Kind = iota + 1
	SmallInt
	BigInt
	Real
	DoublePrecision
	Numeric
	Text
	Varchar
	Char
	Boolean
	Bytea
	UUID
	JSON
	JSONB
	Timestamp
	Timestamptz
	Date
	Time
	TimeTZ
	Array
	Custom
)

// Type — значение перечня. Array — единственный рекурсивный вариант, Custom хранит сырое имя.
type Type struct {
	Kind      Kind
	Precision *int   // numeric
	Scale     *int   // numeric
	Length    *int   // varchar/char
	Elem      *Type  // array
	DBType    string // custom
}

func simple(k Kind) Type { return Type{Kind: k} }

var (
	TInteger         = simple(Integer)
	TSmallInt        = simple(SmallInt)
	TBigInt          = simple(BigInt)
	TReal            = simple(Real)
	TDoublePrecision = simple(DoublePrecision)
	TText            = simple(Text)
	TBoolean         = simple(Boolean)
	TBytea           = simple(Bytea)
	TUUID            = simple(UUID)
	TJSON            = simple(JSON)
	TJSONB           = simple(JSONB)
	TTimestamp       = simple(Timestamp)
	TTimestamptz     = simple(Timestamptz)
	TDate            = simple(Date)
	TTime            = simple(Time)
	TTimeTZ          = simple(TimeTZ)
)

func intp(n int) *int { return &n }

func NumericOf(precision, scale *int) Type {
	return Type{Kind: Numeric, Precision: precision, Scale: scale}
}

// NumericPS — numeric(p,s) с обоими параметрами.
func NumericPS(precision, scale int) Type { return NumericOf(intp(precision), intp(scale)) }

func VarcharOf(length *int) Type { return Type{Kind: Varchar, Length: length} }
func VarcharN(n int) Type        { return VarcharOf(intp(n)) }
func CharOf(length *int) Type    { return Type{Kind: Char, Length: length} }
func CharN(n int) Type           { return CharOf(intp(n)) }

func ArrayOf(elem Type) Type {
	e := elem
	return Type{Kind: Array, Elem: &e}
}

func CustomOf(dbType string) Type { return Type{Kind: Custom, DBType: dbType} }

// opt — незаданный параметр сравнивается как -1.
func opt(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

// SQLName — имя типа в том виде, в каком его пишут в DDL и после "::".
func (t Type) SQLName() string {
	switch t.Kind {
	case Integer:
		return "integer"
	case SmallInt:
		return "smallint"
	case BigInt:
		return "bigint"
	case Real:
		return "real"
	case DoublePrecision:
		return "double precision"
	case Numeric:
		switch {
		case t.Precision != nil && t.Scale != nil:
			return fmt.Sprintf("numeric(%d,%d)", *t.Precision, *t.Scale)
		case t.Precision != nil:
			return fmt.Sprintf("numeric(%d)", *t.Precision)
		}
		return "numeric"
	case Text:
		return "text"
	case Varchar:
		if t.Length != nil {
			return fmt.Sprintf("varchar(%d)", *t.Length)
		}
		return "varchar"
	case Char:
		if t.Length != nil {
			return fmt.Sprintf("char(%d)", *t.Length)
		}
		return "char"
	case Boolean:
		return "boolean"
	case Bytea:
		return "bytea"
	case UUID:
		return "uuid"
	case JSON:
		return "json"
	case JSONB:
		return "jsonb"
	case Timestamp:
		return "timestamp"
	case Timestamptz:
		return "timestamptz"
	case Date:
		return "date"
	case Time:
		return "time"
	case TimeTZ:
		return "timetz"
	case Array:
		if t.Elem == nil {
			return "text[]"
		}
		return t.Elem.SQLName() + "[]"
	case Custom:
		return t.DBType
	}
	return ""
}

// CastSuffix — "::integer", "::timestamptz", "::integer[]"...
func (t Type) CastSuffix() string {
	name := t.SQLName()
	if name == "" {
		return ""
	}
	return "::" + name
}

// String отличает custom от встроенных типов с тем же именем.
func (t Type) String() string {
	if t.Kind == Custom {
		return "custom(" + t.DBType + ")"
	}
	return t.SQLName()
}

func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case Numeric:
		return opt(t.Precision) == opt(o.Precision) && opt(t.Scale) == opt(o.Scale)
	case Varchar, Char:
		return opt(t.Length) == opt(o.Length)
	case Array:
		if t.Elem == nil || o.Elem == nil {
			return t.Elem == o.Elem
		}
		return t.Elem.Equal(*o.Elem)
	case Custom:
		return t.DBType == o.DBType
	}
	return true
}

// FromCatalog — (data_type, udt_name) из information_schema.columns в Type.
// udtName == "" означает «нет udt_name».
func FromCatalog(dataType, udtName string) Type {
	lower := strings.ToLower(strings.TrimSpace(dataType))
	switch lower {
	case "integer", "int4", "int":
		return TInteger
	case "smallint", "int2":
		return TSmallInt
	case "bigint", "int8":
		return TBigInt
	case "real", "float4":
		return TReal
	case "double precision", "float8":
		return TDoublePrecision
	case "numeric", "decimal":
		return NumericOf(nil, nil)
	case "text":
		return TText
	case "character varying", "varchar":
		return VarcharOf(nil)
	case "character", "char", "bpchar":
		return CharOf(nil)
	case "boolean", "bool":
		return TBoolean
	case "bytea":
		return TBytea
	case "uuid":
		return TUUID
	case "json":
		return TJSON
	case "jsonb":
		return TJSONB
	case "timestamp with time zone", "timestamptz":
		return TTimestamptz
	case "timestamp without time zone", "timestamp":
		return TTimestamp
	case "date":
		return TDate
	case "time without time zone", "time":
		return TTime
	case "time with time zone", "timetz":
		return TTimeTZ
	}
	// массивы приходят как data_type=ARRAY, udt_name="_int4"
	if strings.HasPrefix(udtName, "_") {
		return ArrayOf(FromCatalog(udtName[1:], ""))
	}
	if lower == "user-defined" && udtName != "" {
		return CustomOf(strings.ToLower(udtName))
	}
	return CustomOf(lower)
}

var customName = regexp.MustCompile(`^[a-z_][a-z0-9_]*( [a-z_][a-z0-9_]*)*$`)

// Parse разбирает запись типа из реестра/запроса: "varchar(64)", "numeric(10,2)", "integer[]".
func Parse(s string) (Type, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Type{}, fmt.Errorf("psqltype: empty type")
	}
	lower := strings.ToLower(raw)

	if strings.HasSuffix(lower, "[]") {
		elem, err := Parse(lower[:len(lower)-2])
		if err != nil {
			return Type{}, err
		}
		return ArrayOf(elem), nil
	}

	base, args := lower, ""
	if i := strings.IndexByte(lower, '('); i >= 0 {
		if !strings.HasSuffix(lower, ")") {
			return Type{}, fmt.Errorf("psqltype: unbalanced parentheses in %q", raw)
		}
		base = strings.TrimSpace(lower[:i])
		args = strings.TrimSpace(lower[i+1 : len(lower)-1])
	}

	var nums []int
	if args != "" {
		for _, p := range strings.Split(args, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return Type{}, fmt.Errorf("psqltype: bad modifier in %q: %w", raw, err)
			}
			nums = append(nums, n)
		}
	}

	t := FromCatalog(base, "")
	switch t.Kind {
	case Numeric:
		switch len(nums) {
		case 0:
		case 1:
			t.Precision = intp(nums[0])
		case 2:
			t.Precision, t.Scale = intp(nums[0]), intp(nums[1])
		default:
			return Type{}, fmt.Errorf("psqltype: numeric takes at most 2 modifiers: %q", raw)
		}
	case Varchar, Char:
		switch len(nums) {
		case 0:
		case 1:
			t.Length = intp(nums[0])
		default:
			return Type{}, fmt.Errorf("psqltype: %s takes 1 modifier: %q", base, raw)
		}
	default:
		if len(nums) > 0 && t.Kind != Custom {
			return Type{}, fmt.Errorf("psqltype: %s takes no modifiers: %q", base, raw)
		}
		if t.Kind == Custom {
			// имя custom уходит в cast-суффикс текстом
			if !customName.MatchString(base) {
				return Type{}, fmt.Errorf("psqltype: invalid type name %q", raw)
			}
			t.DBType = base
			if len(nums) > 0 {
				mods := make([]string, len(nums))
				for i, n := range nums {
					mods[i] = strconv.Itoa(n)
				}
				t.DBType += "(" + strings.Join(mods, ",") + ")"
			}
		}
	}
	return t, nil
}

// MustParse — для статических таблиц типов.
func MustParse(s string) Type {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.SQLName()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
