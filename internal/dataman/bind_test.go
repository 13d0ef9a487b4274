package dataman

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"dataman/internal/jsonvalue"
	"dataman/internal/psqltype"
)

func withIntBits(t *testing.T, bits int) {
	t.Helper()
	prev := nativeIntBits
	nativeIntBits = bits
	t.Cleanup(func() { nativeIntBits = prev })
}

func TestNative_Typed(t *testing.T) {
	id := uuid.MustParse("5f0c6a8e-2b7e-4d0c-9a55-1c1b1f7f6a01")
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("MSK", 3*3600))

	assert.Nil(t, NullBind().Native())
	assert.Equal(t, "x", TextBind("x").Native())
	assert.Equal(t, true, BoolBind(true).Native())
	assert.Equal(t, 42, Int64Bind(42).Native())
	assert.Equal(t, 1.5, DoubleBind(1.5).Native())
	assert.Equal(t, "2024-03-01T09:30:00.000Z", DateBind(ts).Native())
	assert.Equal(t, id.String(), UUIDBind(id).Native())
	assert.Equal(t, "10.00", DecimalBind("10.00").Native())
	assert.Equal(t, `{"a":1}`, JSONBBind([]byte(`{"a":1}`)).Native())
	assert.Equal(t, "null", JSONBind(nil).Native())
	assert.Equal(t, `\xdead`, ByteaBind([]byte{0xde, 0xad}).Native())
	assert.Equal(t, "10.0.0.1", InetBind("10.0.0.1").Native())
}

func TestNative_Int64Overflow(t *testing.T) {
	withIntBits(t, 32)

	assert.Equal(t, 2147483647, Int64Bind(math.MaxInt32).Native())
	assert.Equal(t, "2147483648", Int64Bind(math.MaxInt32+1).Native())
	assert.Equal(t, "-2147483649", Int64Bind(math.MinInt32-1).Native())
	assert.Equal(t, "9223372036854775807", OpaqueBind(int64(math.MaxInt64)).Native())
}

func TestNative_Array(t *testing.T) {
	elem := psqltype.TText
	b := ArrayBind(&elem,
		BindValue{Kind: BindText, Text: `a "b"`},
		BindValue{Kind: BindNull},
		BindValue{Kind: BindInt64, Int64: 3},
		BindValue{Kind: BindBool, Bool: false},
	)
	assert.Equal(t, `{"a \"b\"",NULL,3,f}`, b.Native())
}

func TestNative_ErasedProbing(t *testing.T) {
	type point struct {
		X int `json:"x"`
	}
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)

	assert.Equal(t, "s", OpaqueBind("s").Native())
	assert.Equal(t, true, OpaqueBind(true).Native())
	assert.Equal(t, 7, OpaqueBind(int32(7)).Native())
	assert.Equal(t, 2.25, OpaqueBind(2.25).Native())
	assert.Nil(t, OpaqueBind(nil).Native())
	assert.Equal(t, `{"x":1}`, OpaqueBind(point{X: 1}).Native())
	assert.Equal(t, `[1,2]`, OpaqueBind([]int{1, 2}).Native())
	assert.Equal(t, "2024-01-02T03:04:05.006Z", OpaqueBind(ts).Native())
	assert.Equal(t, "v", OpaqueBind(jsonvalue.NewString("v")).Native())

	// несериализуемое значение даёт видимую диагностику, а не NULL
	got := OpaqueBind(func() {}).Native()
	assert.Contains(t, got, "_bind_encode_error")
}

func TestBindFromValue(t *testing.T) {
	v, err := jsonvalue.Parse([]byte(`{"n":1,"d":2.5,"s":"x","b":true,"z":null,"a":[1,"y"],"o":{"k":1}}`))
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[string]BindKind{}
	_ = v.Each(func(key string, val jsonvalue.Value) error {
		kinds[key] = BindFromValue(val).Typed.Kind
		return nil
	})
	assert.Equal(t, map[string]BindKind{
		"n": BindInt64, "d": BindDouble, "s": BindText, "b": BindBool,
		"z": BindNull, "a": BindArray, "o": BindJSONB,
	}, kinds)

	o, _ := v.Get("o")
	assert.Equal(t, `{"k":1}`, BindFromValue(o).Native())
}

func TestDescribe(t *testing.T) {
	tt := psqltype.TInteger
	assert.Equal(t, map[string]any{"value": 5, "type": "integer"}, Int64Bind(5).WithHint(&tt).Describe())
	assert.Equal(t, map[string]any{"value": "x"}, TextBind("x").Describe())
}
