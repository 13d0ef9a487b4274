package psqltype

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := map[string]string{
		"integer":          "integer",
		"INT":              "integer",
		"double precision": "double precision",
		"timestamptz":      "timestamptz",
		"text[]":           "text[]",
		"varchar(64)":      "varchar(64)",
		"numeric(10,2)":    "numeric(10,2)",
		"numeric(12)":      "numeric(12)",
		"char(2)":          "char(2)",
		"citext":           "citext",
		"Geometry":         "geometry",
		"bit varying(8)":   "bit varying(8)",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			got, err := Parse(in)
			require.NoError(t, err)
			assert.Equal(t, want, got.SQLName())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, in := range []string{
		"", "varchar(64", "numeric(1,2,3)", "integer(4)", "varchar(x)",
		"int4 or true", "text; drop table x", "mood'", "citext[] --", "(1)",
	} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestFromCatalog(t *testing.T) {
	assert.Equal(t, TInteger, FromCatalog("integer", ""))
	assert.Equal(t, TTimestamptz, FromCatalog("timestamp with time zone", "timestamptz"))
	assert.True(t, ArrayOf(TInteger).Equal(FromCatalog("ARRAY", "_int4")))
	assert.Equal(t, "integer[]", FromCatalog("ARRAY", "_int4").SQLName())
	assert.Equal(t, CustomOf("mood"), FromCatalog("USER-DEFINED", "mood"))
	assert.Equal(t, CustomOf("user-defined"), FromCatalog("USER-DEFINED", ""))
	assert.Equal(t, TTime, FromCatalog("time without time zone", "time"))
	assert.Equal(t, "char[]", FromCatalog("ARRAY", "_bpchar").SQLName())
}

func TestCastSuffix(t *testing.T) {
	assert.Equal(t, "::integer", TInteger.CastSuffix())
	assert.Equal(t, "::timestamptz", TTimestamptz.CastSuffix())
	assert.Equal(t, "::integer[]", ArrayOf(TInteger).CastSuffix())
	assert.Equal(t, "::numeric(10,2)", NumericPS(10, 2).CastSuffix())
	assert.Equal(t, "", Type{}.CastSuffix())
}

func TestString_CustomIsDistinct(t *testing.T) {
	assert.Equal(t, "custom(integer)", CustomOf("integer").String())
	assert.False(t, CustomOf("integer").Equal(TInteger))
	assert.Equal(t, "integer", TInteger.String())
}

func TestEqual(t *testing.T) {
	assert.True(t, VarcharN(10).Equal(MustParse("varchar(10)")))
	assert.False(t, VarcharN(10).Equal(VarcharOf(nil)))
	assert.True(t, NumericOf(nil, nil).Equal(MustParse("numeric")))
	assert.False(t, ArrayOf(TText).Equal(ArrayOf(TInteger)))
}

func TestTextRoundTrip(t *testing.T) {
	var got struct {
		T Type `json:"t"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"t":"varchar(32)"}`), &got))
	assert.True(t, VarcharN(32).Equal(got.T))

	out, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":"varchar(32)"}`, string(out))
}
