package dataman

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataman/internal/psqltype"
)

func TestBuildSelect(t *testing.T) {
	req := Request{
		Operation:  OpFetch,
		Database:   "tokens",
		Table:      "public.captcha_tokens",
		Criteria:   mustValue(t, `{"ip_address":"10.0.0.1","invalidated":false}`),
		FieldTypes: FieldTypes{"ip_address": psqltype.TText, "invalidated": psqltype.TBoolean},
		Order:      mustValue(t, `{"created_at":"desc"}`),
		Limit:      Limit(1),
	}
	q, err := Builder{}.Build(req)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT row_to_json(t) AS json_row FROM public.captcha_tokens t "+
			"WHERE (ip_address = $1::text AND invalidated = $2::boolean) "+
			"ORDER BY created_at DESC LIMIT 1;",
		q.SQL)
	assert.Equal(t, []any{"10.0.0.1", false}, q.Args())
}

func TestBuildSelect_NoCriteria(t *testing.T) {
	q, err := Builder{}.Build(Request{Operation: OpFetch, Table: "web.events"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT row_to_json(t) AS json_row FROM web.events t;", q.SQL)
	assert.NotNil(t, q.Params)
	assert.Empty(t, q.Params)
	assert.False(t, q.IsEmpty())
}

func TestBuildSelect_OrderArray(t *testing.T) {
	req := Request{
		Operation: OpFetch,
		Table:     "web.events",
		Order:     mustValue(t, `[{"occurred_at":"asc"},{"id":"desc"}]`),
	}
	q, err := Builder{}.Build(req)
	require.NoError(t, err)
	assert.Equal(t, "SELECT row_to_json(t) AS json_row FROM web.events t ORDER BY occurred_at ASC, id DESC;", q.SQL)

	req.Order = mustValue(t, `["id"]`)
	_, err = Builder{Strict: true}.Build(req)
	assert.Error(t, err)
}

func TestBuildInsert(t *testing.T) {
	req := Request{
		Operation:  OpCreate,
		Table:      "public.captcha_tokens",
		Values:     mustValue(t, `{"hashed_token":"abc","max_usages":10}`),
		FieldTypes: FieldTypes{"max_usages": psqltype.TInteger},
	}
	q, err := Builder{}.Build(req)
	require.NoError(t, err)
	assert.Equal(t,
		"WITH inserted AS (INSERT INTO public.captcha_tokens (hashed_token, max_usages) "+
			"VALUES ($1, $2::integer) RETURNING *) "+
			"SELECT row_to_json(inserted) AS json_row FROM inserted;",
		q.SQL)
	assert.Equal(t, []any{"abc", 10}, q.Args())
}

func TestBuildInsert_NoValuesIsEmpty(t *testing.T) {
	q, err := Builder{}.Build(Request{Operation: OpCreate, Table: "t.x"})
	require.NoError(t, err)
	assert.True(t, q.IsEmpty())
	assert.Empty(t, q.Params)

	q, err = Builder{}.Build(Request{Operation: OpCreate, Table: "t.x", Values: mustValue(t, `{}`)})
	require.NoError(t, err)
	assert.True(t, q.IsEmpty())
}

func TestBuildUpdate_SharedCounter(t *testing.T) {
	req := Request{
		Operation:  OpUpdate,
		Table:      "public.captcha_tokens",
		Values:     mustValue(t, `{"x":1,"y":2}`),
		Criteria:   mustValue(t, `{"id":7}`),
		FieldTypes: FieldTypes{"id": psqltype.TInteger},
	}
	q, err := Builder{}.Build(req)
	require.NoError(t, err)
	assert.Equal(t,
		"UPDATE public.captcha_tokens AS t SET x = $1, y = $2 "+
			"WHERE (id = $3::integer) RETURNING row_to_json(t) AS json_row;",
		q.SQL)
	assert.Equal(t, []any{1, 2, 7}, q.Args())

	// операторная форма нумеруется тем же счётчиком
	req.Criteria = mustValue(t, `{"id":{"$eq":7}}`)
	q, err = Builder{}.Build(req)
	require.NoError(t, err)
	assert.Equal(t,
		"UPDATE public.captcha_tokens AS t SET x = $1, y = $2 "+
			"WHERE (id = $3::integer) RETURNING row_to_json(t) AS json_row;",
		q.SQL)
	assert.Equal(t, []any{1, 2, 7}, q.Args())
}

func TestBuildUpdate_EmptySentinel(t *testing.T) {
	values := mustValue(t, `{"x":1}`)
	criteria := mustValue(t, `{"id":7}`)

	cases := map[string]Request{
		"no criteria":             {Operation: OpUpdate, Table: "t.x", Values: values},
		"no values":               {Operation: OpUpdate, Table: "t.x", Criteria: criteria},
		"criteria yields nothing": {Operation: OpUpdate, Table: "t.x", Values: values, Criteria: mustValue(t, `{"id":{"$regex":"."}}`)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			q, err := Builder{}.Build(req)
			require.NoError(t, err)
			assert.True(t, q.IsEmpty())
			assert.Empty(t, q.Params)
		})
	}
}

func TestBuildDelete(t *testing.T) {
	req := Request{
		Operation:  OpDelete,
		Table:      "web.events",
		Criteria:   mustValue(t, `{"id":{"$in":[1,2]}}`),
		FieldTypes: FieldTypes{"id": psqltype.TBigInt},
	}
	q, err := Builder{}.Build(req)
	require.NoError(t, err)
	assert.Equal(t,
		"DELETE FROM web.events AS t WHERE (id IN ($1::bigint, $2::bigint)) RETURNING row_to_json(t) AS json_row;",
		q.SQL)
	assert.Equal(t, []any{1, 2}, q.Args())

	q, err = Builder{}.Build(Request{Operation: OpDelete, Table: "web.events"})
	require.NoError(t, err)
	assert.True(t, q.IsEmpty())
}

func TestBuild_StrictPropagatesCriteriaError(t *testing.T) {
	req := Request{Operation: OpDelete, Table: "t.x", Criteria: mustValue(t, `{"id":{"$between":"x"}}`)}

	q, err := Builder{}.Build(req)
	require.NoError(t, err)
	assert.True(t, q.IsEmpty())

	_, err = Builder{Strict: true}.Build(req)
	var ce *CriteriaError
	assert.ErrorAs(t, err, &ce)
}

func TestBuild_UnknownOperation(t *testing.T) {
	_, err := Builder{}.Build(Request{Operation: "merge", Table: "t.x"})
	assert.Error(t, err)
}
