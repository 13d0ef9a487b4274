package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataman/internal/dataman"
	"dataman/internal/jsonvalue"
	"dataman/internal/pg"
	"dataman/internal/registry"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// stubSender запоминает запросы и отвечает reply (по умолчанию — пустой успех).
type stubSender struct {
	mu       sync.Mutex
	requests []dataman.Request
	reply    func(req dataman.Request) (dataman.Response, error)
}

func (s *stubSender) Send(_ context.Context, req dataman.Request) (dataman.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.reply == nil {
		return dataman.Response{Success: true, Results: []jsonvalue.Value{}}, nil
	}
	return s.reply(req)
}

func (s *stubSender) last(t *testing.T) dataman.Request {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.requests)
	return s.requests[len(s.requests)-1]
}

func newTestServer(sender *stubSender) *Server {
	return NewServer(sender, dataman.Builder{}, registry.Default(), nil)
}

func newTestRouter(s *Server, opts RouterOptions) *gin.Engine {
	if opts.KeyStyle == "" {
		opts.KeyStyle = dataman.KeyStyleXAPIKey
	}
	return NewRouter(s, opts)
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestExecute_CompletesFieldTypes(t *testing.T) {
	sender := &stubSender{reply: func(dataman.Request) (dataman.Response, error) {
		row, _ := jsonvalue.Parse([]byte(`{"id":1,"ip_address":"1.2.3.4"}`))
		return dataman.Response{Success: true, Results: []jsonvalue.Value{row}}, nil
	}}
	r := newTestRouter(newTestServer(sender), RouterOptions{})

	w := do(t, r, http.MethodPost, "/api/dataman",
		`{"operation":"fetch","database":"tokens","table":"public.captcha_tokens","criteria":{"ip_address":"1.2.3.4"},"limit":1}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := sender.last(t)
	assert.Equal(t, dataman.OpFetch, got.Operation)
	assert.Equal(t, "timestamptz", got.FieldTypes["expires_at"].SQLName())

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["results"], 1)
}

func TestExecute_Rejections(t *testing.T) {
	sender := &stubSender{}
	r := newTestRouter(newTestServer(sender), RouterOptions{})

	w := do(t, r, http.MethodPost, "/api/dataman", `{"operation":"merge","database":"tokens","table":"public.captcha_tokens"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/dataman", `{"operation":"fetch","database":"tokens"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/dataman", `{"operation":"fetch","database":"tokens","table":"public.nope"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/api/dataman",
		`{"operation":"fetch","database":"tokens","table":"public.captcha_tokens","criteria":{"$or":[{"secret":1}]}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_column")

	w = do(t, r, http.MethodPost, "/api/dataman",
		`{"operation":"create","database":"tokens","table":"public.captcha_tokens","values":{"hashed_token":"h"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "ip_address")
	assert.Contains(t, w.Body.String(), "expires_at")
	assert.NotContains(t, w.Body.String(), `"field":"id"`)

	w = do(t, r, http.MethodPost, "/api/dataman",
		`{"database":"tokens","table":"public.captcha_tokens","criteria":{"id":1}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"operation"`)

	assert.Empty(t, sender.requests)
}

func TestExecute_AllowUnregistered(t *testing.T) {
	sender := &stubSender{}
	s := newTestServer(sender)
	s.AllowUnregistered = true
	r := newTestRouter(s, RouterOptions{})

	w := do(t, r, http.MethodPost, "/api/dataman", `{"operation":"fetch","database":"crm","table":"people","criteria":{"any":1}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sender.last(t).FieldTypes)
}

func TestExecute_ErrorStatuses(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{dataman.ErrEmptyQuery, http.StatusBadRequest},
		{fmt.Errorf("%w %q", dataman.ErrUnknownOperation, ""), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", pg.ErrUnknownDatabase), http.StatusNotFound},
		{&pgconn.PgError{Code: "23505"}, http.StatusUnprocessableEntity},
		{&pgconn.PgError{Code: "42P01"}, http.StatusBadGateway},
		{&dataman.RemoteError{Status: 500}, http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d %v", tc.code, tc.err), func(t *testing.T) {
			sender := &stubSender{reply: func(dataman.Request) (dataman.Response, error) {
				return dataman.Response{}, tc.err
			}}
			r := newTestRouter(newTestServer(sender), RouterOptions{})
			w := do(t, r, http.MethodPost, "/api/dataman",
				`{"operation":"delete","database":"tokens","table":"public.captcha_tokens","criteria":{"id":1}}`)
			assert.Equal(t, tc.code, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestCompile(t *testing.T) {
	r := newTestRouter(newTestServer(&stubSender{}), RouterOptions{})

	w := do(t, r, http.MethodPost, "/api/dataman/compile",
		`{"operation":"update","database":"tokens","table":"public.captcha_tokens","values":{"usage_count":3},"criteria":{"id":7,"usage_count":2}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got CompiledQuery
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t,
		"UPDATE public.captcha_tokens AS t SET usage_count = $1::integer "+
			"WHERE (id = $2::integer AND usage_count = $3::integer) RETURNING row_to_json(t) AS json_row;",
		got.SQL)
	require.Len(t, got.Parameters, 3)
	assert.Equal(t, "integer", got.Parameters[0]["type"])
	assert.False(t, got.Empty)

	w = do(t, r, http.MethodPost, "/api/dataman/compile",
		`{"operation":"delete","database":"tokens","table":"public.captcha_tokens"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["empty"])
}

func TestCompile_FieldTypes(t *testing.T) {
	r := newTestRouter(newTestServer(&stubSender{}), RouterOptions{})
	body := func(fieldTypes string) string {
		return `{"operation":"update","database":"tokens","table":"public.captcha_tokens",` +
			`"values":{"usage_count":0},"criteria":{"id":1},"fieldTypes":` + fieldTypes + `}`
	}

	// тип не разбирается как имя типа: в SQL не попадает
	w := do(t, r, http.MethodPost, "/api/dataman/compile", body(`{"id":"int4 or true"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "or true)")

	// корректное имя, но расходится с реестром
	w = do(t, r, http.MethodPost, "/api/dataman/compile", body(`{"id":"text"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"type_mismatch"`)
	assert.Contains(t, w.Body.String(), `"field":"id"`)

	w = do(t, r, http.MethodPost, "/api/dataman/compile", body(`{"ghost":"integer"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"unknown_column"`)

	w = do(t, r, http.MethodPost, "/api/dataman/compile", body(`{"id":"INTEGER"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got CompiledQuery
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t,
		"UPDATE public.captcha_tokens AS t SET usage_count = $1::integer "+
			"WHERE (id = $2::integer) RETURNING row_to_json(t) AS json_row;",
		got.SQL)
}

func TestAPIKeyMiddleware(t *testing.T) {
	r := newTestRouter(newTestServer(&stubSender{}), RouterOptions{APIKey: "s3cret", KeyStyle: dataman.KeyStyleBearer})

	w := do(t, r, http.MethodGet, "/api/meta/tables", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodGet, "/api/meta/tables", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodGet, "/api/meta/tables", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	// служебные маршруты без ключа
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/metrics", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(newTestServer(&stubSender{}), RouterOptions{APIKey: "k", CORSOrigin: "https://app.example"})
	w := do(t, r, http.MethodOptions, "/api/dataman", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-API-KEY")
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestMeta(t *testing.T) {
	r := newTestRouter(newTestServer(&stubSender{}), RouterOptions{})

	w := do(t, r, http.MethodGet, "/api/meta/tables", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []metaTableListItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 3)

	w = do(t, r, http.MethodGet, "/api/meta/tables/tokens/public.captcha_tokens", "")
	require.Equal(t, http.StatusOK, w.Code)
	var tbl metaTable
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tbl))
	assert.Equal(t, "id", tbl.Columns[0].Name)
	assert.Equal(t, "::integer", tbl.Columns[0].Cast)
	assert.True(t, tbl.Columns[0].Identity)

	w = do(t, r, http.MethodGet, "/api/meta/tables/tokens/public.nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/api/meta/lint", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"issues":[]}`, w.Body.String())
}

func TestLintHandler(t *testing.T) {
	sender := &stubSender{reply: func(req dataman.Request) (dataman.Response, error) {
		var rows []jsonvalue.Value
		for _, c := range [][2]string{
			{"id", "integer"}, {"hashed_token", "text"}, {"ip_address", "text"},
			{"expires_at", "timestamp with time zone"}, {"usage_count", "integer"},
			{"max_usages", "bigint"}, {"invalidated", "boolean"}, {"note", "text"},
		} {
			v, _ := jsonvalue.FromAny(map[string]any{"column_name": c[0], "data_type": c[1], "udt_name": ""})
			rows = append(rows, v)
		}
		return dataman.Response{Success: true, Results: rows}, nil
	}}
	r := newTestRouter(newTestServer(sender), RouterOptions{})

	w := do(t, r, http.MethodGet, "/api/dataman/lint/tokens/public.captcha_tokens", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		OK     bool                `json:"ok"`
		Issues []dataman.IssueJSON `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.OK)

	codes := map[string]string{}
	for _, is := range body.Issues {
		codes[is.Column] = is.Code
	}
	assert.Equal(t, map[string]string{
		"created_at": "extra_column",
		"max_usages": "type_mismatch",
		"note":       "missing_column",
	}, codes)

	w = do(t, r, http.MethodGet, "/api/dataman/lint/tokens/public.nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	empty := &stubSender{}
	r = newTestRouter(newTestServer(empty), RouterOptions{})
	w = do(t, r, http.MethodGet, "/api/dataman/lint/tokens/public.captcha_tokens", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Table not found: public.captcha_tokens")
}

func TestCaptcherDisabled(t *testing.T) {
	r := newTestRouter(newTestServer(&stubSender{}), RouterOptions{APIKey: "k"})
	w := do(t, r, http.MethodPost, "/api/captcher/token", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCaptcherRateLimit(t *testing.T) {
	r := newTestRouter(newTestServer(&stubSender{}), RouterOptions{CaptcherRPM: 1, CaptcherBurst: 1})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, r, http.MethodPost, "/api/captcher/token", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, r, http.MethodPost, "/api/captcher/token", "").Code)
}

func TestAnalyticsCollect(t *testing.T) {
	sender := &stubSender{}
	r := newTestRouter(newTestServer(sender), RouterOptions{})

	w := do(t, r, http.MethodPost, "/api/analytics/collect",
		`{"site_id":"s1","session_id":"sess","ts":1700000000000,"events":[{"type":"page_view","url":"https://x.test/a"},{"type":""}]}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.JSONEq(t, `{"written":1}`, w.Body.String())
	assert.Equal(t, "web.events", sender.last(t).Table)

	w = do(t, r, http.MethodPost, "/api/analytics/collect", `{"session_id":"sess","events":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyticsEventsPage(t *testing.T) {
	sender := &stubSender{reply: func(dataman.Request) (dataman.Response, error) {
		a, _ := jsonvalue.Parse([]byte(`{"id":10,"site_id":"s1","session_id":"x","type":"click"}`))
		b, _ := jsonvalue.Parse([]byte(`{"id":11,"site_id":"s1","session_id":"x","type":"click"}`))
		return dataman.Response{Success: true, Results: []jsonvalue.Value{a, b}}, nil
	}}
	r := newTestRouter(newTestServer(sender), RouterOptions{})

	w := do(t, r, http.MethodGet, "/api/analytics/events?site=s1&limit=2&types=click&after=9", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["hasMore"])
	assert.Equal(t, float64(11), body["nextAfterId"])
	assert.Equal(t, 2, *sender.last(t).Limit)

	w = do(t, r, http.MethodGet, "/api/analytics/events?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"site"`)
	assert.Contains(t, w.Body.String(), `"field":"limit"`)
}

func TestAnalyticsFirstTouch(t *testing.T) {
	sender := &stubSender{reply: func(dataman.Request) (dataman.Response, error) {
		v, _ := jsonvalue.Parse([]byte(`{"session_id":"a","src":"google","med":"cpc"}`))
		return dataman.Response{Success: true, Results: []jsonvalue.Value{v}}, nil
	}}
	r := newTestRouter(newTestServer(sender), RouterOptions{})

	w := do(t, r, http.MethodPost, "/api/analytics/first-touch", `{"site_id":"s1","session_ids":["a"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"a":{"src":"google","med":"cpc"}}`, w.Body.String())
}

func TestAdminReload(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
tables:
  - database: crm
    table: people
    columns:
      - { name: id, type: uuid, primary: true }
`), 0o644))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
tables:
  - database: crm
    table: notes
    columns:
      - { name: body, type: text }
`), 0o644))

	s := newTestServer(&stubSender{})
	r := newTestRouter(s, RouterOptions{})

	w := do(t, r, http.MethodPost, "/api/admin/reload", fmt.Sprintf(`{"registry":%q}`, filepath.Join(dir, "missing.yaml")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/admin/reload", fmt.Sprintf(`{"registry":%q}`, bad))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "no_primary_key")
	_, err := s.Registry().Table("tokens", "public.captcha_tokens")
	assert.NoError(t, err, "registry must not change on a failed reload")

	w = do(t, r, http.MethodPost, "/api/admin/reload", fmt.Sprintf(`{"registry":%q}`, good))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, err = s.Registry().Table("crm", "people")
	assert.NoError(t, err)

	// без тела — путь из конфига (пусто = встроенный)
	w = do(t, r, http.MethodPost, "/api/admin/reload", "")
	require.Equal(t, http.StatusOK, w.Code)
	_, err = s.Registry().Table("tokens", "public.captcha_tokens")
	assert.NoError(t, err)
}

func TestValidateRequest(t *testing.T) {
	reg, err := registry.Parse([]byte(`
tables:
  - database: shop
    table: items
    columns:
      - { name: id, type: bigint, primary: true, identity: true }
      - { name: code, type: varchar(4), required: true }
      - { name: qty, type: integer, required: true, default: "0" }
      - { name: price, type: "numeric(10,2)" }
      - { name: active, type: boolean }
      - { name: tags, type: "text[]" }
`))
	require.NoError(t, err)
	tbl, err := reg.Table("shop", "items")
	require.NoError(t, err)

	req := func(op dataman.Operation, values string) dataman.Request {
		v, err := jsonvalue.Parse([]byte(values))
		require.NoError(t, err)
		return dataman.Request{Operation: op, Values: &v}
	}
	codes := func(errs []FieldError) map[string]string {
		out := map[string]string{}
		for _, e := range errs {
			out[e.Field] = e.Code
		}
		return out
	}

	assert.Empty(t, ValidateRequest(tbl, req(dataman.OpCreate, `{"code":"ab","price":"10.00","tags":["x"]}`)))

	assert.Equal(t, map[string]string{
		"code":   "too_long",
		"active": "type_mismatch",
		"tags":   "type_mismatch",
		"color":  "unknown_column",
	}, codes(ValidateRequest(tbl, req(dataman.OpCreate, `{"code":"abcde","active":1,"tags":"x","color":"red"}`))))

	assert.Equal(t, map[string]string{"code": "required"},
		codes(ValidateRequest(tbl, req(dataman.OpCreate, `{"price":1.5}`))))

	// update не требует обязательных колонок, но null в not null — ошибка
	assert.Equal(t, map[string]string{"code": "required"},
		codes(ValidateRequest(tbl, req(dataman.OpUpdate, `{"code":null}`))))
	assert.Empty(t, ValidateRequest(tbl, req(dataman.OpUpdate, `{"price":2}`)))

	order, err := jsonvalue.Parse([]byte(`[{"code":"desc nulls last"},{"qty":"desc; drop table items"},{"ghost":"asc"}]`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"qty": "type_mismatch", "ghost": "unknown_column"},
		codes(ValidateRequest(tbl, dataman.Request{Operation: dataman.OpFetch, Order: &order})))
}
