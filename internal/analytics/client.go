package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"dataman/internal/dataman"
	"dataman/internal/jsonvalue"
	"dataman/internal/logging"
)

// Client — операции над базой analytics поверх любого dataman.Sender.
type Client struct {
	sender dataman.Sender
	log    *zap.SugaredLogger
}

func NewClient(sender dataman.Sender, log *zap.SugaredLogger) *Client {
	return &Client{sender: sender, log: logging.OrNop(log)}
}

func pgTimestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func eq(field string, v jsonvalue.Value) jsonvalue.Value {
	return jsonvalue.NewObject(jsonvalue.Pair{Key: field, Value: jsonvalue.NewObject(jsonvalue.Pair{Key: "$eq", Value: v})})
}

func op(field, operator string, v jsonvalue.Value) jsonvalue.Value {
	return jsonvalue.NewObject(jsonvalue.Pair{Key: field, Value: jsonvalue.NewObject(jsonvalue.Pair{Key: operator, Value: v})})
}

func and(parts ...jsonvalue.Value) jsonvalue.Value {
	return jsonvalue.NewObject(jsonvalue.Pair{Key: "$and", Value: jsonvalue.NewArray(parts...)})
}

func ascBy(field string) *jsonvalue.Value {
	return dataman.Ptr(jsonvalue.NewArray(jsonvalue.NewObject(jsonvalue.Pair{Key: field, Value: jsonvalue.NewString("asc")})))
}

// EventValues — values для INSERT одного события. Порядок колонок стабилен.
func EventValues(env Envelope, e Event) jsonvalue.Value {
	occurred := pgTimestamp(time.UnixMilli(env.TS))
	pairs := []jsonvalue.Pair{
		{Key: "site_id", Value: jsonvalue.NewString(env.SiteID)},
		{Key: "occurred_at", Value: jsonvalue.NewString(occurred)},
	}
	if env.VisitorID != nil {
		pairs = append(pairs, jsonvalue.Pair{Key: "visitor_id", Value: jsonvalue.NewString(*env.VisitorID)})
	} else {
		pairs = append(pairs, jsonvalue.Pair{Key: "visitor_id", Value: jsonvalue.NewNull()})
	}
	pairs = append(pairs,
		jsonvalue.Pair{Key: "session_id", Value: jsonvalue.NewString(env.SessionID)},
		jsonvalue.Pair{Key: "type", Value: jsonvalue.NewString(e.Type)},
	)

	str := func(k string, p *string) {
		if p != nil {
			pairs = append(pairs, jsonvalue.Pair{Key: k, Value: jsonvalue.NewString(*p)})
		}
	}
	num := func(k string, p *int64) {
		if p != nil {
			pairs = append(pairs, jsonvalue.Pair{Key: k, Value: jsonvalue.NewInt(*p)})
		}
	}
	dbl := func(k string, p *float64) {
		if p != nil {
			pairs = append(pairs, jsonvalue.Pair{Key: k, Value: jsonvalue.NewDouble(*p)})
		}
	}

	str("url", e.URL)
	if e.URL != nil {
		if u, err := url.Parse(*e.URL); err == nil && u.Path != "" {
			pairs = append(pairs, jsonvalue.Pair{Key: "url_path", Value: jsonvalue.NewString(u.Path)})
		}
	}
	str("ref", e.Ref)
	str("title", e.Title)
	str("lang", e.Lang)
	str("ua", e.UA)
	num("vp_w", e.VpW)
	num("vp_h", e.VpH)
	num("ms", e.MS)
	dbl("x", e.X)
	dbl("y", e.Y)
	str("el", e.El)
	str("form_id", e.ID)
	str("form_step", e.Step)
	str("tz", e.TZ)
	dbl("dpr", e.DPR)
	if e.OK != nil {
		pairs = append(pairs, jsonvalue.Pair{Key: "ok", Value: jsonvalue.NewBool(*e.OK)})
	}
	str("subdomain", e.Subdomain)
	str("location", e.Location)
	str("src", e.Src)
	str("med", e.Med)
	str("campaign", e.Campaign)
	str("landing_path", e.LandingPath)

	if raw, err := jsonvalue.FromAny(e); err == nil {
		pairs = append(pairs, jsonvalue.Pair{Key: "raw", Value: raw})
	}
	return jsonvalue.NewObject(pairs...)
}

// Ingest пишет каждое событие пачки отдельным INSERT. Возвращает число записанных.
func (c *Client) Ingest(ctx context.Context, env Envelope) (int, error) {
	written := 0
	for i, e := range env.Events {
		if strings.TrimSpace(e.Type) == "" {
			c.log.Warnw("analytics event without type skipped", "site", env.SiteID, "index", i)
			continue
		}
		values := EventValues(env, e)
		req := dataman.Request{
			Operation:  dataman.OpCreate,
			Database:   Database,
			Table:      EventsTable,
			Values:     &values,
			FieldTypes: eventFieldTypes,
		}
		if _, err := c.sender.Send(ctx, req); err != nil {
			return written, fmt.Errorf("ingest event %d (%s): %w", i, e.Type, err)
		}
		written++
	}
	return written, nil
}

// PageQuery — фильтр выборки событий.
type PageQuery struct {
	SiteID        string
	From, To      time.Time
	Types         []string
	URLPathPrefix string // поддерево страниц, "/blog/" -> url_path LIKE '/blog/%'
	AfterID       *int64 // keyset: id > AfterID
	PageSize      int
}

type EventsPage struct {
	Rows        []EventRow
	HasMore     bool
	NextAfterID *int64
}

// PageRequest — Request для одной страницы, по id ASC.
func PageRequest(q PageQuery) dataman.Request {
	size := q.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	clauses := []jsonvalue.Value{
		eq("site_id", jsonvalue.NewString(q.SiteID)),
		op("occurred_at", "$between", jsonvalue.NewArray(
			jsonvalue.NewString(pgTimestamp(q.From)),
			jsonvalue.NewString(pgTimestamp(q.To)),
		)),
	}
	if len(q.Types) > 0 {
		clauses = append(clauses, op("type", "$in", jsonvalue.Strings(q.Types...)))
	}
	if q.URLPathPrefix != "" {
		pfx := q.URLPathPrefix
		if !strings.HasSuffix(pfx, "/") {
			pfx += "/"
		}
		clauses = append(clauses, op("url_path", "$like", jsonvalue.NewString(pfx+"%")))
	}
	if q.AfterID != nil {
		clauses = append(clauses, op("id", "$gt", jsonvalue.NewInt(*q.AfterID)))
	}
	criteria := and(clauses...)
	return dataman.Request{
		Operation:  dataman.OpFetch,
		Database:   Database,
		Table:      EventsTable,
		Criteria:   &criteria,
		FieldTypes: eventFieldTypes,
		Order:      ascBy("id"),
		Limit:      dataman.Limit(size),
	}
}

func (c *Client) FetchEventsPage(ctx context.Context, q PageQuery) (EventsPage, error) {
	req := PageRequest(q)
	res, err := c.sender.Send(ctx, req)
	if err != nil {
		return EventsPage{}, err
	}
	if !res.Success && res.Error != "" {
		return EventsPage{}, errors.New(res.Error)
	}
	rows := make([]EventRow, 0, len(res.Results))
	for _, v := range res.Results {
		var r EventRow
		if err := jsonvalue.Decode(v, &r); err != nil {
			return EventsPage{}, fmt.Errorf("decode event row: %w", err)
		}
		rows = append(rows, r)
	}
	page := EventsPage{Rows: rows, HasMore: len(rows) == *req.Limit}
	if n := len(rows); n > 0 {
		last := rows[n-1].ID
		page.NextAfterID = &last
	}
	return page, nil
}

// StreamEvents проходит все страницы и отдаёт строки в fn. Ошибка fn останавливает обход.
func (c *Client) StreamEvents(ctx context.Context, q PageQuery, fn func(EventRow) error) error {
	q.AfterID = nil
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := c.FetchEventsPage(ctx, q)
		if err != nil {
			return err
		}
		for _, r := range page.Rows {
			if err := fn(r); err != nil {
				return err
			}
		}
		if !page.HasMore || page.NextAfterID == nil {
			return nil
		}
		q.AfterID = page.NextAfterID
	}
}

// FormEvents — события форм, отфильтрованные по form_id.
func (c *Client) FormEvents(ctx context.Context, siteID, formID string, from, to time.Time, fn func(EventRow) error) error {
	q := PageQuery{
		SiteID: siteID, From: from, To: to,
		Types: []string{"form_start", "form_step_view", "form_submit", "form_validation_error"},
	}
	return c.StreamEvents(ctx, q, func(r EventRow) error {
		if r.FormID == nil || *r.FormID != formID {
			return nil
		}
		return fn(r)
	})
}

// FirstTouch — src/med первого касания для сессий.
func (c *Client) FirstTouch(ctx context.Context, siteID string, sessionIDs []string) (map[string]Touch, error) {
	out := map[string]Touch{}
	if len(sessionIDs) == 0 {
		return out, nil
	}
	if len(sessionIDs) > maxFirstTouchIDs {
		return nil, fmt.Errorf("first touch: at most %d session ids per call, got %d", maxFirstTouchIDs, len(sessionIDs))
	}

	criteria := and(
		eq("site_id", jsonvalue.NewString(siteID)),
		op("session_id", "$in", jsonvalue.Strings(sessionIDs...)),
	)
	res, err := c.sender.Send(ctx, dataman.Request{
		Operation: dataman.OpFetch,
		Database:  Database,
		Table:     FirstTouchView,
		Criteria:  &criteria,
		Order:     ascBy("session_id"),
		Limit:     dataman.Limit(len(sessionIDs)),
	})
	if err != nil {
		return nil, err
	}
	if !res.Success && res.Error != "" {
		return nil, errors.New(res.Error)
	}
	for _, v := range res.Results {
		var row struct {
			SessionID string `json:"session_id"`
			Src       string `json:"src"`
			Med       string `json:"med"`
		}
		if err := jsonvalue.Decode(v, &row); err != nil {
			return nil, fmt.Errorf("decode first touch: %w", err)
		}
		out[row.SessionID] = Touch{Src: row.Src, Med: row.Med}
	}
	return out, nil
}
