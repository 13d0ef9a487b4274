// Package analytics — готовые запросы Dataman к базе analytics: приём событий,
// постраничная выборка web.events и first-touch по сессиям.
package analytics

import (
	"encoding/json"

	"dataman/internal/psqltype"
)

const (
	Database         = "analytics"
	EventsTable      = "web.events"
	FirstTouchView   = "web.v_session_first_touch"
	DefaultPageSize  = 2000
	maxFirstTouchIDs = 1000
)

// Envelope — пачка событий от сборщика на странице.
type Envelope struct {
	SiteID    string  `json:"site_id" binding:"required"`
	VisitorID *string `json:"visitor_id,omitempty"`
	SessionID string  `json:"session_id" binding:"required"`
	TS        int64   `json:"ts"` // unix ms
	Events    []Event `json:"events" binding:"required"`
}

// Event — одно событие; необязательные поля пишутся, только если пришли.
type Event struct {
	Type  string   `json:"type"`
	URL   *string  `json:"url,omitempty"`
	Ref   *string  `json:"ref,omitempty"`
	Title *string  `json:"title,omitempty"`
	Lang  *string  `json:"lang,omitempty"`
	UA    *string  `json:"ua,omitempty"`
	VpW   *int64   `json:"vp_w,omitempty"`
	VpH   *int64   `json:"vp_h,omitempty"`
	MS    *int64   `json:"ms,omitempty"`
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	El    *string  `json:"el,omitempty"`
	ID    *string  `json:"id,omitempty"`   // form_id
	Step  *string  `json:"step,omitempty"` // form_step
	TZ    *string  `json:"tz,omitempty"`
	DPR   *float64 `json:"dpr,omitempty"`
	OK    *bool    `json:"ok,omitempty"`

	Subdomain   *string `json:"subdomain,omitempty"`
	Location    *string `json:"location,omitempty"`
	Src         *string `json:"src,omitempty"`
	Med         *string `json:"med,omitempty"`
	Campaign    *string `json:"campaign,omitempty"`
	LandingPath *string `json:"landing_path,omitempty"`
}

// EventRow — строка web.events, как её отдаёт row_to_json.
type EventRow struct {
	ID         int64           `json:"id"`
	SiteID     string          `json:"site_id"`
	OccurredAt string          `json:"occurred_at"`
	VisitorID  *string         `json:"visitor_id"`
	SessionID  string          `json:"session_id"`
	Type       string          `json:"type"`
	URL        *string         `json:"url"`
	URLPath    *string         `json:"url_path"`
	Ref        *string         `json:"ref"`
	Title      *string         `json:"title"`
	Lang       *string         `json:"lang"`
	UA         *string         `json:"ua"`
	VpW        *int64          `json:"vp_w"`
	VpH        *int64          `json:"vp_h"`
	MS         *int64          `json:"ms"`
	X          *float64        `json:"x"`
	Y          *float64        `json:"y"`
	El         *string         `json:"el"`
	FormID     *string         `json:"form_id"`
	FormStep   *string         `json:"form_step"`
	TZ         *string         `json:"tz"`
	DPR        *float64        `json:"dpr"`
	OK         *bool           `json:"ok"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

// Touch — источник первого касания сессии.
type Touch struct {
	Src string `json:"src"`
	Med string `json:"med"`
}

var eventFieldTypes = map[string]psqltype.Type{
	"id":           psqltype.TBigInt,
	"site_id":      psqltype.TText,
	"occurred_at":  psqltype.TTimestamptz,
	"visitor_id":   psqltype.TText,
	"session_id":   psqltype.TText,
	"type":         psqltype.TText,
	"url":          psqltype.TText,
	"url_path":     psqltype.TText,
	"ref":          psqltype.TText,
	"title":        psqltype.TText,
	"lang":         psqltype.TText,
	"ua":           psqltype.TText,
	"vp_w":         psqltype.TInteger,
	"vp_h":         psqltype.TInteger,
	"ms":           psqltype.TInteger,
	"x":            psqltype.TDoublePrecision,
	"y":            psqltype.TDoublePrecision,
	"el":           psqltype.TText,
	"form_id":      psqltype.TText,
	"form_step":    psqltype.TText,
	"tz":           psqltype.TText,
	"dpr":          psqltype.TDoublePrecision,
	"ok":           psqltype.TBoolean,
	"raw":          psqltype.TJSONB,
	"subdomain":    psqltype.TText,
	"location":     psqltype.TText,
	"src":          psqltype.TText,
	"med":          psqltype.TText,
	"campaign":     psqltype.TText,
	"landing_path": psqltype.TText,
}
