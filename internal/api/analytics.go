package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"dataman/internal/analytics"
)

// POST /api/analytics/collect
func CollectHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var env analytics.Envelope
		if err := c.ShouldBindJSON(&env); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid envelope", "details": err.Error()})
			return
		}
		if env.TS == 0 {
			env.TS = time.Now().UnixMilli()
		}
		n, err := s.Analytics.Ingest(c.Request.Context(), env)
		if err != nil {
			s.Log.Warnw("analytics ingest failed", "site", env.SiteID, "written", n, "error", err)
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"written": n})
	}
}

// parsePageQuery: site, from, to (RFC3339), types=a,b, path, after, limit.
func parsePageQuery(c *gin.Context) (analytics.PageQuery, []FieldError) {
	var errs []FieldError
	q := analytics.PageQuery{SiteID: strings.TrimSpace(c.Query("site"))}
	if q.SiteID == "" {
		errs = append(errs, ferr(ErrRequired, "site", "Field 'site' is required"))
	}

	parseTime := func(name string, def time.Time) time.Time {
		raw := strings.TrimSpace(c.Query(name))
		if raw == "" {
			return def
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			errs = append(errs, ferr(ErrTypeMismatch, name, "must be RFC3339 datetime"))
		}
		return t
	}
	now := time.Now().UTC()
	q.To = parseTime("to", now)
	q.From = parseTime("from", q.To.Add(-24*time.Hour))

	if tv := strings.TrimSpace(c.Query("types")); tv != "" {
		for _, p := range strings.Split(tv, ",") {
			if p = strings.TrimSpace(p); p != "" {
				q.Types = append(q.Types, p)
			}
		}
	}
	q.URLPathPrefix = strings.TrimSpace(c.Query("path"))

	if av := c.Query("after"); av != "" {
		n, err := strconv.ParseInt(av, 10, 64)
		if err != nil {
			errs = append(errs, ferr(ErrTypeMismatch, "after", "must be an integer id"))
		} else {
			q.AfterID = &n
		}
	}
	if lv := c.Query("limit"); lv != "" {
		n, err := strconv.Atoi(lv)
		if err != nil || n <= 0 || n > 10000 {
			errs = append(errs, ferr(ErrTypeMismatch, "limit", "must be 1..10000"))
		} else {
			q.PageSize = n
		}
	}
	return q, errs
}

// GET /api/analytics/events
func EventsPageHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, errs := parsePageQuery(c)
		if len(errs) > 0 {
			c.JSON(statusForErrors(errs), gin.H{"errors": errs})
			return
		}
		page, err := s.Analytics.FetchEventsPage(c.Request.Context(), q)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"rows":        page.Rows,
			"hasMore":     page.HasMore,
			"nextAfterId": page.NextAfterID,
		})
	}
}

type firstTouchReq struct {
	SiteID     string   `json:"site_id" binding:"required"`
	SessionIDs []string `json:"session_ids"`
}

// POST /api/analytics/first-touch
func FirstTouchHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req firstTouchReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "details": err.Error()})
			return
		}
		out, err := s.Analytics.FirstTouch(c.Request.Context(), req.SiteID, req.SessionIDs)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}
