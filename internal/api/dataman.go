package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dataman/internal/dataman"
	"dataman/internal/registry"
)

// prepare: типы колонок из реестра + проверка имён. Вне реестра — только с AllowUnregistered.
func (s *Server) prepare(c *gin.Context, req *dataman.Request) bool {
	if strings.TrimSpace(req.Database) == "" || strings.TrimSpace(req.Table) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "database and table are required"})
		return false
	}
	reg := s.Registry()
	t, err := reg.Table(req.Database, req.Table)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownTable) && s.AllowUnregistered {
			return true
		}
		abortWith(c, err)
		return false
	}
	if err := reg.Complete(req); err != nil {
		abortWith(c, err)
		return false
	}
	if errs := ValidateRequest(t, *req); len(errs) > 0 {
		c.AbortWithStatusJSON(statusForErrors(errs), gin.H{"error": "invalid request", "errors": errs})
		return false
	}
	return true
}

// POST /api/dataman
func ExecuteHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dataman.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "details": err.Error()})
			return
		}
		if !s.prepare(c, &req) {
			return
		}
		res, err := s.Sender.Send(c.Request.Context(), req)
		if err != nil {
			s.Log.Warnw("dataman request failed",
				"operation", req.Operation, "database", req.Database, "table", req.Table, "error", err)
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type CompiledQuery struct {
	SQL        string           `json:"sql"`
	Parameters []map[string]any `json:"parameters"`
	Empty      bool             `json:"empty,omitempty"`
}

// POST /api/dataman/compile — SQL без исполнения.
func CompileHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dataman.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "details": err.Error()})
			return
		}
		if !s.prepare(c, &req) {
			return
		}
		q, err := s.Builder.Build(req)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, Compiled(q))
	}
}

// Compiled — форма ответа compile (и вывода datamanctl compile).
func Compiled(q dataman.Query) CompiledQuery {
	params := make([]map[string]any, 0, len(q.Params))
	for _, p := range q.Params {
		params = append(params, p.Describe())
	}
	return CompiledQuery{SQL: q.SQL, Parameters: params, Empty: q.IsEmpty()}
}
