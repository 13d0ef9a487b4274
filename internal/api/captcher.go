package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func captcherAvailable(s *Server, c *gin.Context) bool {
	if s.Captcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "captcher is not configured"})
		return false
	}
	return true
}

// POST /api/captcher/token
func IssueTokenHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !captcherAvailable(s, c) {
			return
		}
		res, err := s.Captcher.IssueToken(c.Request.Context(), c.ClientIP())
		if err != nil {
			s.Log.Errorw("captcher issue failed", "ip", c.ClientIP(), "error", err)
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type validateReq struct {
	Token string `json:"token" binding:"required"`
}

// POST /api/captcher/validate — 200 при успехе, 403 с reason иначе.
func ValidateTokenHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !captcherAvailable(s, c) {
			return
		}
		var req validateReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
			return
		}
		v := s.Captcher.ValidateToken(c.Request.Context(), req.Token, c.ClientIP())
		if !v.Success {
			c.JSON(http.StatusForbidden, v)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}
