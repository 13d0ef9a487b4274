package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dataman/internal/registry"
)

type reloadReq struct {
	Registry string `json:"registry"` // файл или папка; пусто — путь из конфига
}

// POST /api/admin/reload — перечитать реестр. Новый реестр с проблемами не применяется.
func AdminReloadHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reloadReq
		if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}

		path := strings.TrimSpace(req.Registry)
		if path == "" {
			path = s.RegistryPath
		}

		next, err := registry.Load(path)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Registry load error", "details": err.Error()})
			return
		}

		if issues := RegistryLint(next); len(issues) > 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "Registry has issues", "issues": issues})
			return
		}

		s.SwapRegistry(next)
		s.Log.Infow("registry reloaded", "path", path, "tables", len(next.Tables()))
		c.JSON(http.StatusOK, gin.H{"status": "reloaded", "tables": len(next.Tables())})
	}
}
