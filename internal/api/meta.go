package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ===== META HANDLERS =====

type metaTableListItem struct {
	Database string `json:"database"`
	Table    string `json:"table"`
	View     bool   `json:"view,omitempty"`
	Columns  int    `json:"columns"`
}

// GET /api/meta/tables
func MetaListHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		tables := s.Registry().Tables()
		out := make([]metaTableListItem, 0, len(tables))
		for _, t := range tables {
			out = append(out, metaTableListItem{
				Database: t.Database,
				Table:    t.Qualified(),
				View:     t.View,
				Columns:  len(t.Columns),
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

type metaColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Cast     string `json:"cast"`
	Primary  bool   `json:"primary,omitempty"`
	Identity bool   `json:"identity,omitempty"`
	Required bool   `json:"required,omitempty"`
	Unique   bool   `json:"unique,omitempty"`
	Default  string `json:"default,omitempty"`
}

type metaTable struct {
	Database    string         `json:"database"`
	Table       string         `json:"table"`
	View        bool           `json:"view,omitempty"`
	Columns     []metaColumn   `json:"columns"`
	Constraints map[string]any `json:"constraints,omitempty"` // {"unique":[["site_id","session_id"]]}
}

// GET /api/meta/tables/:database/:table
func MetaTableHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := s.Registry().Table(c.Param("database"), c.Param("table"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
			return
		}

		cols := make([]metaColumn, 0, len(t.Columns))
		for _, col := range t.Columns {
			cols = append(cols, metaColumn{
				Name:     col.Name,
				Type:     col.Type.String(),
				Cast:     col.Type.CastSuffix(),
				Primary:  col.Primary,
				Identity: col.Identity,
				Required: col.Required,
				Unique:   col.Unique,
				Default:  col.Default,
			})
		}

		var constraints map[string]any
		if len(t.Unique) > 0 {
			uniq := make([][]string, 0, len(t.Unique))
			for _, set := range t.Unique {
				uniq = append(uniq, append([]string(nil), set...))
			}
			constraints = map[string]any{"unique": uniq}
		}

		c.JSON(http.StatusOK, metaTable{
			Database:    t.Database,
			Table:       t.Qualified(),
			View:        t.View,
			Columns:     cols,
			Constraints: constraints,
		})
	}
}
