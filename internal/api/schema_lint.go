// api/schema_lint.go
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"dataman/internal/dataman"
	"dataman/internal/psqltype"
	"dataman/internal/registry"
)

type SchemaIssue struct {
	Table   string `json:"table"` // database/schema.table
	Column  string `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RegistryLint — противоречия внутри самого реестра (без похода в БД).
func RegistryLint(reg *registry.Registry) []SchemaIssue {
	var issues []SchemaIssue
	for _, t := range reg.Tables() {
		name := t.Database + "/" + t.Qualified()

		hasPK := false
		for _, col := range t.Columns {
			if col.Primary {
				hasPK = true
			}
			if col.Identity {
				switch col.Type.Kind {
				case psqltype.Integer, psqltype.BigInt, psqltype.SmallInt:
				default:
					issues = append(issues, SchemaIssue{
						Table: name, Column: col.Name, Code: "identity_not_integer",
						Message: fmt.Sprintf("identity column must be integer/bigint/smallint, got %s", col.Type),
					})
				}
			}
			if col.Type.Kind == psqltype.Custom && !t.View {
				issues = append(issues, SchemaIssue{
					Table: name, Column: col.Name, Code: "custom_type",
					Message: fmt.Sprintf("type %q is not in the built-in set; bootstrap DDL cannot create it", col.Type.DBType),
				})
			}
			if t.View && (col.Primary || col.Identity || col.Default != "") {
				issues = append(issues, SchemaIssue{
					Table: name, Column: col.Name, Code: "view_column_constraint",
					Message: "views cannot declare primary/identity/default columns",
				})
			}
		}
		if !hasPK && !t.View {
			issues = append(issues, SchemaIssue{
				Table: name, Code: "no_primary_key",
				Message: "table has no primary key; update/delete by id cannot be expressed safely",
			})
		}
	}
	return issues
}

// GET /api/meta/lint
func RegistryLintHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		issues := RegistryLint(s.Registry())
		if issues == nil {
			issues = []SchemaIssue{}
		}
		c.JSON(http.StatusOK, gin.H{"issues": issues})
	}
}

// GET /api/dataman/lint/:database/:table — реестр против information_schema.
func LintHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		db, table := c.Param("database"), c.Param("table")
		expected, err := s.Registry().Expected(db, table)
		if err != nil {
			abortWith(c, err)
			return
		}
		issues, err := s.Linter().Lint(c.Request.Context(), db, table, expected)
		if err != nil {
			abortWith(c, err)
			return
		}
		out := make([]dataman.IssueJSON, 0, len(issues))
		for _, is := range issues {
			out = append(out, is.JSON())
		}
		c.JSON(http.StatusOK, gin.H{
			"database": db,
			"table":    table,
			"ok":       len(out) == 0,
			"issues":   out,
		})
	}
}
