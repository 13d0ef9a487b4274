package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"

	"dataman/internal/dataman"
	"dataman/internal/pg"
	"dataman/internal/registry"
)

// statusFor — HTTP-код для ошибки исполнения.
func statusFor(err error) int {
	var (
		critErr   *dataman.CriteriaError
		pgErr     *pgconn.PgError
		remoteErr *dataman.RemoteError
		lintIssue dataman.LintIssue
	)
	switch {
	case errors.Is(err, dataman.ErrEmptyQuery), errors.Is(err, dataman.ErrUnknownOperation), errors.As(err, &critErr):
		return http.StatusBadRequest
	case errors.Is(err, pg.ErrUnknownDatabase), errors.Is(err, registry.ErrUnknownTable):
		return http.StatusNotFound
	case errors.As(err, &lintIssue) && lintIssue.Kind == dataman.IssueSchemaNotFound:
		return http.StatusNotFound
	case errors.As(err, &pgErr):
		// класс 22 (data exception) и 23 (integrity) — вина входных данных
		if len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "22" || pgErr.Code[:2] == "23") {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// abortWith — {"success":false,"error":...}; форма совпадает с dataman.Response.
func abortWith(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), dataman.Response{Success: false, Error: err.Error()})
}
