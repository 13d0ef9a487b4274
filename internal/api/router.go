// api/router.go
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dataman/internal/dataman"
)

type RouterOptions struct {
	APIKey        string
	KeyStyle      dataman.APIKeyStyle
	CORSOrigin    string
	CaptcherRPM   int
	CaptcherBurst int
}

func NewRouter(s *Server, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.Log), CORSMiddleware(opts.CORSOrigin, opts.KeyStyle))

	// служебные — без ключа
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// captcher зовут браузеры: без ключа, но с лимитом на IP
	captcherGroup := r.Group("/api/captcher", RateLimitMiddleware(opts.CaptcherRPM, opts.CaptcherBurst))
	{
		captcherGroup.POST("/token", IssueTokenHandler(s))
		captcherGroup.POST("/validate", ValidateTokenHandler(s))
	}

	apiGroup := r.Group("/api", APIKeyMiddleware(opts.KeyStyle, opts.APIKey, s.Log))
	{
		apiGroup.POST("/dataman", ExecuteHandler(s))
		apiGroup.POST("/dataman/compile", CompileHandler(s))
		apiGroup.GET("/dataman/lint/:database/:table", LintHandler(s))
		apiGroup.GET("/dataman/rows/:database/:table", ListHandler(s))

		apiGroup.GET("/meta/tables", MetaListHandler(s))
		apiGroup.GET("/meta/tables/:database/:table", MetaTableHandler(s))
		apiGroup.GET("/meta/lint", RegistryLintHandler(s))

		apiGroup.POST("/analytics/collect", CollectHandler(s))
		apiGroup.GET("/analytics/events", EventsPageHandler(s))
		apiGroup.POST("/analytics/first-touch", FirstTouchHandler(s))

		apiGroup.POST("/admin/reload", AdminReloadHandler(s))
	}
	return r
}

// RunServer — до отмены ctx, затем graceful shutdown.
func RunServer(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
