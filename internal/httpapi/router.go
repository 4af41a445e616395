package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/middleware"
	"github.com/suPer8Hu/chat-relay/internal/metrics"
)

func NewRouter(h *handlers.Handler, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// auth
	r.POST("/login", h.Login)
	if !h.Cfg.AdminEnabled() {
		return r
	}
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Cfg.JWTSecret))
	authGroup.GET("/conversations/:user_id", h.GetConversation)
	authGroup.DELETE("/conversations/:user_id", h.DeleteConversation)
	authGroup.GET("/conversations/:user_id/jobs", h.ListJobs)
	authGroup.GET("/conversations/:user_id/diagnostics", h.ListDiagnostics)
	return r
}
