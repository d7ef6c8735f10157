package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ostrovskym/relaygate-server/internal/auth"
	"github.com/ostrovskym/relaygate-server/internal/config"
	"github.com/ostrovskym/relaygate-server/internal/gateway"
	"github.com/ostrovskym/relaygate-server/internal/store"
)

// NewServer builds the HTTP server: auth endpoints, chat history endpoints
// and the WebSocket entry point of the gateway.
func NewServer(gw *gateway.Gateway, authService *auth.Service, st store.Store, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	apiHandlers := NewAPIHandlers(authService, logger)
	authLimit := RateLimitMiddleware(cfg.AuthRateLimit, time.Minute)
	router.POST("/api/register", authLimit, apiHandlers.Register)
	router.POST("/api/login", authLimit, apiHandlers.Login)

	chatHandlers := NewChatHandlers(st, logger)
	api := router.Group("/api", AuthMiddleware(authService, logger))
	api.GET("/chats", chatHandlers.ListChats)
	api.GET("/chats/:id/messages", chatHandlers.ListMessages)

	wsHandler := NewWSHandler(gw, authService, logger)
	router.GET("/ws", wsHandler.Handle)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
