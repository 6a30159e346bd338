package server

import (
	"net/http"
	"time"

	"github.com/Mariosam2/chat-app-backend/internal/auth"
	"github.com/Mariosam2/chat-app-backend/internal/config"
	"github.com/Mariosam2/chat-app-backend/internal/metrics"
	"github.com/Mariosam2/chat-app-backend/internal/mw"
	"github.com/Mariosam2/chat-app-backend/internal/service"
	"github.com/Mariosam2/chat-app-backend/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *ws.Hub) *gin.Engine {
	userSvc := service.NewUserService(db, cfg)
	chatSvc := service.NewChatService(db)
	msgSvc := service.NewMessageService(db)
	searchSvc := service.NewSearchService(db)
	h := NewHandler(cfg, userSvc, chatSvc, msgSvc, searchSvc)
	sync := ws.NewSynchronizer(hub, chatSvc, msgSvc, userSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.ClientOrigin))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh-token", h.RefreshToken)
	api.POST("/auth/logout", h.Logout)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))

	authed.GET("/users/:userUUID", h.GetUser)
	authed.GET("/users/chat/:chatUUID", h.GetChatUsers)
	authed.GET("/users/message/:messageUUID", h.GetMessageUsers)
	authed.PUT("/users/:userUUID", h.UpdateUser)
	authed.DELETE("/users/:userUUID", h.DeleteUser)

	authed.POST("/chats", h.CreateChat)
	authed.GET("/chats/user/:userUUID", h.GetUserChats)
	authed.DELETE("/chats/chat/:chatUUID", h.DeleteChatForAll)
	authed.DELETE("/chats/chat/:chatUUID/user/:userUUID", h.DeleteChatForMe)

	authed.GET("/messages/user/:userUUID/chat/:chatUUID", h.GetChatUserMessages)
	authed.DELETE("/messages/message/:messageUUID", h.DeleteMessageForAll)

	authed.GET("/search/:userUUID", h.Search)

	r.GET("/ws", ws.Serve(hub, sync, cfg))

	return r
}
