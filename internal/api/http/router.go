package http

import (
	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-kiosk/internal/api/http/handler"
	"github.com/EternisAI/silo-kiosk/internal/api/http/middleware"
	"github.com/EternisAI/silo-kiosk/internal/kiosk"
	"github.com/EternisAI/silo-kiosk/internal/offlineauth"
)

type Services struct {
	Kiosk *kiosk.Kiosk
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	k := srvs.Kiosk
	if k == nil {
		return
	}

	ticketHandler := handler.NewTicketHandler(k)
	queueHandler := handler.NewQueueHandler(k)
	statusHandler := handler.NewStatusHandler(k)
	configHandler := handler.NewConfigHandler(k)
	adminHandler := handler.NewAdminHandler(k.Auth)
	activationHandler := handler.NewActivationHandler(k.Activation)
	eventsHandler := handler.NewEventsHandler(k)

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/status", statusHandler.Get)
		v1.GET("/events", eventsHandler.Stream)
		v1.POST("/tickets", ticketHandler.Submit)
		v1.GET("/config", configHandler.Get)
		v1.POST("/activation/check", activationHandler.Check)

		v1.POST("/admin/login", adminHandler.Login)
		v1.POST("/admin/logout", adminHandler.Logout)
		v1.GET("/admin/session", middleware.SessionAuth(k.Auth, ""), adminHandler.Session)

		v1.GET("/queue", middleware.SessionAuth(k.Auth, offlineauth.PermQueueView), queueHandler.List)
		v1.POST("/queue/retry", middleware.SessionAuth(k.Auth, offlineauth.PermQueueRetry), queueHandler.Retry)
		v1.PATCH("/config", middleware.SessionAuth(k.Auth, offlineauth.PermConfigEdit), configHandler.Edit)
		v1.POST("/config/reload", middleware.SessionAuth(k.Auth, offlineauth.PermConfigEdit), configHandler.Reload)
	}
}
