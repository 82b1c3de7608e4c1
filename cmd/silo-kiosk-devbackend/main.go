package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-kiosk/internal/api/http/middleware"
	"github.com/EternisAI/silo-kiosk/internal/devbackend"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Silo Kiosk Dev Backend", "version", AppVersion)

	store, err := devbackend.NewStore(config.Backend)
	if err != nil {
		slog.Error("Failed to seed backend", "error", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.RequestLogger(), gin.Recovery())
	devbackend.SetupRoute(engine, devbackend.NewHandler(store, config.Backend.AdminAPIKey))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("Starting HTTP server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	sig := <-quit
	slog.Info("Received shutdown signal", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
