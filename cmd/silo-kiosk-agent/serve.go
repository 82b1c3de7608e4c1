package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	internalhttp "github.com/EternisAI/silo-kiosk/internal/api/http"
	"github.com/EternisAI/silo-kiosk/internal/kiosk"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kiosk agent and its local API",
	RunE: func(*cobra.Command, []string) error {
		return serve()
	},
}

func serve() error {
	slog.Info("Silo Kiosk Agent", "version", AppVersion, "device_id", config.Kiosk.Backend.DeviceID)

	k, err := kiosk.New(config.Kiosk)
	if err != nil {
		return fmt.Errorf("failed to initialize kiosk: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	if origins := config.Http.AllowedOrigins; len(origins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowMethods:  []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
			AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	} else {
		slog.Info("No allowed origins configured, cross-origin requests are refused")
	}
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, &internalhttp.Services{Kiosk: k})

	server := &http.Server{
		Addr:    config.Http.Addr(),
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

	slog.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			// open event streams keep Shutdown waiting until the deadline
			slog.Warn("HTTP server shutdown error", "error", err)
			_ = server.Close()
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		k.Stop()
	}()

	wg.Wait()
	slog.Info("Shutdown complete")
	return nil
}
