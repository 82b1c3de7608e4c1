package backend

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-kiosk/internal/devbackend"
)

// Server runs the development backend on a loopback port. While down it
// drops every connection without a response.
type Server struct {
	Store *devbackend.Store
	URL   string

	down   atomic.Bool
	server *httptest.Server
}

func Start(cfg devbackend.Config) (*Server, error) {
	store, err := devbackend.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to seed backend: %w", err)
	}

	engine := gin.New()
	devbackend.SetupRoute(engine, devbackend.NewHandler(store, cfg.AdminAPIKey))

	s := &Server{Store: store}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.down.Load() {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
					return
				}
			}
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		engine.ServeHTTP(w, r)
	}))
	s.URL = s.server.URL
	return s, nil
}

func (s *Server) SetDown(down bool) {
	s.down.Store(down)
}

func (s *Server) Close() {
	s.server.Close()
}
