// Package api exposes the location engine over HTTP+JSON and a push
// channel for live snapshots.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-locshare/internal/config"
	"github.com/npezzotti/go-locshare/internal/server"
)

type LocShareApp struct {
	log     *log.Logger
	rs      *server.RoomServer
	mux     *http.Server
	baseURL string
}

func NewLocShareApp(mux *http.ServeMux, logger *log.Logger, rs *server.RoomServer, cfg *config.Config) *LocShareApp {
	s := &LocShareApp{
		log:     logger,
		rs:      rs,
		baseURL: cfg.BaseURL,
	}

	mux.HandleFunc("POST /api/join", s.join)
	mux.HandleFunc("POST /api/location", s.updateLocation)
	mux.HandleFunc("POST /api/leave", s.leave)
	mux.HandleFunc("GET /api/room", s.roomSnapshot)
	mux.HandleFunc("GET /api/events", s.events)
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("/", s.notFound)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *LocShareApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *LocShareApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
