// Package server wires the chi router, CORS middleware, and HTTP
// lifecycle around internal/handlers. It generalizes the teacher's
// Server{New, Start, Shutdown} lifecycle from an html-template desktop
// server to a JSON API router, adopting chi + rs/cors in the manner of
// the pack's transit-app example rather than the teacher's hand-rolled
// net/http mux and middleware functions.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"commuteplanner/internal/handlers"
)

// Server wraps the HTTP server and its chi router.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	addr       string
}

// Config holds server configuration.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8080" or "127.0.0.1:0"
	// for a random port.
	Addr string
}

// New builds a Server around the given handler (does not start it).
func New(cfg Config, h *handlers.Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsMiddleware.Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/plan", h.HandlePlan)
		r.Get("/today/{user_id}", h.HandleToday)
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{httpServer: httpServer, addr: cfg.Addr}
}

// Start begins listening and serving in a background goroutine,
// returning the actual bound address (useful when Addr ends in ":0").
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	actualAddr := listener.Addr().String()
	log.Printf("[SERVER] listening on %s", actualAddr)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[SERVER] serve error: %v", err)
		}
	}()

	return actualAddr, nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
