// Package ingest is the HTTP listener upstream producers post events to. Each
// accepted event is handed to the dispatcher and answered with 202 before the
// outbound delivery completes.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/barnacles-webhook/internal/event"
	"github.com/mattjoyce/barnacles-webhook/internal/events"
)

// Server is the ingest HTTP server.
type Server struct {
	cfg        Config
	dispatcher Dispatcher
	hub        *events.Hub
	logger     *slog.Logger
	startedAt  time.Time
	server     *http.Server
}

// New creates a server. hub may be nil, in which case /events is not served.
func New(cfg Config, d Dispatcher, hub *events.Hub, logger *slog.Logger) *Server {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = DefaultSignatureHeader
	}
	return &Server{
		cfg:        cfg,
		dispatcher: d,
		hub:        hub,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start listens on cfg.Listen and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("ingest listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: /events streams indefinitely.
	}

	s.logger.Info("ingest server starting", "listen", ln.Addr().String(), "target", s.dispatcher.Target())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("ingest server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ingest server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("ingest server error: %w", err)
	}
}

// Handler returns the router, for embedding and tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.hub != nil {
		r.Get("/events", s.handleEvents)
	}
	r.Post("/events/{type}", s.handleEvent)
	r.Post("/raddecs", s.handleLegacyRaddec)

	return r
}

// loggingMiddleware logs requests without their bodies.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("ingest request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	routes := make(map[string]string)
	for t, p := range s.dispatcher.Routes() {
		routes[t.String()] = p
	}
	s.respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Target:        s.dispatcher.Target(),
		Routes:        routes,
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	s.accept(w, r, chi.URLParam(r, "type"))
}

func (s *Server) handleLegacyRaddec(w http.ResponseWriter, r *http.Request) {
	s.accept(w, r, event.Raddec.String())
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request, eventType string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > s.cfg.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if s.cfg.Secret != "" {
		if err := verifySignature(body, r.Header.Get(s.cfg.SignatureHeader), s.cfg.Secret); err != nil {
			s.logger.Warn("ingest signature verification failed",
				"path", r.URL.Path,
				"header", s.cfg.SignatureHeader,
			)
			s.respondError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	if !json.Valid(body) {
		s.respondError(w, http.StatusBadRequest, "body is not valid JSON")
		return
	}

	d, err := s.dispatcher.Dispatch(eventType, json.RawMessage(body))
	if err != nil {
		s.logger.Error("dispatch failed", "event_type", eventType, "error", err)
		s.respondError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}
	if d == nil {
		if s.hub != nil {
			s.hub.Publish(events.TypeEventDropped, events.DroppedData{EventType: eventType, Source: "ingest", Reason: "no route"})
		}
		s.respondJSON(w, http.StatusAccepted, AcceptedResponse{Routed: false, EventType: eventType})
		return
	}

	s.respondJSON(w, http.StatusAccepted, AcceptedResponse{
		Routed:     true,
		EventType:  d.Type.String(),
		DeliveryID: d.ID,
		URL:        d.URL,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
