// Package hubapi exposes a hub over HTTP: REST endpoints for every
// caller-facing operation, a WebSocket that pushes state snapshots, a
// streamable MCP endpoint re-serving the fleet, and a Prometheus scrape
// endpoint.
package hubapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	mcpbridge "github.com/caphub/mcp-hub-go/pkg/mcp-bridge"
	"github.com/caphub/mcp-hub-go/pkg/mcphub"
)

// Options configures a Server. The zero value listens on :8700 and allows
// every origin.
type Options struct {
	// Addr is the listen address for Start.
	Addr string

	// AllowedOrigins restricts CORS and WebSocket origins. Empty allows all.
	AllowedOrigins []string

	// Logger receives request and lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) normalized() Options {
	if o.Addr == "" {
		o.Addr = ":8700"
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = []string{"*"}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Server is the HTTP control plane for one hub.
type Server struct {
	hub     *mcphub.Hub
	opts    Options
	metrics *hubMetrics
	bridge  *mcpbridge.Bridge
	sub     *mcphub.Subscription

	router     *chi.Mux
	httpServer *http.Server
}

// NewServer wires the router, metrics, bridge, and snapshot observer for
// hub. The observer goroutine ends when Shutdown runs or the hub is
// disposed.
func NewServer(hub *mcphub.Hub, opts Options) *Server {
	s := &Server{
		hub:     hub,
		opts:    opts.normalized(),
		metrics: newHubMetrics(hub),
	}
	s.bridge = mcpbridge.NewBridge(hub, mcpbridge.Options{Logger: s.opts.Logger})
	s.sub = hub.Subscribe(4)
	go s.countPublishes()
	s.setupRouter()
	return s
}

func (s *Server) countPublishes() {
	for range s.sub.Updates() {
		s.metrics.statePublishes.Inc()
	}
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(recoverPanics(s.opts.Logger))
	r.Use(logRequests(s.opts.Logger))
	r.Use(s.metrics.countRequests)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	r.Handle("/metrics", s.metrics.handler())

	hnd := newServersHandler(s.hub, s.opts.Logger, s.metrics)
	r.Route("/api", func(r chi.Router) {
		r.Get("/servers", hnd.List)
		r.Post("/servers", hnd.Add)
		r.Delete("/servers/{name}", hnd.Delete)
		r.Post("/servers/{name}/toggle", hnd.Toggle)
		r.Post("/servers/{name}/timeout", hnd.Timeout)
		r.Post("/servers/{name}/auto-approve", hnd.AutoApprove)
		r.Post("/servers/{name}/restart", hnd.Restart)
		r.Post("/servers/{name}/tools/{tool}", hnd.CallTool)
		r.Get("/servers/{name}/resource", hnd.ReadResource)
	})

	ws := newWSHandler(s.hub, s.opts.Logger, s.opts.AllowedOrigins)
	r.Get("/ws", ws.ServeHTTP)

	// The streamable transport speaks POST, GET, and DELETE on one path.
	r.Handle("/mcp", s.bridge.Handler())

	s.router = r
}

// Router returns the assembled handler, mainly for httptest.
func (s *Server) Router() http.Handler { return s.router }

// Start serves until the listener fails or Shutdown runs. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        s.opts.Addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// WebSocket pushes have no bounded lifetime, so no write timeout.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	s.opts.Logger.Info("http server listening", "addr", s.opts.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and detaches the bridge and the
// metrics observer.
func (s *Server) Shutdown(ctx context.Context) error {
	s.bridge.Close()
	s.sub.Close()
	if s.httpServer == nil {
		return nil
	}
	s.opts.Logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
