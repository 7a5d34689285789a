package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// DiagnosticsServer is the executor's local HTTP surface for the desktop
// shell's tray: a health probe and a Prometheus scrape endpoint, nothing
// the control plane itself talks to. Grounded on the teacher's
// `internal/api/server.go` setupRoutes/Start/Stop shape (mux.Router +
// rs/cors wrapping + http.Server), scaled down to the two routes this
// repo actually needs instead of the teacher's full REST+websocket API.
type DiagnosticsServer struct {
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	metrics    *Metrics
	startedAt  time.Time
}

// NewDiagnosticsServer builds a server listening on addr, serving
// GET /debug/health and GET /debug/metrics.
func NewDiagnosticsServer(logger *zap.Logger, addr string, metrics *Metrics) *DiagnosticsServer {
	s := &DiagnosticsServer{
		logger:    logger.Named("diagnostics"),
		router:    mux.NewRouter(),
		metrics:   metrics,
		startedAt: time.Now(),
	}
	s.router.HandleFunc("/debug/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/debug/metrics", metrics.Handler()).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the server until Stop is called, logging (not returning) a
// bind failure — the diagnostics endpoint is a convenience for the tray,
// not load-bearing for trading, so it must never take the executor down.
func (s *DiagnosticsServer) Start() {
	go func() {
		s.logger.Info("diagnostics server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("diagnostics server stopped", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down within the given context.
func (s *DiagnosticsServer) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *DiagnosticsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":     "healthy",
		"uptime":     time.Since(s.startedAt).String(),
		"serverTime": time.Now().UTC(),
	})
}
