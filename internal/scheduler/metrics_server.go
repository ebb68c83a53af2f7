package scheduler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/anstrom/nemesis/internal/logging"
)

const (
	serverShutdownTimeout = 5 * time.Second
	serverReadTimeout     = 10 * time.Second
	serverWriteTimeout    = 30 * time.Second
)

// MetricsServer exposes Prometheus metrics while the watch command runs.
type MetricsServer struct {
	router     *mux.Router
	httpServer *http.Server
	logger     *logging.Logger
}

// NewMetricsServer serves metrics at /metrics and a liveness probe at
// /healthz on addr. Access lines are written to accessLog in Apache
// common log format; nil disables them.
func NewMetricsServer(addr string, metrics http.Handler, accessLog io.Writer, logger *logging.Logger) *MetricsServer {
	if logger == nil {
		logger = logging.Default()
	}

	router := mux.NewRouter()
	router.Handle("/metrics", metrics).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	var handler http.Handler = router
	if accessLog != nil {
		handler = handlers.LoggingHandler(accessLog, handler)
	}
	handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(handler)

	return &MetricsServer{
		router: router,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  serverReadTimeout,
			WriteTimeout: serverWriteTimeout,
		},
		logger: logger.WithComponent("metrics"),
	}
}

// Handler returns the fully wrapped handler.
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is canceled or the listener fails.
func (s *MetricsServer) Start(ctx context.Context) error {
	s.logger.Info("Starting metrics server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the server.
func (s *MetricsServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Metrics server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("Metrics server stopped")
	return nil
}
