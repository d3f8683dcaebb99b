package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"s3reproxy/logger"
	"s3reproxy/remote"
)

// Server представляет HTTP сервер для экспорта метрик Prometheus и
// эндпоинтов здоровья
type Server struct {
	config       *Config
	server       *http.Server
	remotes      []*remote.Remote
	registry     *remote.HealthRegistry
	shuttingDown atomic.Bool
}

// NewServer создает новый сервер метрик
func NewServer(config *Config, remotes []*remote.Remote, registry *remote.HealthRegistry) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Server{
		config:   config,
		remotes:  remotes,
		registry: registry,
	}
	s.shuttingDown.Store(false)
	return s
}

// Start запускает HTTP сервер для метрик
func (s *Server) Start() error {
	if !s.config.Enabled {
		logger.Info("Monitoring is disabled, skipping metrics server start")
		return nil
	}

	logger.Info("Starting metrics server on %s", s.config.ListenAddress)

	mux := http.NewServeMux()
	mux.Handle(s.config.MetricsPath, promhttp.Handler())
	mux.HandleFunc("/health/live", s.liveHealthHandler)
	mux.HandleFunc("/health/ready", s.readyHealthHandler)

	s.server = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		logger.Info("Metrics server listening on %s%s", s.config.ListenAddress, s.config.MetricsPath)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed: %v", err)
		}
	}()

	return nil
}

// Stop останавливает HTTP сервер метрик
func (s *Server) Stop(ctx context.Context) error {
	if !s.config.Enabled || s.server == nil {
		return nil
	}

	logger.Info("Stopping metrics server...")
	s.shuttingDown.Store(true)
	return s.server.Shutdown(ctx)
}

// liveHealthHandler обрабатывает запросы /health/live
func (s *Server) liveHealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok"}`)
}

// readyHealthHandler обрабатывает запросы /health/ready. Прокси готов,
// когда хотя бы один читающий remote не находится в состоянии DOWN.
// Health рекомендательное, поэтому UNKNOWN тоже считается готовностью.
func (s *Server) readyHealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.shuttingDown.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"shutting down"}`)
		return
	}

	if !s.hasReadableRemote() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"no readable remotes"}`)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok"}`)
}

// hasReadableRemote проверяет, есть ли читающий remote не в состоянии DOWN
func (s *Server) hasReadableRemote() bool {
	if s.registry == nil {
		return true
	}

	for _, rem := range s.remotes {
		if !rem.ReadRequest {
			continue
		}
		if s.registry.Get(rem.Name) != remote.HealthDown {
			return true
		}
	}
	return false
}
