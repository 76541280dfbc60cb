package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tg-guard/antispam"
	"tg-guard/config"
	"tg-guard/middleware"
	"tg-guard/monitoring"
)

// Deps зависимости служебного сервера
type Deps struct {
	Checks  map[string]Pinger
	Locks   LockSource
	Stats   StatsSource
	Limiter *antispam.Limiter
	Now     func() time.Time
}

// Server служебный HTTP сервер
type Server struct {
	srv    *http.Server
	logger *monitoring.StructuredLogger
}

// NewRouter регистрирует маршруты
func NewRouter(cfg *config.HTTPConfig, deps Deps) *http.ServeMux {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/health", HealthHandler(deps.Checks))

	lockStatus := LockStatusHandler(deps.Locks, deps.Now, cfg.RequestTimeout)
	stats := StatsHandler(deps.Stats)
	if deps.Limiter != nil {
		lockStatus = middleware.RateLimit(deps.Limiter)(lockStatus)
		stats = middleware.RateLimit(deps.Limiter)(stats)
	}
	mux.HandleFunc("/api/locks", lockStatus)
	mux.HandleFunc("/api/stats", stats)
	return mux
}

// NewServer создает сервер на адресе из конфигурации
func NewServer(cfg *config.HTTPConfig, deps Deps) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(cfg, deps),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		},
		logger: monitoring.GetLogger("api"),
	}
}

// Run слушает адрес до отмены ctx, затем корректно останавливает сервер
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
