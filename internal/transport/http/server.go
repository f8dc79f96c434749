package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

type Config struct {
	Addr         string        // ":8080"
	ReadTimeout  time.Duration // 10s
	WriteTimeout time.Duration // 15s
	IdleTimeout  time.Duration // 60s
}

type Server struct {
	srv *http.Server
}

func NewServer(cfg Config, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}}
}

// Run запускает HTTP-сервер и блокирует до завершения ctx.
// onShutdown вызывается до остановки listener-а (закрытие websocket-ов).
func (s *Server) Run(ctx context.Context, onShutdown func(context.Context)) error {
	errCh := make(chan error, 1)

	go func() {
		slog.Info("HTTP listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if onShutdown != nil {
			onShutdown(shCtx)
		}
		if err := s.srv.Shutdown(shCtx); err != nil {
			slog.Error("HTTP shutdown", "err", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
