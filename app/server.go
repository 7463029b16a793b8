package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/favbox/gptdb/config"
)

// Server HTTP 服务，启动与停止时执行 SystemApp 生命周期回调。
type Server struct {
	app *App
	cfg config.ServerConfig
	srv *http.Server
}

func NewServer(a *App, cfg config.ServerConfig) *Server {
	return &Server{
		app: a,
		cfg: cfg,
		srv: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           a.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run 监听配置地址直到 ctx 结束。
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve ctx 结束后在 ShutdownTimeout 内优雅退出。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	sys, logger := s.app.System, s.app.System.Logger()
	if err := sys.BeforeStart(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("gptdb webserver started", slog.String("addr", ln.Addr().String()))
	if err := sys.AfterStart(ctx); err != nil {
		logger.Warn("after start failed", slog.Any("error", err))
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	logger.Info("gptdb webserver stopping")
	errs := []error{serveErr}
	if err := s.srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}
	errs = append(errs, sys.BeforeStop(shutdownCtx))
	s.app.Close()
	return errors.Join(errs...)
}
