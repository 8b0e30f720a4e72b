package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Start serves handler on addr. When ctx is done the server is shut down,
// waiting up to shutdownTimeout for in-flight requests. The returned context
// is canceled once the server has stopped, for whatever reason.
func Start(ctx context.Context, name, addr string, handler http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) (context.Context, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	logger.Info("service started", "service", name, "addr", ln.Addr().String())
	return startService(ctx, name, ln, handler, shutdownTimeout, logger), nil
}

func startService(ctx context.Context, name string, ln net.Listener, handler http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) context.Context {
	stopped, cancel := context.WithCancel(context.WithoutCancel(ctx))

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		// ErrServerClosed means Shutdown is draining; the goroutine below cancels
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("service stopped unexpectedly", "service", name, "err", err)
			cancel()
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-stopped.Done():
			return
		}
		defer cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown incomplete", "service", name, "err", err)
		}
		logger.Info("service stopped", "service", name)
	}()

	return stopped
}
