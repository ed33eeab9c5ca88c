package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/amqpengine/internal/auth"
	"github.com/danmuck/amqpengine/internal/config"
	"github.com/danmuck/amqpengine/internal/logging"
	"github.com/danmuck/amqpengine/internal/observability"
)

// serveMetrics runs the metrics router on cfg.MetricsAddr until ctx is done.
// An empty address disables it.
func serveMetrics(ctx context.Context, cfg config.Config, node string) error {
	addr := cfg.MetricsAddr
	if addr == "" {
		return nil
	}
	var guard auth.Validator
	if cfg.MetricsToken != "" {
		guard = auth.StaticToken{Token: cfg.MetricsToken}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           observability.Router(node, observability.AppLogger(node), time.Now(), guard),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logging.Infof("amqpctl metrics listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Warnf("amqpctl metrics server stopped: %v", err)
		}
	}()
	return nil
}
