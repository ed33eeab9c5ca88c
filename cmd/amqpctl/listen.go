package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/danmuck/amqpengine/internal/config"
	"github.com/danmuck/amqpengine/internal/driver"
	"github.com/danmuck/amqpengine/internal/engine"
	"github.com/danmuck/amqpengine/internal/logging"
	"github.com/danmuck/amqpengine/internal/observability"
)

func listenCmd(root *rootOptions) *cobra.Command {
	var addr, transport string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Accept connections and print every message received",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if err := applyTransportFlags(&cfg, addr, transport); err != nil {
				return err
			}
			if err := cfg.Driver.ValidateServerTransport(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := serveMetrics(ctx, cfg, "listener"); err != nil {
				return err
			}

			ln, err := driver.Listen(cfg.Addr, cfg.Driver)
			if err != nil {
				return err
			}
			logging.Infof("amqpctl listening on %s (%s)", ln.Addr(), cfg.Transport)
			return newServer(cfg, cmd.OutOrStdout()).serve(ctx, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address override")
	cmd.Flags().StringVar(&transport, "transport", "", "tcp or websocket")
	return cmd
}

// server runs one driver per accepted connection.
type server struct {
	cfg config.Config
	obs *observability.EngineMetrics

	mu  sync.Mutex
	out io.Writer

	// connMu orders track against drain so wg.Add never races wg.Wait.
	connMu  sync.Mutex
	drained bool
	wg      sync.WaitGroup
}

func newServer(cfg config.Config, out io.Writer) *server {
	return &server{
		cfg: cfg,
		obs: observability.NewEngineMetrics("listener"),
		out: out,
	}
}

// track registers one live connection. It reports false once serve has
// begun draining.
func (s *server) track() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.drained {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *server) drain() {
	s.connMu.Lock()
	s.drained = true
	s.connMu.Unlock()
	s.wg.Wait()
}

func (s *server) serve(ctx context.Context, ln net.Listener) error {
	defer s.drain()
	if s.cfg.Transport == config.TransportWebSocket {
		return s.serveWebSocket(ctx, ln)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !s.track() {
			_ = conn.Close()
			return nil
		}
		go func() {
			defer s.wg.Done()
			if tc, ok := conn.(*tls.Conn); ok {
				_ = tc.SetDeadline(time.Now().Add(s.cfg.Driver.HandshakeTimeout))
				if err := tc.Handshake(); err != nil {
					logging.Warnf("amqpctl tls handshake from %s failed: %v", conn.RemoteAddr(), err)
					_ = conn.Close()
					return
				}
				_ = tc.SetDeadline(time.Time{})
			}
			s.serveConn(ctx, conn, conn.RemoteAddr().String())
		}()
	}
}

func (s *server) serveWebSocket(ctx context.Context, ln net.Listener) error {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		conn, err := driver.UpgradeWebSocket(w, req)
		if err != nil {
			logging.Warnf("amqpctl websocket upgrade from %s failed: %v", req.RemoteAddr, err)
			return
		}
		if !s.track() {
			_ = conn.Close()
			return
		}
		defer s.wg.Done()
		s.serveConn(ctx, conn, req.RemoteAddr)
	})
	srv := &http.Server{Handler: r, ReadHeaderTimeout: s.cfg.Driver.HandshakeTimeout}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *server) serveConn(ctx context.Context, conn io.ReadWriteCloser, peer string) {
	opts := s.cfg.Engine
	opts.Observer = s.obs
	d := driver.New(conn, s.handler(peer), opts, s.cfg.Driver)
	err := d.Run(ctx)
	switch {
	case err == nil:
		logging.Infof("amqpctl connection from %s closed", peer)
	case errors.Is(err, context.Canceled):
		logging.Debugf("amqpctl connection from %s stopped", peer)
	default:
		logging.Warnf("amqpctl connection from %s failed: %v", peer, err)
	}
}

func (s *server) handler(peer string) engine.Handler {
	return engine.NewRegistry().
		On(engine.Message, func(ev engine.Event) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			_, err := fmt.Fprintf(s.out, "%s\t%s\n", ev.Receiver().Address(), ev.Message())
			return err
		}).
		OnError(func(ev engine.Event) error {
			logging.Warnf("amqpctl %s from %s: %s", ev.Kind, peer, ev.Condition().Describe())
			return nil
		})
}
