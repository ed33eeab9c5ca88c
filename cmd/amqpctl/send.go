package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danmuck/amqpengine/internal/condition"
	"github.com/danmuck/amqpengine/internal/config"
	"github.com/danmuck/amqpengine/internal/driver"
	"github.com/danmuck/amqpengine/internal/engine"
	"github.com/danmuck/amqpengine/internal/observability"
)

var errNothingToSend = errors.New("nothing to send")

func sendCmd(root *rootOptions) *cobra.Command {
	var addr, transport, address string
	var presettled bool
	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send messages to an address and wait for their outcomes",
		Long:  "Send each argument as one message. With no arguments, each line of stdin is a message.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if err := applyTransportFlags(&cfg, addr, transport); err != nil {
				return err
			}
			if address != "" {
				cfg.Address = address
			}
			msgs, err := readMessages(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := serveMetrics(ctx, cfg, "client"); err != nil {
				return err
			}

			res, err := send(ctx, cfg, msgs, presettled)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "peer address override")
	cmd.Flags().StringVar(&transport, "transport", "", "tcp or websocket")
	cmd.Flags().StringVarP(&address, "to", "t", "", "target address")
	cmd.Flags().BoolVar(&presettled, "presettled", false, "send settled, without waiting for outcomes")
	return cmd
}

func readMessages(args []string, in io.Reader) ([][]byte, error) {
	var msgs [][]byte
	for _, a := range args {
		msgs = append(msgs, []byte(a))
	}
	if len(args) == 0 {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			if line := sc.Text(); line != "" {
				msgs = append(msgs, []byte(line))
			}
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}
	if len(msgs) == 0 {
		return nil, errNothingToSend
	}
	return msgs, nil
}

type sendResult struct {
	Sent     int
	Accepted int
	Rejected int
	Released int
}

func (r sendResult) String() string {
	return fmt.Sprintf("sent=%d accepted=%d rejected=%d released=%d", r.Sent, r.Accepted, r.Rejected, r.Released)
}

// sender feeds msgs to the link as credit allows and closes the connection
// once every message is settled by the peer, or sent when presettled.
type sender struct {
	msgs       [][]byte
	presettled bool
	settled    int
	res        sendResult
}

func (s *sender) handler() engine.Handler {
	return engine.NewRegistry().
		On(engine.Sendable, s.onSendable).
		On(engine.TrackerAccept, func(engine.Event) error { s.res.Accepted++; return nil }).
		On(engine.TrackerReject, func(engine.Event) error { s.res.Rejected++; return nil }).
		On(engine.TrackerRelease, func(engine.Event) error { s.res.Released++; return nil }).
		On(engine.TrackerSettle, func(ev engine.Event) error {
			s.settled++
			return s.maybeClose(ev.Connection())
		})
}

func (s *sender) onSendable(ev engine.Event) error {
	snd := ev.Sender()
	for s.res.Sent < len(s.msgs) && snd.Credit() > 0 {
		if _, err := snd.Send(s.msgs[s.res.Sent]); err != nil {
			return err
		}
		s.res.Sent++
	}
	if s.presettled {
		return s.maybeClose(ev.Connection())
	}
	return nil
}

func (s *sender) maybeClose(c engine.Connection) error {
	done := s.settled == len(s.msgs)
	if s.presettled {
		done = s.res.Sent == len(s.msgs)
	}
	if !done || c.Closed() {
		return nil
	}
	return c.Close(condition.Condition{})
}

func send(ctx context.Context, cfg config.Config, msgs [][]byte, presettled bool) (sendResult, error) {
	conn, err := dial(ctx, cfg)
	if err != nil {
		return sendResult{}, err
	}
	s := &sender{msgs: msgs, presettled: presettled}
	opts := cfg.Engine
	opts.Observer = observability.NewEngineMetrics("client")
	d := driver.New(conn, s.handler(), opts, cfg.Driver)

	var openErr error
	if err := d.Inject(func(e *engine.Engine) {
		c := e.Connection()
		if openErr = c.Open(); openErr != nil {
			return
		}
		var linkOpts []engine.LinkOption
		if presettled {
			linkOpts = append(linkOpts, engine.WithPresettled())
		}
		_, openErr = c.OpenSender(cfg.Address, linkOpts...)
	}); err != nil {
		return sendResult{}, err
	}
	if err := d.Run(ctx); err != nil {
		return s.res, err
	}
	if openErr != nil {
		return s.res, openErr
	}
	if s.res.Sent < len(msgs) {
		return s.res, fmt.Errorf("connection closed after %d of %d messages", s.res.Sent, len(msgs))
	}
	return s.res, nil
}

func dial(ctx context.Context, cfg config.Config) (io.ReadWriteCloser, error) {
	if err := cfg.Driver.ValidateClientTransport(); err != nil {
		return nil, err
	}
	if cfg.Transport != config.TransportWebSocket {
		return driver.Dial(ctx, cfg.Addr, cfg.Driver)
	}
	url := cfg.Addr
	if !strings.Contains(url, "://") {
		scheme := "ws"
		if cfg.Driver.TLS.Enabled {
			scheme = "wss"
		}
		url = scheme + "://" + url + "/"
	}
	return driver.DialWebSocket(ctx, url, cfg.Driver)
}
