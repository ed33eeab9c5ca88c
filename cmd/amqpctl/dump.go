package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danmuck/amqpengine/internal/protocol/frame"
	"github.com/danmuck/amqpengine/internal/protocol/performative"
	"github.com/danmuck/amqpengine/internal/protocol/schema"
)

func dumpCmd() *cobra.Command {
	var noHeader bool
	var maxFrameSize uint32
	cmd := &cobra.Command{
		Use:   "dump [file]",
		Short: "Decode a captured byte stream into frames",
		Long:  "Decode a captured byte stream (file or stdin) and print one line per frame.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			limits := frame.DefaultLimits()
			if maxFrameSize > 0 {
				limits = frame.LimitsForFrameSize(maxFrameSize)
			}
			return dump(in, cmd.OutOrStdout(), !noHeader, limits)
		},
	}
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "stream does not start with the protocol header")
	cmd.Flags().Uint32Var(&maxFrameSize, "max-frame-size", 0, "reject frames larger than this")
	return cmd
}

func dump(r io.Reader, out io.Writer, header bool, limits frame.Limits) error {
	br := bufio.NewReader(r)
	if header {
		var h [len(frame.ProtocolHeader)]byte
		if _, err := io.ReadFull(br, h[:]); err != nil {
			return fmt.Errorf("read protocol header: %w", err)
		}
		if err := frame.CheckProtocolHeader(h[:]); err != nil {
			return err
		}
		fmt.Fprintf(out, "header %q\n", h[:])
	}
	for i := 0; ; i++ {
		f, err := frame.ReadFrame(br, limits)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if f.Header.PayloadLen == 0 && f.Header.Performative == 0 {
			fmt.Fprintf(out, "%d ch=%d heartbeat\n", i, f.Header.Channel)
			continue
		}
		body, err := performative.Decode(f)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		fmt.Fprintf(out, "%d ch=%d %s %+v\n", i, f.Header.Channel, schema.Name(f.Header.Performative), body)
	}
}
