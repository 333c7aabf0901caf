// SPDX-License-Identifier: MIT
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"lipsync/internal/audio/pa"
	applog "lipsync/internal/log"
	"lipsync/internal/tui"
)

type serveOptions struct {
	listen  string
	mic     bool
	stdin   bool
	udp     bool
	record  bool
	json    bool
	monitor bool
	feed    feedOptions
}

func (a *app) newServeCommand() *cobra.Command {
	so := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine behind the websocket, metrics and renderer endpoints",
		Long: "Starts the engine and serves events on the websocket. Audio arrives as\n" +
			"\"audio\" commands from clients, from the microphone (--mic) or from\n" +
			"stdin (--stdin).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd, so)
		},
	}
	f := cmd.Flags()
	f.StringVar(&so.listen, "listen", "", "HTTP listen address (overrides transport.listen_address)")
	f.BoolVar(&so.mic, "mic", false, "Analyze the microphone instead of fed audio")
	f.BoolVar(&so.stdin, "stdin", false, "Feed audio from stdin (see 'feed --help' for formats)")
	f.BoolVar(&so.udp, "udp", false, "Publish viseme packets over UDP")
	f.BoolVarP(&so.record, "record", "r", false, "Record stdin audio to a WAV file")
	f.BoolVar(&so.json, "json", false, "Write events to stdout as JSON lines")
	f.BoolVar(&so.monitor, "monitor", false, "Show the terminal monitor")
	f.StringVar(&so.feed.format, "format", FormatPCM16, "stdin format: pcm16 or opus")
	f.IntVar(&so.feed.rate, "rate", 24000, "stdin sample rate in Hz")
	f.IntVar(&so.feed.channels, "channels", 1, "stdin Opus channel count")
	return cmd
}

func (a *app) serve(cmd *cobra.Command, so serveOptions) error {
	if so.mic && so.stdin {
		return errors.New("--mic and --stdin are mutually exclusive")
	}
	if so.monitor && so.json {
		return errors.New("--monitor and --json both write to the terminal")
	}
	cfg := a.cfg
	if so.listen != "" {
		cfg.Transport.ListenAddress = so.listen
	}
	if so.udp {
		cfg.Transport.UDPEnabled = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	if so.json {
		s.attachStdout()
	}
	if err := s.serveHTTP(); err != nil {
		return err
	}
	if err := s.publishUDP(); err != nil {
		return err
	}
	if err := s.engine.StartAnalysis(); err != nil {
		return err
	}

	feedErr := make(chan error, 1)
	switch {
	case so.mic:
		if err := s.engine.AttachStream(pa.NewMic(micConfig(cfg))); err != nil {
			return err
		}
	case so.stdin:
		so.feed.record = so.record
		go func() {
			err := s.feedStdin(ctx, so.feed)
			if err == nil {
				applog.Infof("Serve: stdin finished, still serving until interrupted")
			}
			feedErr <- err
		}()
	}

	if so.monitor {
		if err := tui.RunMonitorContext(ctx, "lipsync: "+cfg.Transport.ListenAddress, s.engine.Emitter); err != nil {
			return err
		}
		cancel()
	}

	select {
	case <-ctx.Done():
	case err := <-feedErr:
		if err != nil {
			return err
		}
		<-ctx.Done()
	}
	applog.Infof("Serve: shutting down")
	return nil
}

func (a *app) newMonitorCommand() *cobra.Command {
	so := serveOptions{monitor: true}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve with the terminal monitor attached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd, so)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&so.mic, "mic", false, "Analyze the microphone instead of fed audio")
	f.BoolVar(&so.stdin, "stdin", false, "Feed 16-bit PCM from stdin")
	f.IntVar(&so.feed.rate, "rate", 24000, "stdin sample rate in Hz")
	so.feed.format = FormatPCM16
	return cmd
}
