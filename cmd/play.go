// SPDX-License-Identifier: MIT
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	applog "lipsync/internal/log"
	"lipsync/internal/source"
	"lipsync/internal/tui"
)

func (a *app) newPlayCommand() *cobra.Command {
	var (
		mute    bool
		monitor bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "play FILE.wav",
		Short: "Play a WAV file and emit its visemes in real time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			media, err := source.OpenWAV(args[0])
			if err != nil {
				return err
			}
			defer media.Close()

			cfg := *a.cfg
			if mute {
				cfg.Playback.Enabled = false
			}
			s, err := newSession(&cfg)
			if err != nil {
				return err
			}
			defer s.close()

			if jsonOut {
				s.attachStdout()
			}
			if err := s.publishUDP(); err != nil {
				return err
			}
			if err := s.engine.StartAnalysis(); err != nil {
				return err
			}
			if err := s.engine.AttachElement(media, cfg.Playback.Enabled); err != nil {
				return err
			}
			applog.Infof("Play: %s (%.0f Hz, %d ch)", args[0], media.SampleRate(), media.Channels())

			if monitor && !jsonOut {
				monCtx, stop := context.WithCancel(ctx)
				defer stop()
				go func() {
					waitPlayed(monCtx, s)
					stop()
				}()
				return tui.RunMonitorContext(monCtx, "lipsync: "+args[0], s.engine.Emitter)
			}
			waitPlayed(ctx, s)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&mute, "mute", false, "Analyze without playing the file")
	f.BoolVar(&monitor, "monitor", false, "Show the terminal monitor")
	f.BoolVar(&jsonOut, "json", false, "Write events to stdout as JSON lines")
	return cmd
}

// waitPlayed returns once the element has been read and its audio played.
func waitPlayed(ctx context.Context, s *session) {
	select {
	case <-s.engine.MediaFinished():
	case <-ctx.Done():
		return
	}
	drain(ctx, s.engine)
}
