// SPDX-License-Identifier: MIT
package cmd

import (
	"github.com/spf13/cobra"

	"lipsync/internal/audio/pa"
	"lipsync/internal/config"
	"lipsync/internal/tui"
)

// micConfig captures at the engine's working rate; the engine rejects a
// stream at any other rate.
func micConfig(cfg *config.Config) pa.MicConfig {
	return pa.MicConfig{
		DeviceID:        cfg.Audio.InputDevice,
		SampleRate:      cfg.Playback.SampleRate,
		Channels:        cfg.Audio.InputChannels,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		LowLatency:      cfg.Audio.LowLatency,
		GateThreshold:   cfg.Audio.GateThreshold,
	}
}

func (a *app) newListenCommand() *cobra.Command {
	var (
		monitor bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Analyze the microphone and show the resulting visemes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			// A live stream is never played back.
			cfg := *a.cfg
			cfg.Playback.Enabled = false
			s, err := newSession(&cfg)
			if err != nil {
				return err
			}
			defer s.close()

			if jsonOut {
				s.attachStdout()
			}
			if err := s.engine.StartAnalysis(); err != nil {
				return err
			}
			if err := s.engine.AttachStream(pa.NewMic(micConfig(&cfg))); err != nil {
				return err
			}
			if monitor && !jsonOut {
				return tui.RunMonitor("lipsync: microphone", s.engine.Emitter)
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&monitor, "monitor", true, "Show the terminal monitor")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Write events to stdout as JSON lines")
	return cmd
}
