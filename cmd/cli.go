// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"lipsync/internal/config"
	applog "lipsync/internal/log"
	"lipsync/pkg/build"
)

// flags holds the persistent command line options. Each one overrides the
// configuration file only when it was given explicitly.
type flags struct {
	configPath      string
	logLevel        string
	debug           bool
	backend         string
	sampleRate      float64
	outputDevice    int
	inputDevice     int
	framesPerBuffer int
	lowLatency      bool
	noPlayback      bool
	cadence         string
}

// app is shared by every subcommand once the root's pre-run has loaded the
// configuration.
type app struct {
	flags flags
	cfg   *config.Config
}

// NewRootCommand builds the command tree. Running the root without a
// subcommand behaves like "serve".
func NewRootCommand() *cobra.Command {
	buildInfo := build.GetBuildFlags()
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "",
		"Path to a YAML configuration file (default ./lipsync.yaml if present)")
	pf.StringVar(&a.flags.logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	pf.BoolVarP(&a.flags.debug, "debug", "v", false,
		"Enable debug logging")

	// Audio Device Configuration
	pf.StringVar(&a.flags.backend, "backend", config.DefaultBackend,
		"Output backend: portaudio, miniaudio or null")
	pf.Float64VarP(&a.flags.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Engine sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&a.flags.outputDevice, "device", "d", config.MinDeviceID,
		"Output device ID. Use the 'devices' command to see available devices.")
	pf.IntVar(&a.flags.inputDevice, "input-device", config.MinDeviceID,
		"Input device ID for microphone capture")
	pf.IntVarP(&a.flags.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	pf.BoolVarP(&a.flags.lowLatency, "low-latency", "l", false,
		"Use low latency mode for real-time processing")
	pf.BoolVar(&a.flags.noPlayback, "no-playback", false,
		"Analyze without playing audio")
	pf.StringVar(&a.flags.cadence, "cadence", "interval",
		"Analysis cadence: interval or refresh")

	serveCmd := a.newServeCommand()
	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(
		serveCmd,
		a.newPlayCommand(),
		a.newListenCommand(),
		a.newFeedCommand(),
		a.newAnalyzeCommand(),
		a.newDevicesCommand(),
		a.newMonitorCommand(),
	)
	return rootCmd
}

// Execute runs the command line.
func Execute() error {
	return NewRootCommand().Execute()
}

// load reads the configuration file and applies explicit flags on top.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.flags.configPath)
	if err != nil {
		return err
	}

	changed := cmd.Flags().Changed
	if changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if changed("debug") {
		cfg.Debug = a.flags.debug
	}
	if changed("backend") {
		cfg.Audio.Backend = a.flags.backend
	}
	if changed("sample-rate") {
		cfg.Playback.SampleRate = a.flags.sampleRate
	}
	if changed("device") {
		cfg.Audio.OutputDevice = a.flags.outputDevice
	}
	if changed("input-device") {
		cfg.Audio.InputDevice = a.flags.inputDevice
	}
	if changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = a.flags.framesPerBuffer
	}
	if changed("low-latency") {
		cfg.Audio.LowLatency = a.flags.lowLatency
	}
	if changed("no-playback") {
		cfg.Playback.Enabled = !a.flags.noPlayback
	}
	if changed("cadence") {
		cfg.Analysis.Cadence = a.flags.cadence
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := applog.ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = applog.LevelDebug
	}
	applog.SetLevel(level)

	a.cfg = cfg
	return nil
}
