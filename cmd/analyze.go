// SPDX-License-Identifier: MIT
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"lipsync/internal/analysis"
	"lipsync/internal/audio"
	"lipsync/internal/engine"
	"lipsync/internal/events"
	"lipsync/internal/source"
)

// maxDrainSteps bounds the tail after the last sample has been fed.
const maxDrainSteps = 1 << 16

// Analysis is the offline result written by "analyze".
type Analysis struct {
	File       string           `json:"file,omitempty"`
	SampleRate float64          `json:"sampleRate"`
	DurationMs float64          `json:"durationMs"`
	Frames     []analysis.Frame `json:"frames"`
}

// analyzeSamples runs samples through an engine clocked by hand: each step
// feeds one analysis interval of input, renders the same span of output and
// ticks the analyser once. It runs as fast as the CPU allows.
func analyzeSamples(opts engine.Options, samples []float32, rate float64) ([]analysis.Frame, error) {
	opts.Cadence = engine.CadenceManual
	opts.PlaybackEnabled = true
	out := audio.NewManualOutput(opts.SampleRate, audio.DefaultBlockSize)
	sched := engine.NewManualScheduler()

	e, err := engine.New(opts, engine.WithOutput(out), engine.WithScheduler(sched))
	if err != nil {
		return nil, err
	}
	defer func() {
		e.Destroy()
		<-e.Done()
	}()

	var (
		mu     sync.Mutex
		frames []analysis.Frame
	)
	e.On(events.NameViseme, func(ev events.Event) {
		mu.Lock()
		frames = append(frames, ev.(events.Viseme).Frame)
		mu.Unlock()
	})

	if err := e.Init(); err != nil {
		return nil, err
	}
	if err := e.StartAnalysis(); err != nil {
		return nil, err
	}

	hopOut := max(1, int(math.Round(opts.Interval.Seconds()*opts.SampleRate)))
	hopIn := max(1, int(math.Round(float64(hopOut)*rate/opts.SampleRate)))
	block := make([]float32, hopOut)
	step := func() error {
		if err := out.PullInto(block); err != nil {
			return err
		}
		sched.Tick()
		return nil
	}

	for off := 0; off < len(samples); off += hopIn {
		if err := e.Feed(samples[off:min(off+hopIn, len(samples))], rate); err != nil {
			return nil, err
		}
		if err := step(); err != nil {
			return nil, err
		}
	}

	// Clips shorter than the auto-start threshold never start on their own.
	if err := e.Play(); err != nil {
		return nil, err
	}
	for range maxDrainSteps {
		if err := step(); err != nil {
			return nil, err
		}
		st, err := e.State()
		if err != nil {
			return nil, err
		}
		if st.Buffered == 0 {
			break
		}
	}
	e.Flush()

	mu.Lock()
	defer mu.Unlock()
	return frames, nil
}

// analyzeFile decodes a WAV file and analyzes it offline.
func analyzeFile(opts engine.Options, path string) (*Analysis, error) {
	media, err := source.OpenWAV(path)
	if err != nil {
		return nil, err
	}
	defer media.Close()

	samples, err := media.ReadAll()
	if err != nil {
		return nil, err
	}
	frames, err := analyzeSamples(opts, samples, media.SampleRate())
	if err != nil {
		return nil, err
	}
	return &Analysis{
		File:       path,
		SampleRate: media.SampleRate(),
		DurationMs: float64(len(samples)) / media.SampleRate() * 1000,
		Frames:     frames,
	}, nil
}

func (a *app) newAnalyzeCommand() *cobra.Command {
	var (
		output string
		pretty bool
	)
	cmd := &cobra.Command{
		Use:   "analyze FILE.wav",
		Short: "Analyze a WAV file offline and write its viseme frames as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.cfg.EngineOptions()
			if err != nil {
				return err
			}
			result, err := analyzeFile(opts, args[0])
			if err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			if pretty {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write JSON to this file instead of stdout")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	return cmd
}
