// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"lipsync/internal/audio"
	"lipsync/internal/config"
	"lipsync/internal/engine"
	applog "lipsync/internal/log"
	"lipsync/internal/source"
	"lipsync/internal/source/opus"
)

const (
	FormatPCM16 = "pcm16"
	FormatOpus  = "opus"

	pcmChunkBytes = 4096
	backoff       = 20 * time.Millisecond
)

// chunkReader yields mono audio from a byte stream.
type chunkReader interface {
	Next() ([]float32, error)
	SampleRate() float64
}

// pcmReader reads raw little-endian 16-bit mono PCM.
type pcmReader struct {
	r    io.Reader
	buf  []byte
	rate float64
}

func newPCMReader(r io.Reader, rate float64) *pcmReader {
	return &pcmReader{r: r, buf: make([]byte, pcmChunkBytes), rate: rate}
}

func (p *pcmReader) SampleRate() float64 { return p.rate }

func (p *pcmReader) Next() ([]float32, error) {
	n, err := io.ReadFull(p.r, p.buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	if n == 0 && err == nil {
		err = io.EOF
	}
	if err != nil {
		return nil, err
	}
	// a dangling odd byte is dropped
	return source.DecodePCM16LE(p.buf[:n&^1]), nil
}

// opusReader decodes length-prefixed Opus packets.
type opusReader struct {
	packets *opus.PacketReader
	dec     *opus.Decoder
}

func newOpusReader(r io.Reader, rate, channels int) (*opusReader, error) {
	dec, err := opus.NewDecoder(rate, channels)
	if err != nil {
		return nil, err
	}
	return &opusReader{packets: opus.NewPacketReader(r), dec: dec}, nil
}

func (o *opusReader) SampleRate() float64 { return o.dec.SampleRate() }

func (o *opusReader) Next() ([]float32, error) {
	packet, err := o.packets.Next()
	if err != nil {
		return nil, err
	}
	return o.dec.Decode(packet)
}

func newChunkReader(r io.Reader, format string, rate, channels int) (chunkReader, error) {
	switch format {
	case FormatPCM16:
		return newPCMReader(r, float64(rate)), nil
	case FormatOpus:
		return newOpusReader(r, rate, channels)
	default:
		return nil, fmt.Errorf("unknown input format %q (want %s or %s)", format, FormatPCM16, FormatOpus)
	}
}

// pump feeds every chunk from r into e until EOF or ctx ends. With
// playback enabled it holds back while more than maxBufferMs is queued, so
// a fast producer never overruns the ring. rec may be nil.
func pump(ctx context.Context, e *engine.Engine, r chunkReader, rec *audio.Recorder, maxBufferMs float64) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		samples, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec != nil {
			if err := rec.Write(samples); err != nil {
				applog.Warnf("Feed: %v", err)
			}
		}
		if err := e.Feed(samples, r.SampleRate()); err != nil {
			return err
		}
		if maxBufferMs > 0 {
			if err := waitBelow(ctx, e, maxBufferMs); err != nil {
				return err
			}
		}
	}
}

func waitBelow(ctx context.Context, e *engine.Engine, maxBufferMs float64) error {
	for {
		st, err := e.State()
		if err != nil {
			return err
		}
		if float64(st.Buffered)/st.SampleRate*1000 <= maxBufferMs {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

// startRecorder opens a timestamped WAV under the configured directory.
func startRecorder(cfg *config.Config, rate float64) (*audio.Recorder, error) {
	if err := os.MkdirAll(cfg.Recording.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	name := filepath.Join(cfg.Recording.OutputDir,
		"recording-"+time.Now().UTC().Format("02-01-2006-150405")+".wav")
	rec := audio.NewRecorder(int(rate), cfg.Recording.BitDepth)
	if err := rec.Start(name); err != nil {
		return nil, err
	}
	applog.Infof("Recording: writing fed audio to %s", name)
	return rec, nil
}

type feedOptions struct {
	format   string
	rate     int
	channels int
	record   bool
}

// feedStdin pumps stdin into the session's engine and waits for playback
// to drain.
func (s *session) feedStdin(ctx context.Context, fo feedOptions) error {
	r, err := newChunkReader(os.Stdin, fo.format, fo.rate, fo.channels)
	if err != nil {
		return err
	}
	var rec *audio.Recorder
	if fo.record || s.cfg.Recording.Enabled {
		if rec, err = startRecorder(s.cfg, r.SampleRate()); err != nil {
			return err
		}
		defer func() {
			if err := rec.Stop(); err != nil {
				applog.Errorf("Recording: %v", err)
			}
		}()
	}

	var maxBufferMs float64
	if s.cfg.Playback.Enabled {
		maxBufferMs = s.cfg.Playback.BufferSeconds * 1000 / 2
	}
	if err := pump(ctx, s.engine, r, rec, maxBufferMs); err != nil {
		return err
	}
	drain(ctx, s.engine)
	return nil
}

func (a *app) newFeedCommand() *cobra.Command {
	fo := feedOptions{}
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Play and analyze audio piped on stdin",
		Long: "Reads 16-bit little-endian mono PCM, or length-prefixed Opus packets,\n" +
			"from stdin, plays it and emits viseme frames.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			s, err := newSession(a.cfg)
			if err != nil {
				return err
			}
			defer s.close()
			if jsonOut {
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
			return s.feedStdin(ctx, fo)
		},
	}
	f := cmd.Flags()
	f.StringVar(&fo.format, "format", FormatPCM16, "Input format: pcm16 or opus")
	f.IntVar(&fo.rate, "rate", config.DefaultSampleRate, "Input sample rate in Hz")
	f.IntVar(&fo.channels, "channels", 1, "Opus channel count")
	f.BoolVarP(&fo.record, "record", "r", false, "Record the fed audio to a WAV file")
	f.BoolVar(&jsonOut, "json", false, "Write events to stdout as JSON lines")
	return cmd
}
