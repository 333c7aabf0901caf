// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lipsync/internal/audio"
	"lipsync/internal/audio/miniaudio"
	"lipsync/internal/audio/pa"
	"lipsync/internal/config"
	"lipsync/internal/engine"
	"lipsync/internal/events"
	applog "lipsync/internal/log"
	"lipsync/internal/metrics"
	"lipsync/internal/render"
	"lipsync/internal/transport"
	"lipsync/internal/transport/udp"
)

const shutdownTimeout = 3 * time.Second

// session is an initialized engine plus whatever a command wired around it.
// close tears everything down in reverse order.
type session struct {
	cfg     *config.Config
	engine  *engine.Engine
	metrics *metrics.Metrics
	mux     *http.ServeMux
	server  *http.Server
	closers []func() error
}

// newOutput picks the playback device for the configured backend.
func newOutput(cfg *config.Config) audio.Output {
	rate := cfg.Playback.SampleRate
	switch cfg.Audio.Backend {
	case config.BackendMiniaudio:
		return miniaudio.NewOutput(miniaudio.Config{
			DeviceName:   cfg.Audio.OutputDeviceName,
			SampleRate:   rate,
			PeriodFrames: cfg.Audio.FramesPerBuffer,
		})
	case config.BackendNull:
		return audio.NewNullOutput(rate, cfg.Audio.FramesPerBuffer)
	default:
		return pa.NewOutput(pa.OutputConfig{
			DeviceID:        cfg.Audio.OutputDevice,
			SampleRate:      rate,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
			LowLatency:      cfg.Audio.LowLatency,
		})
	}
}

// newSession builds and initializes an engine from cfg. extra options are
// applied after the configured output, so callers may replace it.
func newSession(cfg *config.Config, extra ...engine.Option) (*session, error) {
	opts, err := cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	options := []engine.Option{engine.WithMetrics(m)}
	if opts.PlaybackEnabled {
		options = append(options, engine.WithOutput(newOutput(cfg)))
	}
	options = append(options, extra...)

	e, err := engine.New(opts, options...)
	if err != nil {
		return nil, err
	}
	if err := e.Init(); err != nil {
		e.Destroy()
		return nil, err
	}
	s := &session{cfg: cfg, engine: e, metrics: m, mux: http.NewServeMux()}
	if cfg.Transport.LogEvents {
		s.attach(transport.NewLoggingTransport(cfg.Debug))
	}
	return s, nil
}

// attach forwards the engine's events to t and closes t with the session.
func (s *session) attach(t transport.Transport, names ...events.Name) {
	id := transport.Forward(s.engine.Emitter, t, names...)
	s.closers = append(s.closers, func() error {
		s.engine.Off(id)
		return t.Close()
	})
}

// attachStdout writes every event to stdout as a JSON line. Stdout itself
// stays open.
func (s *session) attachStdout() {
	s.attach(transport.NewStreamTransport(struct{ io.Writer }{os.Stdout}))
}

// command applies an inbound control message to the engine.
func (s *session) command(c transport.Command) error {
	return transport.Apply(s.engine, c)
}

// serveHTTP mounts the websocket, metrics, state and renderer endpoints and
// starts listening. It does nothing when neither websocket nor metrics is
// enabled.
func (s *session) serveHTTP() error {
	t := s.cfg.Transport
	if !t.WebSocketEnabled && !t.MetricsEnabled {
		return nil
	}
	if t.WebSocketEnabled {
		wst := transport.NewWebSocketTransport(s.command)
		s.mux.Handle(t.WebSocketPath, wst)
		s.attach(wst)
	}
	if t.MetricsEnabled {
		s.metrics.RegisterHandlers(s.mux)
	}
	s.mux.HandleFunc("/state", s.handleState)
	if err := s.mountRenderers(); err != nil {
		return err
	}

	s.server = &http.Server{
		Addr:              t.ListenAddress,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		applog.Infof("Server: listening on http://%s", t.ListenAddress)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("Server: %v", err)
		}
	}()
	return nil
}

func (s *session) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.State()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

// mountRenderers subscribes the vector, attribute and (with a sprite sheet)
// canvas renderers and serves their current output.
func (s *session) mountRenderers() error {
	rc := s.cfg.Render
	onError := func(err error) { applog.Debugf("Render: %v", err) }

	vec, err := render.NewVector(rc.Vector)
	if err != nil {
		return fmt.Errorf("vector renderer: %w", err)
	}
	s.subscribe(vec, onError)
	s.mux.HandleFunc("/mouth.svg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		vec.WriteTo(w)
	})

	attr := render.NewAttribute(rc.Attribute)
	s.subscribe(attr, onError)
	s.mux.HandleFunc("/mouth.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(attr.Set())
	})

	if rc.SpriteSheet == "" {
		return nil
	}
	sheet, err := render.LoadSpriteSheet(rc.SpriteSheet)
	if err != nil {
		return err
	}
	canvas, err := render.NewCanvas(sheet, render.CanvasOptions{
		FrameWidth:  rc.FrameWidth,
		FrameHeight: rc.FrameHeight,
		Columns:     rc.Columns,
		Scale:       rc.Scale,
	})
	if err != nil {
		return fmt.Errorf("canvas renderer: %w", err)
	}
	canvas.RenderState(render.StateIdle)
	s.subscribe(canvas, onError)
	s.mux.HandleFunc("/mouth.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		png.Encode(w, canvas.Snapshot())
	})
	return nil
}

func (s *session) subscribe(r render.Renderer, onError func(error)) {
	id := render.Subscribe(s.engine.Emitter, r, onError)
	s.closers = append(s.closers, func() error {
		s.engine.Off(id)
		r.Destroy()
		return nil
	})
}

// publishUDP streams viseme packets to the configured target.
func (s *session) publishUDP() error {
	t := s.cfg.Transport
	if !t.UDPEnabled {
		return nil
	}
	sender, err := udp.NewUDPSender(t.UDPTargetAddress)
	if err != nil {
		return err
	}
	pub, err := udp.NewUDPPublisher(t.UDPSendInterval, sender)
	if err != nil {
		sender.Close()
		return err
	}
	s.closers = append(s.closers, sender.Close)
	pub.Start()
	s.attach(pub, events.NameViseme)
	return nil
}

// close shuts the server, the transports and finally the engine.
func (s *session) close() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.server.Shutdown(ctx); err != nil {
			applog.Warnf("Server: shutdown: %v", err)
		}
		cancel()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			applog.Warnf("Session: close: %v", err)
		}
	}
	s.engine.Destroy()
	<-s.engine.Done()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// drain waits until fed audio has been played out, or ctx ends.
func drain(ctx context.Context, e *engine.Engine) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := e.State()
		if err != nil || st.Buffered == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
