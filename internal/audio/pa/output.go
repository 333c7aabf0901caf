// SPDX-License-Identifier: MIT
package pa

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"lipsync/internal/audio"
	applog "lipsync/internal/log"
)

// OutputConfig selects the playback device.
type OutputConfig struct {
	DeviceID        int
	SampleRate      float64
	FramesPerBuffer int
	LowLatency      bool
}

// Output plays a Renderer through a PortAudio output stream. PortAudio is
// initialized in Open and terminated in Close.
type Output struct {
	cfg OutputConfig

	mu       sync.Mutex
	stream   *portaudio.Stream
	renderer audio.Renderer
}

// NewOutput validates cfg; no device is opened until Open.
func NewOutput(cfg OutputConfig) *Output {
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = audio.DefaultBlockSize
	}
	return &Output{cfg: cfg}
}

func (o *Output) SampleRate() float64 { return o.cfg.SampleRate }

func (o *Output) Open(r audio.Renderer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream != nil {
		return audio.ErrAlreadyOpen
	}

	if err := Initialize(); err != nil {
		return err
	}
	device, err := OutputDevice(o.cfg.DeviceID)
	if err != nil {
		Terminate()
		return err
	}

	latency := device.DefaultHighOutputLatency
	if o.cfg.LowLatency {
		latency = device.DefaultLowOutputLatency
	}
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Channels: 1,
			Device:   device,
			Latency:  latency,
		},
		FramesPerBuffer: o.cfg.FramesPerBuffer,
		SampleRate:      o.cfg.SampleRate,
	}

	o.renderer = r
	stream, err := portaudio.OpenStream(params, o.processOutputStream)
	if err != nil {
		Terminate()
		return fmt.Errorf("failed to open output stream on %q: %w", device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		Terminate()
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	o.stream = stream

	applog.Infof("PortAudio: output open on %q (%.0f Hz, %d frames, latency %s)",
		device.Name, o.cfg.SampleRate, o.cfg.FramesPerBuffer, latency.Round(time.Microsecond))
	return nil
}

// processOutputStream is the device callback.
// Performance Critical:
// - Runs on the PortAudio thread
// - Delegates to the renderer, which must not allocate
func (o *Output) processOutputStream(out []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	o.renderer.Render(out)
}

func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return nil
	}

	if err := o.stream.Stop(); err != nil {
		return err
	}
	if err := o.stream.Close(); err != nil {
		return err
	}
	o.stream = nil
	return Terminate()
}

var _ audio.Output = (*Output)(nil)
