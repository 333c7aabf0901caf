// SPDX-License-Identifier: MIT
// Package miniaudio is the alternate playback backend built on malgo, for
// hosts where PortAudio is not installed.
package miniaudio

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"lipsync/internal/audio"
	applog "lipsync/internal/log"
)

const scratchFrames = 4096

// Config selects the playback device.
type Config struct {
	DeviceName   string // substring match; empty selects the default device
	SampleRate   float64
	PeriodFrames int
}

// Output plays a Renderer through a miniaudio playback device.
type Output struct {
	cfg Config

	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	renderer audio.Renderer
	scratch  []float32
}

func NewOutput(cfg Config) *Output {
	if cfg.PeriodFrames <= 0 {
		cfg.PeriodFrames = audio.DefaultBlockSize
	}
	return &Output{cfg: cfg, scratch: make([]float32, scratchFrames)}
}

func (o *Output) SampleRate() float64 { return o.cfg.SampleRate }

func (o *Output) Open(r audio.Renderer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.device != nil {
		return audio.ErrAlreadyOpen
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		applog.Debugf("miniaudio: %s", strings.TrimSpace(message))
	})
	if err != nil {
		return fmt.Errorf("failed to initialize miniaudio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(o.cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(o.cfg.PeriodFrames)
	deviceConfig.Alsa.NoMMap = 1

	if o.cfg.DeviceName != "" {
		info, err := findDevice(ctx, o.cfg.DeviceName)
		if err != nil {
			_ = ctx.Uninit()
			ctx.Free()
			return err
		}
		deviceConfig.Playback.DeviceID = info.ID.Pointer()
	}

	o.renderer = r
	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: o.onSamples,
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to open playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	o.ctx = ctx
	o.device = device
	applog.Infof("miniaudio: playback started at %d Hz", device.SampleRate())
	return nil
}

func findDevice(ctx *malgo.AllocatedContext, name string) (malgo.DeviceInfo, error) {
	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return malgo.DeviceInfo{}, fmt.Errorf("failed to enumerate playback devices: %w", err)
	}
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(name)) {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("no playback device matching %q", name)
}

// onSamples fills the device buffer with little-endian float32 frames.
// Performance Critical:
// - Renders through a preallocated scratch buffer in pieces
func (o *Output) onSamples(pOutput, _ []byte, frameCount uint32) {
	fillFloat32LE(pOutput, int(frameCount), o.scratch, o.renderer)
}

func fillFloat32LE(dst []byte, frames int, scratch []float32, r audio.Renderer) {
	for off := 0; off < frames; {
		n := min(frames-off, len(scratch))
		block := scratch[:n]
		r.Render(block)
		for i, v := range block {
			binary.LittleEndian.PutUint32(dst[(off+i)*4:], math.Float32bits(v))
		}
		off += n
	}
}

func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.device == nil {
		return nil
	}

	err := o.device.Stop()
	o.device.Uninit()
	o.device = nil

	if uerr := o.ctx.Uninit(); uerr != nil && err == nil {
		err = uerr
	}
	o.ctx.Free()
	o.ctx = nil
	return err
}

// Devices lists playback devices known to miniaudio.
func Devices() ([]audio.Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}
	devices := make([]audio.Device, len(infos))
	for i, info := range infos {
		devices[i] = audio.Device{ID: i, Name: info.Name(), MaxOutputChannels: 2}
	}
	return devices, nil
}

var _ audio.Output = (*Output)(nil)
