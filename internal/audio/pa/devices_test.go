// SPDX-License-Identifier: MIT
package pa

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"

	"lipsync/internal/audio"
)

func setupPortAudio(t *testing.T) {
	t.Helper()
	if err := Initialize(); err != nil {
		t.Skipf("PortAudio unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := Terminate(); err != nil {
			t.Fatalf("Failed to terminate PortAudio: %v", err)
		}
	})
}

func TestHostDevices(t *testing.T) {
	setupPortAudio(t)

	devices, err := HostDevices()
	if err != nil {
		t.Fatalf("HostDevices error: %v", err)
	}
	if len(devices) == 0 {
		t.Skip("No audio devices found on system")
	}
	for i, d := range devices {
		if d.ID != i {
			t.Errorf("Device ID mismatch: got %d, want %d", d.ID, i)
		}
		if d.Name == "" {
			t.Errorf("Device %d has empty name", i)
		}
		if d.DefaultSampleRate <= 0 {
			t.Errorf("Device %d has invalid sample rate: %f", i, d.DefaultSampleRate)
		}
	}
}

func withFakeDevices(t *testing.T, devices []*portaudio.DeviceInfo, err error) {
	t.Helper()
	orig := paDevicesFunc
	t.Cleanup(func() { paDevicesFunc = orig })
	paDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return devices, err
	}
}

func TestHostDevices_paDevicesError(t *testing.T) {
	withFakeDevices(t, nil, fmt.Errorf("mock error"))

	_, err := HostDevices()
	if err == nil || !strings.Contains(err.Error(), "mock error") {
		t.Errorf("expected mock error, got %v", err)
	}
}

func TestHostDevices_Conversion(t *testing.T) {
	withFakeDevices(t, []*portaudio.DeviceInfo{
		{Name: "Mic", MaxInputChannels: 2, DefaultSampleRate: 48000},
		{
			Name:                     "Speakers",
			MaxOutputChannels:        2,
			DefaultSampleRate:        44100,
			DefaultLowOutputLatency:  5 * time.Millisecond,
			DefaultHighOutputLatency: 40 * time.Millisecond,
		},
	}, nil)

	devices, err := HostDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices", len(devices))
	}
	if devices[0].Kind() != "Input" || devices[1].Kind() != "Output" {
		t.Errorf("kinds = %s, %s", devices[0].Kind(), devices[1].Kind())
	}
	if devices[1].LowLatencyMs != 5 || devices[1].HighLatencyMs != 40 {
		t.Errorf("latency = %f / %f", devices[1].LowLatencyMs, devices[1].HighLatencyMs)
	}
}

func TestDeviceLookup(t *testing.T) {
	withFakeDevices(t, []*portaudio.DeviceInfo{
		{Name: "Mic", MaxInputChannels: 1},
		{Name: "Speakers", MaxOutputChannels: 2},
	}, nil)

	tests := []struct {
		name    string
		lookup  func(int) (*portaudio.DeviceInfo, error)
		id      int
		want    string
		wantErr string
	}{
		{"input by id", InputDevice, 0, "Mic", ""},
		{"output by id", OutputDevice, 1, "Speakers", ""},
		{"input without channels", InputDevice, 1, "", "no input channels"},
		{"output without channels", OutputDevice, 0, "", "no output channels"},
		{"out of range", OutputDevice, 5, "", "invalid device ID"},
		{"negative", InputDevice, -7, "", "invalid device ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := tt.lookup(tt.id)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if dev.Name != tt.want {
				t.Errorf("device = %q, want %q", dev.Name, tt.want)
			}
		})
	}
}

func TestNewMicDefaults(t *testing.T) {
	m := NewMic(MicConfig{SampleRate: 24000})
	if m.Gate().Enabled() {
		t.Error("gate should be disabled without a threshold")
	}
	if len(m.inputBuffer) != 512 || len(m.monoBuffer) != 512 {
		t.Errorf("buffers = %d / %d", len(m.inputBuffer), len(m.monoBuffer))
	}

	gated := NewMic(MicConfig{SampleRate: 24000, Channels: 2, FramesPerBuffer: 64, GateThreshold: 0.02})
	if !gated.Gate().Enabled() || len(gated.inputBuffer) != 128 {
		t.Errorf("gated mic: enabled=%v buffer=%d", gated.Gate().Enabled(), len(gated.inputBuffer))
	}
}

func TestMicCallbackDownmixesFirstChannel(t *testing.T) {
	m := NewMic(MicConfig{SampleRate: 24000, Channels: 2, FramesPerBuffer: 4})
	var got []float32
	m.sink = func(buf []float32) { got = append(got, buf...) }

	m.processInputStream([]float32{0.1, 0.9, 0.2, 0.9, 0.3, 0.9, 0.4, 0.9})

	want := []float32{0.1, 0.2, 0.3, 0.4}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestOutputCallbackDelegates(t *testing.T) {
	o := NewOutput(OutputConfig{SampleRate: 24000})
	calls := 0
	o.renderer = audio.RenderFunc(func(out []float32) {
		calls++
		out[0] = 1
	})
	buf := make([]float32, 8)
	o.processOutputStream(buf)
	if calls != 1 || buf[0] != 1 {
		t.Errorf("calls=%d buf[0]=%f", calls, buf[0])
	}
	if err := o.Close(); err != nil {
		t.Errorf("Close on unopened output = %v", err)
	}
}
