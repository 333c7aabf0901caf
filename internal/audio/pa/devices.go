// SPDX-License-Identifier: MIT
// Package pa binds the engine to sound cards through PortAudio: an output
// stream that pulls from the playback node, a microphone stream for live
// analysis, and device enumeration.
package pa

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"lipsync/internal/audio"
)

// paDevicesFunc is swapped in tests.
var paDevicesFunc = portaudio.Devices

// Initialize sets up the PortAudio subsystem.
// This must be called before any audio operations and paired with a Terminate() call.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate cleanly shuts down the PortAudio subsystem.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// HostDevices returns all available devices. PortAudio must be initialized.
func HostDevices() ([]audio.Device, error) {
	infos, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}

	devices := make([]audio.Device, len(infos))
	for i, info := range infos {
		devices[i] = audio.Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			LowLatencyMs:      float64(info.DefaultLowOutputLatency.Microseconds()) / 1000,
			HighLatencyMs:     float64(info.DefaultHighOutputLatency.Microseconds()) / 1000,
		}
	}
	return devices, nil
}

// Devices initializes PortAudio, lists devices and terminates again.
func Devices() ([]audio.Device, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	defer Terminate()
	return HostDevices()
}

func lookup(deviceID int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if deviceID == audio.DefaultDeviceID {
		return fallback()
	}
	devices, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	return devices[deviceID], nil
}

// InputDevice resolves a device ID, or the default input for -1.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	dev, err := lookup(deviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return nil, err
	}
	if dev.MaxInputChannels < 1 {
		return nil, fmt.Errorf("device %q has no input channels", dev.Name)
	}
	return dev, nil
}

// OutputDevice resolves a device ID, or the default output for -1.
func OutputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	dev, err := lookup(deviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		return nil, err
	}
	if dev.MaxOutputChannels < 1 {
		return nil, fmt.Errorf("device %q has no output channels", dev.Name)
	}
	return dev, nil
}
