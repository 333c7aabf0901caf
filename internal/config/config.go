// SPDX-License-Identifier: MIT
package config

// Boundaries and defaults for the engine configuration.
const (
	DefaultSampleRate      = 24000 // typical TTS output rate
	DefaultFramesPerBuffer = 128   // one render block
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultBackend         = BackendPortAudio

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)
)

// Output backends.
const (
	BackendPortAudio = "portaudio"
	BackendMiniaudio = "miniaudio"
	BackendNull      = "null" // silent clock, no device
)
