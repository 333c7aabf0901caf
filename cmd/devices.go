// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lipsync/internal/audio"
	"lipsync/internal/audio/miniaudio"
	"lipsync/internal/audio/pa"
	"lipsync/internal/config"
	"lipsync/internal/tui"
)

// deviceLister returns the enumerator for a backend.
func deviceLister(backend string) (tui.DeviceLister, error) {
	switch backend {
	case config.BackendPortAudio:
		return pa.Devices, nil
	case config.BackendMiniaudio:
		return miniaudio.Devices, nil
	default:
		return nil, fmt.Errorf("backend %q has no devices", backend)
	}
}

// selectionConfig is the configuration fragment printed after picking a
// device in the TUI.
type selectionConfig struct {
	Audio struct {
		OutputDevice     *int   `yaml:"output_device,omitempty"`
		InputDevice      *int   `yaml:"input_device,omitempty"`
		OutputDeviceName string `yaml:"output_device_name,omitempty"`
	} `yaml:"audio"`
	Playback struct {
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"playback"`
}

// writeSelection prints the YAML a user pastes into lipsync.yaml to use sel.
func writeSelection(w io.Writer, backend string, sel tui.Selection) error {
	var sc selectionConfig
	id := sel.Device.ID
	switch {
	case backend == config.BackendMiniaudio:
		sc.Audio.OutputDeviceName = sel.Device.Name
	case sel.Device.MaxOutputChannels > 0:
		sc.Audio.OutputDevice = &id
	default:
		sc.Audio.InputDevice = &id
	}
	sc.Playback.SampleRate = sel.SampleRate

	fmt.Fprintf(w, "# %s (%s)\n", sel.Device.Name, sel.Device.Kind())
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(sc); err != nil {
		return err
	}
	return enc.Close()
}

func (a *app) newDevicesCommand() *cobra.Command {
	var pick bool
	cmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"list"},
		Short:   "List available audio devices",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend := a.cfg.Audio.Backend
			list, err := deviceLister(backend)
			if err != nil {
				return err
			}
			if !pick {
				devices, err := list()
				if err != nil {
					return err
				}
				audio.WriteDevices(os.Stdout, devices)
				return nil
			}

			sel, ok, err := tui.StartDeviceListUI(list)
			if err != nil || !ok {
				return err
			}
			return writeSelection(os.Stdout, backend, sel)
		},
	}
	cmd.Flags().BoolVar(&pick, "tui", false, "Pick a device interactively and print its configuration")
	return cmd
}
