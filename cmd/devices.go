package cmd

import (
	"fmt"
	"os/exec"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ziadeh/flowrecap/internal/device"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio capture devices",
	Long: `List the audio devices the recorder can capture from, with their
native sample rates where the platform exposes them. Playback-only
devices are listed so a misconfigured system_audio_device is easy to
spot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := exec.LookPath(cfg.Recorder.Binary); err != nil {
			return fmt.Errorf("recorder binary %q not found in PATH; install it first", cfg.Recorder.Binary)
		}

		resolver := device.NewResolver(nil)
		devices, err := resolver.List()
		if err != nil {
			return fmt.Errorf("device enumeration failed: %w", err)
		}
		if len(devices) == 0 {
			fmt.Println("No capture devices found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tRATE\tCHANNELS\tNOTES")
		for _, d := range devices {
			rate := "-"
			if d.NativeRate > 0 {
				rate = fmt.Sprintf("%d Hz", d.NativeRate)
			}
			channels := "-"
			if d.Channels > 0 {
				channels = fmt.Sprintf("%d", d.Channels)
			}
			notes := ""
			if d.OutputOnly {
				notes = "playback only"
			} else if device.LooksVirtual(d.Name) {
				notes = "loopback/virtual"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Name, rate, channels, notes)
		}
		return w.Flush()
	},
}
