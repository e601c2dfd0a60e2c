package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadeh/flowrecap/internal/session"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a meeting until interrupted",
	Long: `Start recording immediately and keep going until Ctrl+C (or until
--duration elapses). The WAV file is finalized on stop; its header is
also patched continuously, so even a hard crash leaves playable audio.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		sessionID, _ := cmd.Flags().GetString("session-id")

		controller := session.NewController(cfg)

		info, err := controller.Start(sessionID)
		if err != nil {
			return err
		}
		fmt.Printf("Recording to %s (session %s)\n", info.FilePath, info.SessionID)
		for _, w := range info.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}

		// Surface health problems on the terminal while recording.
		events, cancelHealth := controller.Health()
		defer cancelHealth()
		go func() {
			for ev := range events {
				fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", ev.Status, ev.Code, ev.Message)
			}
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		var timeout <-chan time.Time
		if duration > 0 {
			timeout = time.After(duration)
		}

		select {
		case <-sig:
			fmt.Println("\nStopping...")
		case <-timeout:
			fmt.Println("Duration reached, stopping...")
		}

		res := controller.Stop()
		if !res.Success {
			return fmt.Errorf("recording finished with errors: %s", res.Error)
		}
		fmt.Printf("Saved %s (%s)\n", res.FilePath, res.Duration.Truncate(time.Second))
		return nil
	},
}

func init() {
	recordCmd.Flags().Duration("duration", 0, "stop automatically after this long (0 = until interrupted)")
	recordCmd.Flags().String("session-id", "", "session identifier (default: generated)")
}
