package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running flowrecap serve instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := fmt.Sprintf("http://localhost:%d/api/status", cfg.Server.Port)
		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(url)
		if err != nil {
			return fmt.Errorf("no server reachable at %s (is 'flowrecap serve' running?): %w", url, err)
		}
		defer resp.Body.Close()

		var st struct {
			State          string   `json:"state"`
			SessionID      string   `json:"session_id"`
			FilePath       string   `json:"file_path"`
			ElapsedSeconds float64  `json:"elapsed_seconds"`
			Warnings       []string `json:"warnings"`
			Health         *struct {
				Status             string `json:"status"`
				LastDataAgeMs      int64  `json:"last_data_age_ms"`
				TotalBytesReceived int64  `json:"total_bytes_received"`
			} `json:"health"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}

		fmt.Printf("State:    %s\n", st.State)
		if st.SessionID != "" {
			fmt.Printf("Session:  %s\n", st.SessionID)
			fmt.Printf("File:     %s\n", st.FilePath)
			fmt.Printf("Elapsed:  %s\n", (time.Duration(st.ElapsedSeconds * float64(time.Second))).Truncate(time.Second))
		}
		if st.Health != nil {
			fmt.Printf("Health:   %s (%d bytes received, last data %dms ago)\n",
				st.Health.Status, st.Health.TotalBytesReceived, st.Health.LastDataAgeMs)
		}
		for _, w := range st.Warnings {
			fmt.Printf("Warning:  %s\n", w)
		}
		return nil
	},
}
