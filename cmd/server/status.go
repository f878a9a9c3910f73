package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Poll a running server's /api/health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = "http://127.0.0.1:8080"
			}
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(addr + "/api/health")
			if err != nil {
				exitWith(exitGeneric, "status: %v", err)
				return nil
			}
			defer resp.Body.Close()

			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				exitWith(exitGeneric, "status: decode response: %v", err)
				return nil
			}

			fmt.Printf("status=%v http_status=%d\n", body["status"], resp.StatusCode)
			if resp.StatusCode != http.StatusOK {
				exitWith(exitStoreUnavailable, "")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "base URL of the control plane (default http://127.0.0.1:8080)")
	return cmd
}
