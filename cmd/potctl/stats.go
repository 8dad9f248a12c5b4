package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show monitor statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				LogEntries      int `json:"log_entries"`
				Sessions        int `json:"sessions"`
				ActiveSessions  int `json:"active_sessions"`
				UniqueIPs       int `json:"unique_ips"`
				UniqueUsernames int `json:"unique_usernames"`
				UniquePasswords int `json:"unique_passwords"`
				Alerts          int `json:"alerts"`
				UnackedAlerts   int `json:"unacked_alerts"`
			}
			if err := getJSON("/api/stats", nil, &resp); err != nil {
				return err
			}

			fmt.Printf("Log entries       %d\n", resp.LogEntries)
			fmt.Printf("Sessions          %d (%s active)\n", resp.Sessions, green(resp.ActiveSessions))
			fmt.Printf("Unique source IPs %d\n", resp.UniqueIPs)
			fmt.Printf("Unique usernames  %d\n", resp.UniqueUsernames)
			fmt.Printf("Unique passwords  %d\n", resp.UniquePasswords)
			fmt.Printf("Alerts            %d (%s unacknowledged)\n", resp.Alerts, yellow(resp.UnackedAlerts))
			return nil
		},
	}
}
