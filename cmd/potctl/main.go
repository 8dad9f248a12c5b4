// Command potctl queries a running potwatch instance.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverAddr string

func main() {
	root := &cobra.Command{
		Use:   "potctl",
		Short: "Query and manage a running potwatch monitor",
		Long: `potctl talks to the potwatch HTTP API to inspect honeypot sessions,
log entries, and alerts from the command line.`,
		SilenceUsage: true,
	}

	defaultServer := os.Getenv("POTWATCH_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8084"
	}
	root.PersistentFlags().StringVar(&serverAddr, "server", defaultServer,
		"potwatch API address (or POTWATCH_SERVER)")

	root.AddCommand(newSessionsCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newAlertsCmd())
	root.AddCommand(newStatsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
