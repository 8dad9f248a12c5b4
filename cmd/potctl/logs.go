package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/potwatch/potwatch/internal/model"
)

func newLogsCmd() *cobra.Command {
	var (
		session       string
		eventType     string
		srcIP         string
		username      string
		search        string
		caseSensitive bool
		since         string
		until         string
		limit         int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List parsed log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if session != "" {
				query.Set("session", session)
			}
			if eventType != "" {
				query.Set("event_type", eventType)
			}
			if srcIP != "" {
				query.Set("src_ip", srcIP)
			}
			if username != "" {
				query.Set("username", username)
			}
			if search != "" {
				query.Set("q", search)
				if caseSensitive {
					query.Set("case_sensitive", "true")
				}
			}
			if since != "" {
				query.Set("since", since)
			}
			if until != "" {
				query.Set("until", until)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}

			var resp struct {
				Entries []model.LogEntry `json:"entries"`
				Count   int              `json:"count"`
			}
			if err := getJSON("/api/logs", query, &resp); err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Time", "Event", "Session", "Source", "Detail"})
			for _, e := range resp.Entries {
				table.Append([]string{
					e.Timestamp.Format("01-02 15:04:05"),
					e.EventType.Display(),
					e.Session,
					e.SrcIP,
					entryDetail(e),
				})
			}
			table.Render()
			fmt.Printf("%d entries\n", resp.Count)
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "filter by session id")
	cmd.Flags().StringVar(&eventType, "event-type", "", "filter by event type")
	cmd.Flags().StringVar(&srcIP, "src-ip", "", "filter by source IP")
	cmd.Flags().StringVar(&username, "username", "", "filter by username")
	cmd.Flags().StringVarP(&search, "search", "q", "", "search command, username, and password text")
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "case-sensitive search")
	cmd.Flags().StringVar(&since, "since", "", "only entries at or after this RFC3339 time")
	cmd.Flags().StringVar(&until, "until", "", "only entries at or before this RFC3339 time")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to show")
	return cmd
}

func entryDetail(e model.LogEntry) string {
	switch e.EventType {
	case model.EventLoginSuccess, model.EventLoginFailed, model.EventLoginAttempt:
		return fmt.Sprintf("%s / %s", e.Username, e.Password)
	case model.EventCommand:
		return e.Command
	case model.EventFileUpload, model.EventFileDownload:
		if e.File != nil {
			return e.File.Filename
		}
	}
	return ""
}
