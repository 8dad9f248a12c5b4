package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/potwatch/potwatch/internal/model"
)

var (
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

func newSessionsCmd() *cobra.Command {
	var (
		srcIP    string
		username string
		active   bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "sessions [id]",
		Short: "List sessions or show one in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return showSession(args[0])
			}
			return listSessions(srcIP, username, active, limit)
		},
	}
	cmd.Flags().StringVar(&srcIP, "src-ip", "", "filter by source IP")
	cmd.Flags().StringVar(&username, "username", "", "filter by username")
	cmd.Flags().BoolVar(&active, "active", false, "only active sessions")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum sessions to show")
	return cmd
}

func listSessions(srcIP, username string, active bool, limit int) error {
	query := url.Values{}
	if srcIP != "" {
		query.Set("src_ip", srcIP)
	}
	if username != "" {
		query.Set("username", username)
	}
	if active {
		query.Set("active", "true")
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Sessions []model.Session `json:"sessions"`
		Count    int             `json:"count"`
	}
	if err := getJSON("/api/sessions", query, &resp); err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Source", "Protocol", "User", "Cmds", "Files", "Risk", "State"})
	for _, s := range resp.Sessions {
		user := "-"
		if s.User != nil {
			user = s.User.Username
		}
		state := green("active")
		if !s.Active() {
			state = fmt.Sprintf("closed (%ds)", s.DurationSeconds)
		}
		table.Append([]string{
			s.ID,
			fmt.Sprintf("%s:%d", s.SrcIP, s.SrcPort),
			s.Protocol,
			user,
			strconv.Itoa(len(s.Commands)),
			strconv.Itoa(len(s.Files)),
			riskCell(s.RiskScore),
			state,
		})
	}
	table.Render()
	fmt.Printf("%d sessions\n", resp.Count)
	return nil
}

func showSession(id string) error {
	var s model.Session
	if err := getJSON("/api/sessions/"+url.PathEscape(id), nil, &s); err != nil {
		return err
	}

	fmt.Printf("Session    %s\n", cyan(s.ID))
	fmt.Printf("Source     %s:%d (%s)\n", s.SrcIP, s.SrcPort, s.Protocol)
	fmt.Printf("Started    %s\n", s.StartTime.Format(time.RFC3339))
	if s.EndTime != nil {
		fmt.Printf("Ended      %s (%ds)\n", s.EndTime.Format(time.RFC3339), s.DurationSeconds)
	} else {
		fmt.Printf("Ended      %s\n", green("still active"))
	}
	if s.ClientVersion != "" {
		fmt.Printf("Client     %s\n", s.ClientVersion)
	}
	if s.User != nil {
		result := red("failed")
		if s.User.LoginSuccess {
			result = green("success")
		}
		fmt.Printf("Login      %s / %s (%s)\n", s.User.Username, s.User.Password, result)
	}
	fmt.Printf("Risk       %s", riskCell(s.RiskScore))
	if s.Malicious {
		fmt.Printf(" %s", red("MALICIOUS"))
	}
	if s.MalwareFamily != "" {
		fmt.Printf(" [%s]", yellow(s.MalwareFamily))
	}
	fmt.Println()

	if len(s.Commands) > 0 {
		fmt.Printf("\nCommands (%d):\n", len(s.Commands))
		for _, c := range s.Commands {
			fmt.Printf("  %s  %s\n", c.Timestamp.Format("15:04:05"), c.Command)
		}
	}
	if len(s.Files) > 0 {
		fmt.Printf("\nFiles (%d):\n", len(s.Files))
		for _, f := range s.Files {
			flags := ""
			if f.Executable {
				flags += " " + yellow("executable")
			}
			if f.Malware {
				flags += " " + red("malware")
			}
			fmt.Printf("  %s %s (%d bytes)%s\n", string(f.Direction), f.Filename, f.Size, flags)
		}
	}
	return nil
}

func riskCell(score int) string {
	switch {
	case score >= 80:
		return red(strconv.Itoa(score))
	case score >= 50:
		return yellow(strconv.Itoa(score))
	default:
		return strconv.Itoa(score)
	}
}
