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

func newAlertsCmd() *cobra.Command {
	var unackedOnly bool

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if unackedOnly {
				query.Set("unacked", "true")
			}

			var resp struct {
				Alerts []model.Alert `json:"alerts"`
				Count  int           `json:"count"`
			}
			if err := getJSON("/api/alerts", query, &resp); err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"#", "Time", "Kind", "Source", "Message", "Ack"})
			for i, a := range resp.Alerts {
				ack := ""
				if a.Acknowledged {
					ack = green("yes")
				}
				table.Append([]string{
					strconv.Itoa(i),
					a.Timestamp.Format("01-02 15:04:05"),
					alertKindCell(a.Kind),
					a.SrcIP,
					a.Message,
					ack,
				})
			}
			table.Render()
			fmt.Printf("%d alerts\n", resp.Count)
			return nil
		},
	}
	cmd.Flags().BoolVar(&unackedOnly, "unacked", false, "only unacknowledged alerts")

	cmd.AddCommand(newAlertsAckCmd())
	cmd.AddCommand(newAlertsClearCmd())
	return cmd
}

func newAlertsAckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack <index>",
		Short: "Acknowledge one alert by index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid alert index %q", args[0])
			}
			if err := postJSON("/api/alerts/"+strconv.Itoa(index)+"/ack", nil, nil); err != nil {
				return err
			}
			fmt.Printf("alert %d acknowledged\n", index)
			return nil
		},
	}
}

func newAlertsClearCmd() *cobra.Command {
	var acknowledgedOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if acknowledgedOnly {
				query.Set("acknowledged_only", "true")
			}
			var resp struct {
				Removed int `json:"removed"`
			}
			if err := postJSON("/api/alerts/clear", query, &resp); err != nil {
				return err
			}
			fmt.Printf("%d alerts cleared\n", resp.Removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&acknowledgedOnly, "acked", false, "only clear acknowledged alerts")
	return cmd
}

func alertKindCell(kind model.AlertKind) string {
	switch kind {
	case model.AlertHighRisk, model.AlertBlacklistedIP:
		return red(string(kind))
	case model.AlertSuspiciousCommand, model.AlertFileUpload:
		return yellow(string(kind))
	default:
		return string(kind)
	}
}
