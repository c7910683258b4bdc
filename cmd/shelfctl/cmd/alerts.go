package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/spf13/cobra"

	"github.com/shelfline/shelfline/internal/api"
	"github.com/shelfline/shelfline/internal/models"
)

var (
	alertsAll      bool
	alertsCritical bool
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List backend alerts",
	Long: `Lists the backend's current alerts, unacknowledged only by default,
ordered by severity.`,
	RunE: runAlerts,
}

var ackCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAck,
}

func init() {
	alertsCmd.Flags().BoolVarP(&alertsAll, "all", "a", false, "include acknowledged alerts")
	alertsCmd.Flags().BoolVar(&alertsCritical, "critical", false, "critical alerts only")
	alertsCmd.AddCommand(ackCmd)
	rootCmd.AddCommand(alertsCmd)
}

func fetchAlerts(client *api.Client) ([]models.AlertEvent, error) {
	resp, err := client.Execute(context.Background(), "/api/alerts", api.Options{
		SkipErrorHandling: true,
		Retries:           2,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch alerts: %w", err)
	}

	var body struct {
		Alerts []models.AlertEvent `json:"alerts"`
	}
	if err := resp.JSON(&body); err != nil {
		return nil, fmt.Errorf("decode alert list: %w", err)
	}
	return body.Alerts, nil
}

func runAlerts(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	alerts, err := fetchAlerts(client)
	if err != nil {
		return err
	}

	filtered := alerts[:0]
	for _, a := range alerts {
		if !alertsAll && a.Acknowledged {
			continue
		}
		if alertsCritical && models.ParseSeverity(a.Severity) != models.SeverityCritical {
			continue
		}
		filtered = append(filtered, a)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return models.ParseSeverity(filtered[i].Severity).Rank() >
			models.ParseSeverity(filtered[j].Severity).Rank()
	})

	if GetOutput() == "json" {
		data, _ := json.MarshalIndent(filtered, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	if len(filtered) == 0 {
		fmt.Println("No alerts.")
		return nil
	}
	fmt.Printf("%-24s %-16s %-10s %-5s %s\n", "ID", "KIND", "SEVERITY", "ACK", "TITLE")
	for _, a := range filtered {
		ack := ""
		if a.Acknowledged {
			ack = "yes"
		}
		fmt.Printf("%-24s %-16s %-10s %-5s %s\n", a.ID, a.Kind, a.Severity, ack, a.Title)
	}
	return nil
}

func runAck(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("/api/alerts/%s/acknowledge", args[0])
	_, err = client.Execute(context.Background(), endpoint, api.Options{
		Method:            http.MethodPost,
		SkipErrorHandling: true,
	})
	if err != nil {
		if api.CodeOf(err) == api.ErrCodeNotFound {
			return fmt.Errorf("no alert with id %s", args[0])
		}
		return fmt.Errorf("acknowledge alert: %w", err)
	}

	fmt.Printf("Alert %s acknowledged.\n", args[0])
	return nil
}
