package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shelfline/shelfline/internal/models"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a manual alert re-check",
	Long: `Fetches the backend's authoritative alert state immediately instead
of waiting for the next periodic re-check, and prints a summary.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	alerts, err := fetchAlerts(client)
	if err != nil {
		return err
	}

	counts := make(map[models.Severity]int)
	for _, a := range alerts {
		counts[models.ParseSeverity(a.Severity)]++
	}

	fmt.Printf("%d alerts", len(alerts))
	if len(alerts) > 0 {
		fmt.Printf(" (critical %d, high %d, medium %d, low %d)",
			counts[models.SeverityCritical], counts[models.SeverityHigh],
			counts[models.SeverityMedium], counts[models.SeverityLow])
	}
	fmt.Println()
	return nil
}
