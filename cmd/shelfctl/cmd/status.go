package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shelfline/shelfline/internal/api"
	"github.com/shelfline/shelfline/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon connection state and session health",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type daemonStatus struct {
	Version       string                  `json:"version"`
	Connection    models.ConnectionStatus `json:"connection"`
	Notifications int                     `json:"notifications"`
	Alerts        int                     `json:"alerts"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := newStatusClient()

	resp, err := client.Execute(context.Background(), "/status", api.Options{
		SkipAuth:          true,
		SkipErrorHandling: true,
		Timeout:           5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("syncd unreachable at %s: %w", statusAddr, err)
	}

	var st daemonStatus
	if err := resp.JSON(&st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	if GetOutput() == "json" {
		data, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	channel := "disconnected"
	switch {
	case st.Connection.Connected:
		channel = "connected"
	case st.Connection.Connecting:
		channel = fmt.Sprintf("reconnecting (%d/%d)",
			st.Connection.ReconnectAttempts, st.Connection.MaxReconnectAttempts)
	}

	fmt.Printf("syncd:         %s\n", st.Version)
	fmt.Printf("push channel:  %s\n", channel)
	fmt.Printf("notifications: %d\n", st.Notifications)
	fmt.Printf("alerts:        %d\n", st.Alerts)

	tokens := sessionTokens()
	if !tokens.HasToken() {
		fmt.Println("session:       no stored credential (run 'shelfctl login')")
		return nil
	}
	if exp, ok := tokens.ExpiresAt(); ok {
		if time.Now().After(exp) {
			fmt.Printf("session:       expired %s\n", exp.Format(time.RFC3339))
		} else {
			fmt.Printf("session:       %s, expires %s\n", tokens.Subject(), exp.Format(time.RFC3339))
		}
	} else {
		fmt.Printf("session:       %s\n", tokens.Subject())
	}
	return nil
}
