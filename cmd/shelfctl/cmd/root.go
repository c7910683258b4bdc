// Package cmd contains the CLI commands for shelfctl.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shelfline/shelfline/internal/api"
	"github.com/shelfline/shelfline/internal/auth"
	"github.com/shelfline/shelfline/internal/credential"
)

var (
	// Used for flags
	apiOrigin  string
	statusAddr string
	verbose    bool
	output     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shelfctl",
	Short: "Shelfline - Inventory sync operator CLI",
	Long: `shelfctl operates the Shelfline sync daemon and backend session.

Examples:
  # Acquire and store a session credential
  shelfctl login

  # Show daemon and session status
  shelfctl status

  # List unacknowledged alerts
  shelfctl alerts

  # Trigger a manual alert re-check
  shelfctl check`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiOrigin, "api", "", "API origin (defaults to $SHELFLINE_API)")
	rootCmd.PersistentFlags().StringVar(&statusAddr, "status-addr", "http://127.0.0.1:9480", "syncd status endpoint")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// origin resolves the backend API origin from flag or environment.
func origin() (string, error) {
	if apiOrigin != "" {
		return apiOrigin, nil
	}
	if env := os.Getenv("SHELFLINE_API"); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("no API origin: pass --api or set SHELFLINE_API")
}

// sessionTokens loads the stored credential into a token store. Missing
// credentials yield an empty store; commands that need auth fail on 401.
func sessionTokens() *auth.TokenStore {
	token, err := credential.Get(credential.TokenKey)
	if err != nil {
		return auth.NewTokenStore()
	}
	return auth.NewTokenStoreWith(token)
}

// newClient builds a request executor for the backend.
func newClient() (*api.Client, error) {
	base, err := origin()
	if err != nil {
		return nil, err
	}
	c := api.NewClient(base, sessionTokens())
	c.SetVerbose(verbose)
	return c, nil
}

// newStatusClient builds a request executor for the local daemon endpoint.
func newStatusClient() *api.Client {
	c := api.NewClient(statusAddr, auth.NewTokenStore())
	c.SetVerbose(verbose)
	return c
}
