package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/shelfline/shelfline/internal/api"
	"github.com/shelfline/shelfline/internal/credential"
)

var loginUsername string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Acquire and store a session credential",
	Long: `Authenticates against the Shelfline backend and stores the returned
bearer token in the OS keyring, where both shelfctl and shelfline-syncd
read it.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := credential.Delete(credential.TokenKey); err != nil {
			return fmt.Errorf("remove credential: %w", err)
		}
		fmt.Println("Credential removed.")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "username (prompted if omitted)")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	username := loginUsername
	if username == "" {
		fmt.Print("Username: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return fmt.Errorf("username is required")
	}

	password, err := promptPassword("Password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	resp, err := client.Execute(context.Background(), "/api/auth/login", api.Options{
		Method: http.MethodPost,
		Body: map[string]string{
			"username": username,
			"password": password,
		},
		SkipAuth:          true,
		SkipErrorHandling: true,
	})
	if err != nil {
		if api.CodeOf(err) == api.ErrCodeAuthentication {
			return fmt.Errorf("invalid username or password")
		}
		return fmt.Errorf("login: %w", err)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := resp.JSON(&body); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if body.Token == "" {
		return fmt.Errorf("login response carried no token")
	}

	if err := credential.Set(credential.TokenKey, body.Token); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}

	fmt.Printf("Logged in as %s. Credential stored in the OS keyring.\n", username)
	return nil
}

// promptPassword prompts for a password without echoing to the terminal.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := syscall.Stdin
	if term.IsTerminal(fd) {
		passwordBytes, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(passwordBytes), nil
	}

	// Fallback for non-terminal input (e.g., piped input)
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(password), nil
}
