package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shelfline/shelfline/internal/api"
	"github.com/shelfline/shelfline/internal/auth"
	"github.com/shelfline/shelfline/internal/credential"
	"github.com/shelfline/shelfline/internal/metrics"
	"github.com/shelfline/shelfline/internal/models"
	"github.com/shelfline/shelfline/internal/notify"
	"github.com/shelfline/shelfline/internal/realtime"
	"github.com/shelfline/shelfline/internal/status"
	syncpkg "github.com/shelfline/shelfline/internal/sync"
	"github.com/shelfline/shelfline/pkg/config"
)

var (
	configFile string
	apiOrigin  string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "shelfline-syncd",
	Short: "Shelfline sync daemon",
	Long: `shelfline-syncd maintains the push channel to the Shelfline backend,
mirrors inventory and alert events into the local notification store, and
falls back to REST polling when the channel is down.`,
	RunE: runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("shelfline-syncd %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "syncd.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&apiOrigin, "api", "", "API origin (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// sessionToken resolves the bearer token: environment first, then the OS
// keyring populated by shelfctl login.
func sessionToken() (string, error) {
	if token := os.Getenv("SHELFLINE_TOKEN"); token != "" {
		return token, nil
	}
	token, err := credential.Get(credential.TokenKey)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return "", fmt.Errorf("no stored credential; run 'shelfctl login' first")
		}
		return "", err
	}
	return token, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if apiOrigin != "" {
		cfg.API.Origin = apiOrigin
	}

	token, err := sessionToken()
	if err != nil {
		return err
	}
	tokens := auth.NewTokenStoreWith(token)

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	client := api.NewClient(cfg.API.Origin, tokens)
	client.SetRequestDefaults(cfg.API.Timeout, cfg.API.Retries)
	client.SetVerbose(verbose)

	store := notify.NewStore()
	store.SetVerbose(verbose)
	defer store.Close()

	conn := realtime.NewConnManager(realtime.Config{
		Origin:               cfg.Push.Origin,
		InstanceID:           cfg.Instance.ID,
		MaxReconnectAttempts: cfg.Push.MaxReconnectAttempts,
	})
	conn.SetVerbose(verbose)
	defer conn.Disconnect()

	// Cross-cutting failure handling: surface errors as persistent
	// notifications; an authentication failure ends the session.
	client.OnError(func(e *api.Error) {
		if e.Code == api.ErrCodeAuthentication {
			log.Printf("credential rejected, ending session")
			tokens.Clear()
			conn.Disconnect()
			return
		}
		store.AddNotification(notify.NotificationSpec{
			Kind:       models.NotificationError,
			Title:      "Request failed",
			Message:    e.Message,
			Persistent: true,
		})
	})

	orch := syncpkg.New(conn, store, &syncpkg.RESTAlertSource{Client: client}, syncpkg.Config{
		Topics:              cfg.Push.Topics,
		Actor:               tokens.Subject,
		RecheckConnected:    cfg.Recheck.Connected,
		RecheckDisconnected: cfg.Recheck.Disconnected,
	})
	orch.SetVerbose(verbose)
	orch.Start()
	defer orch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	log.Printf("starting shelfline-syncd %s", config.Version)
	log.Printf("backend %s, push %s", cfg.API.Origin, cfg.Push.Origin)

	// A failed first connect is not fatal: the manager keeps retrying in
	// the background and the orchestrator polls over REST meanwhile.
	if err := conn.Connect(ctx, tokens.Get()); err != nil {
		log.Printf("initial connect failed: %v (reconnecting in background)", err)
	}

	statusSrv := status.New(cfg.Status.Listen, orch, store)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return statusSrv.Run(gctx)
	})
	g.Go(func() error {
		return watchConfig(gctx, configFile, orch, store)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Printf("syncd stopped")
	return nil
}
